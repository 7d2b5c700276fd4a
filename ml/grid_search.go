package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ParamGrid lists candidate forest hyperparameters. A MaxDepth of 0 stands
// for an unbounded tree.
type ParamGrid struct {
	NEstimators     []int `yaml:"n_estimators" json:"n_estimators"`
	MaxDepth        []int `yaml:"max_depth" json:"max_depth"`
	MinSamplesSplit []int `yaml:"min_samples_split" json:"min_samples_split"`
}

func DefaultParamGrid() ParamGrid {
	return ParamGrid{
		NEstimators:     []int{50, 100, 200},
		MaxDepth:        []int{0, 10, 20},
		MinSamplesSplit: []int{2, 5, 10},
	}
}

func (g ParamGrid) Size() int {
	return len(g.NEstimators) * len(g.MaxDepth) * len(g.MinSamplesSplit)
}

func (g ParamGrid) Validate() error {
	if g.Size() == 0 {
		return errors.New("parameter grid is empty")
	}
	for _, n := range g.NEstimators {
		if n <= 0 {
			return fmt.Errorf("n_estimators %d must be positive", n)
		}
	}
	for _, d := range g.MaxDepth {
		if d < 0 {
			return fmt.Errorf("max_depth %d must be >= 0", d)
		}
	}
	for _, s := range g.MinSamplesSplit {
		if s < 2 {
			return fmt.Errorf("min_samples_split %d must be >= 2", s)
		}
	}
	return nil
}

// Combinations enumerates the grid with parameter names in alphabetical
// order, the last one varying fastest: max_depth, min_samples_split,
// n_estimators.
func (g ParamGrid) Combinations(seed int64) []ForestParams {
	dimensions := [][]int{g.MaxDepth, g.MinSamplesSplit, g.NEstimators}
	combinations := make([]ForestParams, 0, g.Size())
	current := make([]int, len(dimensions))

	var generate func(index int)
	generate = func(index int) {
		if index == len(dimensions) {
			combinations = append(combinations, ForestParams{
				MaxDepth:        current[0],
				MinSamplesSplit: current[1],
				NEstimators:     current[2],
				Seed:            seed,
			})
			return
		}
		for _, value := range dimensions[index] {
			current[index] = value
			generate(index + 1)
		}
	}
	generate(0)
	return combinations
}

type CVResult struct {
	Params   ForestParams  `json:"params"`
	FoldMSE  []float64     `json:"fold_mse"`
	MeanMSE  float64       `json:"mean_mse"`
	Duration time.Duration `json:"duration"`
}

type GridSearchResult struct {
	BestParams   ForestParams `json:"best_params"`
	BestScore    float64      `json:"best_score"`
	BestPipeline *Pipeline    `json:"-"`
	Results      []CVResult   `json:"results"`
}

// GridSearch picks the combination with the lowest mean k-fold MSE and refits
// it on all rows it was given.
type GridSearch struct {
	Grid    ParamGrid
	Folds   int
	Seed    int64
	Workers int
	Logger  *zap.Logger
}

func (gs *GridSearch) Fit(ctx context.Context, records []FeatureRecord, targets []float64, preprocessor *ColumnTransformer) (*GridSearchResult, error) {
	if len(records) != len(targets) {
		return nil, errors.New("records and targets size mismatch")
	}
	if err := gs.Grid.Validate(); err != nil {
		return nil, err
	}
	logger := gs.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	folds, err := KFold(len(records), gs.Folds)
	if err != nil {
		return nil, err
	}
	combinations := gs.Grid.Combinations(gs.Seed)
	logger.Info("grid search started",
		zap.Int("combinations", len(combinations)),
		zap.Int("folds", len(folds)),
		zap.Int("fits", len(combinations)*len(folds)))

	results := make([]CVResult, 0, len(combinations))
	bestIdx := -1
	for i, params := range combinations {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("grid search cancelled: %w", err)
		}
		started := time.Now()

		result := CVResult{Params: params, FoldMSE: make([]float64, len(folds))}
		for f, fold := range folds {
			mse, err := fitAndScore(ctx, preprocessor.Clone(), params, gs.Workers, records, targets, fold)
			if err != nil {
				return nil, fmt.Errorf("params %s fold %d: %w", params, f, err)
			}
			result.FoldMSE[f] = mse
			result.MeanMSE += mse
		}
		result.MeanMSE /= float64(len(folds))
		result.Duration = time.Since(started)
		results = append(results, result)

		if bestIdx == -1 || result.MeanMSE < results[bestIdx].MeanMSE {
			bestIdx = i
		}
		logger.Debug("grid search progress",
			zap.Stringer("params", params),
			zap.Float64("mean_mse", result.MeanMSE),
			zap.Float64("progress_pct", float64(i+1)/float64(len(combinations))*100),
			zap.Float64("best_mse", results[bestIdx].MeanMSE))
	}

	best := results[bestIdx].Params
	pipeline := NewPipeline(preprocessor.Clone(), best)
	pipeline.Model.Workers = gs.Workers
	if err := pipeline.Fit(ctx, records, targets); err != nil {
		return nil, fmt.Errorf("refit best params %s: %w", best, err)
	}

	logger.Info("grid search completed",
		zap.Stringer("best_params", best),
		zap.Float64("best_cv_mse", results[bestIdx].MeanMSE))

	return &GridSearchResult{
		BestParams:   best,
		BestScore:    results[bestIdx].MeanMSE,
		BestPipeline: pipeline,
		Results:      results,
	}, nil
}

func fitAndScore(ctx context.Context, preprocessor *ColumnTransformer, params ForestParams, workers int, records []FeatureRecord, targets []float64, fold Fold) (float64, error) {
	pipeline := NewPipeline(preprocessor, params)
	pipeline.Model.Workers = workers
	if err := pipeline.Fit(ctx, selectRecords(records, fold.Train), selectTargets(targets, fold.Train)); err != nil {
		return 0, err
	}
	predictions, err := pipeline.PredictBatch(selectRecords(records, fold.Validation))
	if err != nil {
		return 0, err
	}
	return MeanSquaredError(selectTargets(targets, fold.Validation), predictions)
}
