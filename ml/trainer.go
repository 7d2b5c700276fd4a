package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type TrainerConfig struct {
	TestRatio float64
	Seed      int64
	Folds     int
	Grid      ParamGrid
	Workers   int
}

func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		TestRatio: 0.2,
		Seed:      42,
		Folds:     5,
		Grid:      DefaultParamGrid(),
	}
}

type TrainingResult struct {
	Pipeline     *Pipeline
	BestParams   ForestParams
	CVMSE        float64
	TestMSE      float64
	CVResults    []CVResult
	TrainSamples int
	TestSamples  int
	Duration     time.Duration
}

type Trainer struct {
	config TrainerConfig
	logger *zap.Logger
}

func NewTrainer(config TrainerConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{config: config, logger: logger}
}

// Train splits the data, selects forest hyperparameters by cross-validated
// grid search on the training part, and scores the refitted pipeline on the
// held-out part. Any failure aborts the run.
func (t *Trainer) Train(ctx context.Context, records []FeatureRecord, targets []float64, preprocessor *ColumnTransformer) (*TrainingResult, error) {
	if len(records) != len(targets) {
		return nil, errors.New("records and targets size mismatch")
	}
	if preprocessor == nil {
		return nil, errors.New("preprocessor is required")
	}
	started := time.Now()

	trainIdx, testIdx, err := TrainTestSplit(len(records), t.config.TestRatio, t.config.Seed)
	if err != nil {
		return nil, err
	}
	trainX, trainY := selectRecords(records, trainIdx), selectTargets(targets, trainIdx)
	testX, testY := selectRecords(records, testIdx), selectTargets(targets, testIdx)
	t.logger.Info("dataset split",
		zap.Int("train", len(trainX)),
		zap.Int("test", len(testX)),
		zap.Int64("seed", t.config.Seed))

	search := &GridSearch{
		Grid:    t.config.Grid,
		Folds:   t.config.Folds,
		Seed:    t.config.Seed,
		Workers: t.config.Workers,
		Logger:  t.logger,
	}
	result, err := search.Fit(ctx, trainX, trainY, preprocessor)
	if err != nil {
		return nil, err
	}

	predictions, err := result.BestPipeline.PredictBatch(testX)
	if err != nil {
		return nil, fmt.Errorf("evaluate test split: %w", err)
	}
	testMSE, err := MeanSquaredError(testY, predictions)
	if err != nil {
		return nil, err
	}

	return &TrainingResult{
		Pipeline:     result.BestPipeline,
		BestParams:   result.BestParams,
		CVMSE:        result.BestScore,
		TestMSE:      testMSE,
		CVResults:    result.Results,
		TrainSamples: len(trainX),
		TestSamples:  len(testX),
		Duration:     time.Since(started),
	}, nil
}
