package ml

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
)

type ForestParams struct {
	NEstimators     int   `json:"n_estimators" yaml:"n_estimators"`
	MaxDepth        int   `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split" yaml:"min_samples_split"`
	Seed            int64 `json:"seed" yaml:"seed"`
}

func (p ForestParams) String() string {
	depth := "None"
	if p.MaxDepth > 0 {
		depth = fmt.Sprintf("%d", p.MaxDepth)
	}
	return fmt.Sprintf("{max_depth: %s, min_samples_split: %d, n_estimators: %d}", depth, p.MinSamplesSplit, p.NEstimators)
}

// RandomForest averages bootstrap-trained regression trees. Every split
// considers all features.
type RandomForest struct {
	Params    ForestParams      `json:"params"`
	NFeatures int               `json:"n_features"`
	Trees     []*RegressionTree `json:"trees"`
	// Workers bounds parallel tree fitting; 0 means GOMAXPROCS. Not persisted.
	Workers int `json:"-"`
}

var _ Regressor = (*RandomForest)(nil)

func NewRandomForest(params ForestParams) *RandomForest {
	return &RandomForest{Params: params}
}

func (rf *RandomForest) Fit(ctx context.Context, features [][]float64, targets []float64) error {
	if len(features) == 0 || len(targets) == 0 {
		return fmt.Errorf("%w: features or targets empty", ErrInsufficientSamples)
	}
	if len(features) != len(targets) {
		return errors.New("features and targets size mismatch")
	}
	if rf.Params.NEstimators <= 0 {
		return errors.New("n_estimators must be positive")
	}

	// Seeds are drawn up front so the result does not depend on scheduling.
	master := rand.New(rand.NewSource(rf.Params.Seed))
	seeds := make([]int64, rf.Params.NEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	treeParams := TreeParams{
		MaxDepth:        rf.Params.MaxDepth,
		MinSamplesSplit: rf.Params.MinSamplesSplit,
		MinSamplesLeaf:  1,
	}
	trees := make([]*RegressionTree, rf.Params.NEstimators)

	workers := rf.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range trees {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rnd := rand.New(rand.NewSource(seeds[i]))
			sample := make([]int, len(features))
			for j := range sample {
				sample[j] = rnd.Intn(len(features))
			}
			tree := &RegressionTree{}
			if err := tree.Train(features, targets, sample, treeParams); err != nil {
				return fmt.Errorf("tree %d: %w", i, err)
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.Trees = trees
	rf.NFeatures = len(features[0])
	return nil
}

func (rf *RandomForest) Predict(features []float64) (float64, error) {
	if len(rf.Trees) == 0 {
		return 0, ErrNotFitted
	}
	if len(features) != rf.NFeatures {
		return 0, fmt.Errorf("%w: got %d features, want %d", ErrSchemaMismatch, len(features), rf.NFeatures)
	}
	sum := 0.0
	for _, tree := range rf.Trees {
		v, err := tree.Predict(features)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / float64(len(rf.Trees)), nil
}
