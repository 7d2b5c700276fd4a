package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// TrainTestSplit shuffles row indices with a seeded generator and holds out
// ceil(testRatio*n) of them.
func TrainTestSplit(n int, testRatio float64, seed int64) (train []int, test []int, err error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, fmt.Errorf("test ratio %v must be in (0, 1)", testRatio)
	}
	nTest := int(math.Ceil(testRatio * float64(n)))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 1 {
		return nil, nil, fmt.Errorf("%w: %d rows cannot be split with test ratio %v", ErrInsufficientSamples, n, testRatio)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

type Fold struct {
	Train      []int
	Validation []int
}

// KFold splits positions 0..n-1 into k contiguous folds without shuffling;
// the first n%k folds are one row larger.
func KFold(n, k int) ([]Fold, error) {
	if k < 2 {
		return nil, errors.New("k must be at least 2")
	}
	if n < k {
		return nil, fmt.Errorf("%w: %d rows for %d folds", ErrInsufficientSamples, n, k)
	}
	folds := make([]Fold, 0, k)
	start := 0
	for i := 0; i < k; i++ {
		size := n / k
		if i < n%k {
			size++
		}
		end := start + size
		fold := Fold{
			Train:      make([]int, 0, n-size),
			Validation: make([]int, 0, size),
		}
		for j := 0; j < n; j++ {
			if j >= start && j < end {
				fold.Validation = append(fold.Validation, j)
			} else {
				fold.Train = append(fold.Train, j)
			}
		}
		folds = append(folds, fold)
		start = end
	}
	return folds, nil
}

func MeanSquaredError(actual, predicted []float64) (float64, error) {
	if len(actual) == 0 {
		return 0, errors.New("no values")
	}
	if len(actual) != len(predicted) {
		return 0, errors.New("actual and predicted size mismatch")
	}
	d := floats.Distance(actual, predicted, 2)
	return d * d / float64(len(actual)), nil
}

func selectRecords(records []FeatureRecord, indices []int) []FeatureRecord {
	out := make([]FeatureRecord, len(indices))
	for i, idx := range indices {
		out[i] = records[idx]
	}
	return out
}

func selectTargets(targets []float64, indices []int) []float64 {
	out := make([]float64, len(indices))
	for i, idx := range indices {
		out[i] = targets[idx]
	}
	return out
}
