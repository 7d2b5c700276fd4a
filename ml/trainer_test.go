package ml

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestTrainerReproducible(t *testing.T) {
	features, targets, preprocessor, err := PrepareData(syntheticRecords(140))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	trainer := NewTrainer(smallTrainerConfig(), nil)

	first, err := trainer.Train(context.Background(), features, targets, preprocessor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := trainer.Train(context.Background(), features, targets, preprocessor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.BestParams != second.BestParams {
		t.Fatalf("best params differ: %+v vs %+v", first.BestParams, second.BestParams)
	}
	if math.Abs(first.TestMSE-second.TestMSE) > 1e-12 {
		t.Fatalf("test mse differs: %v vs %v", first.TestMSE, second.TestMSE)
	}
	if first.TrainSamples != 112 || first.TestSamples != 28 {
		t.Fatalf("unexpected split sizes %d/%d", first.TrainSamples, first.TestSamples)
	}
	if len(first.CVResults) != 4 {
		t.Fatalf("expected 4 cv results, got %d", len(first.CVResults))
	}
	if first.TestMSE > 0.001 {
		t.Errorf("test mse %v unexpectedly high for a noiseless target", first.TestMSE)
	}
}

// With dyadic targets fixed by is_weekend every tree reproduces the targets
// exactly, so every candidate scores 0 and the first combination in grid
// order must win.
func TestTrainerMatchesRecordedBaseline(t *testing.T) {
	records := syntheticRecords(280)
	for i := range records {
		records[i].DiscountRate = 0.125
		if records[i].IsWeekend == "true" {
			records[i].DiscountRate = 0.375
		}
	}
	features, targets, preprocessor, err := PrepareData(records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := NewTrainer(smallTrainerConfig(), nil).Train(context.Background(), features, targets, preprocessor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantParams := ForestParams{NEstimators: 5, MaxDepth: 0, MinSamplesSplit: 2, Seed: 42}
	if result.BestParams != wantParams {
		t.Errorf("best params = %+v, want %+v", result.BestParams, wantParams)
	}
	if result.CVMSE != 0 || result.TestMSE != 0 {
		t.Errorf("cv mse = %v, test mse = %v, want 0 and 0", result.CVMSE, result.TestMSE)
	}
	if result.TrainSamples != 224 || result.TestSamples != 56 {
		t.Errorf("split sizes = %d/%d, want 224/56", result.TrainSamples, result.TestSamples)
	}
	for _, cv := range result.CVResults {
		if cv.MeanMSE != 0 {
			t.Errorf("%s mean mse = %v, want 0", cv.Params, cv.MeanMSE)
		}
	}
}

func TestTrainerScenarioPrediction(t *testing.T) {
	records := syntheticRecords(140)
	records = append(records, TrainingRecord{
		FeatureRecord: FeatureRecord{
			Duration:      30,
			Cost:          5.0,
			OccupancyRate: 0.8,
			TimeOfDay:     14,
			DayOfWeek:     "Mon",
			IsWeekend:     "false",
		},
		Timestamp:    "2024-01-01T14:00:00",
		DiscountRate: 0.1,
	})
	features, targets, preprocessor, err := PrepareData(records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := NewTrainer(smallTrainerConfig(), nil).Train(context.Background(), features, targets, preprocessor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	request := FeatureRecord{
		Duration:      30,
		Cost:          5.0,
		OccupancyRate: 0.8,
		TimeOfDay:     14,
		DayOfWeek:     "Mon",
		IsWeekend:     "false",
	}
	got, err := result.Pipeline.Predict(request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(got-0.1) > 0.03 {
		t.Fatalf("prediction %v not close to 0.1", got)
	}

	again, _ := result.Pipeline.Predict(request)
	if again != got {
		t.Fatalf("predict must be pure: %v then %v", got, again)
	}

	request.DayOfWeek = "Holiday"
	if _, err := result.Pipeline.Predict(request); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestTrainerInsufficientSamples(t *testing.T) {
	features, targets, preprocessor, _ := PrepareData(syntheticRecords(5))
	_, err := NewTrainer(smallTrainerConfig(), nil).Train(context.Background(), features, targets, preprocessor)
	if !errors.Is(err, ErrInsufficientSamples) {
		t.Fatalf("expected ErrInsufficientSamples, got %v", err)
	}
}

func TestTrainerUnseenCategoryIsFatal(t *testing.T) {
	records := syntheticRecords(70)
	// the only "Holiday" row lands in exactly one validation fold, where the
	// fold's encoder has never seen it
	records[3].DayOfWeek = "Holiday"
	features, targets, preprocessor, _ := PrepareData(records)
	cfg := smallTrainerConfig()
	cfg.TestRatio = 0.01
	_, err := NewTrainer(cfg, nil).Train(context.Background(), features, targets, preprocessor)
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}
