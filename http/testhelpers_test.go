package http

import (
	"context"
	"strconv"
	"testing"
	"time"

	"smartpark/ml"
)

// trainArtifact fits a small forest on a deterministic grid of records.
// day_of_week covers 0..6 and is_weekend 0/1.
func trainArtifact(t *testing.T) *ml.Artifact {
	t.Helper()

	var records []ml.TrainingRecord
	for i := 0; i < 140; i++ {
		day := i % 7
		weekend := "0"
		if day >= 5 {
			weekend = "1"
		}
		occupancy := float64((i * 37) % 100)
		rate := 0.3 - 0.0025*occupancy
		if weekend == "1" {
			rate += 0.02
		}
		records = append(records, ml.TrainingRecord{
			FeatureRecord: ml.FeatureRecord{
				Duration:      float64(30 + (i*13)%180),
				Cost:          float64(5 + (i*7)%20),
				OccupancyRate: occupancy,
				TimeOfDay:     float64((i * 5) % 24),
				DayOfWeek:     strconv.Itoa(day),
				IsWeekend:     weekend,
			},
			DiscountRate: rate,
		})
	}

	features, targets, preprocessor, err := ml.PrepareData(records)
	if err != nil {
		t.Fatal(err)
	}
	pipeline := ml.NewPipeline(preprocessor, ml.ForestParams{NEstimators: 10, Seed: 42})
	if err := pipeline.Fit(context.Background(), features, targets); err != nil {
		t.Fatal(err)
	}

	artifact := &ml.Artifact{
		FormatVersion: ml.ArtifactFormatVersion,
		Kind:          ml.ArtifactKind,
		RunID:         "test-run",
		TrainedAt:     time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC),
		Schema:        pipeline.Preprocessor.Schema(),
		BestParams:    pipeline.Model.Params,
		TrainSamples:  len(records),
		Pipeline:      pipeline,
	}
	if err := artifact.Validate(); err != nil {
		t.Fatal(err)
	}
	return artifact
}
