package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	ArtifactFormatVersion = 1
	ArtifactKind          = "smartpark.discount_rate.random_forest"
)

// Artifact is the single persisted unit: the fitted pipeline plus enough
// metadata to refuse a file this build cannot serve.
type Artifact struct {
	FormatVersion int          `json:"format_version"`
	Kind          string       `json:"kind"`
	RunID         string       `json:"run_id"`
	TrainedAt     time.Time    `json:"trained_at"`
	Schema        Schema       `json:"schema"`
	BestParams    ForestParams `json:"best_params"`
	CVMSE         float64      `json:"cv_mse"`
	TestMSE       float64      `json:"test_mse"`
	TrainSamples  int          `json:"train_samples"`
	TestSamples   int          `json:"test_samples"`
	Pipeline      *Pipeline    `json:"pipeline"`
}

func NewArtifact(result *TrainingResult, runID string, trainedAt time.Time) *Artifact {
	return &Artifact{
		FormatVersion: ArtifactFormatVersion,
		Kind:          ArtifactKind,
		RunID:         runID,
		TrainedAt:     trainedAt.UTC(),
		Schema:        result.Pipeline.Preprocessor.Schema(),
		BestParams:    result.BestParams,
		CVMSE:         result.CVMSE,
		TestMSE:       result.TestMSE,
		TrainSamples:  result.TrainSamples,
		TestSamples:   result.TestSamples,
		Pipeline:      result.Pipeline,
	}
}

func (a *Artifact) Validate() error {
	if a.FormatVersion != ArtifactFormatVersion {
		return fmt.Errorf("%w: format version %d, want %d", ErrIncompatibleArtifact, a.FormatVersion, ArtifactFormatVersion)
	}
	if a.Kind != ArtifactKind {
		return fmt.Errorf("%w: kind %q, want %q", ErrIncompatibleArtifact, a.Kind, ArtifactKind)
	}
	if !a.Pipeline.Fitted() {
		return fmt.Errorf("%w: pipeline missing or not fitted", ErrIncompatibleArtifact)
	}
	if err := a.Schema.CheckColumns(); err != nil {
		return err
	}
	if !a.Schema.Equal(a.Pipeline.Preprocessor.Schema()) {
		return fmt.Errorf("%w: recorded schema does not match fitted preprocessor", ErrIncompatibleArtifact)
	}
	if a.Pipeline.Model.NFeatures != a.Pipeline.Preprocessor.OutputWidth() {
		return fmt.Errorf("%w: model expects %d features, preprocessor yields %d",
			ErrIncompatibleArtifact, a.Pipeline.Model.NFeatures, a.Pipeline.Preprocessor.OutputWidth())
	}
	return nil
}

func (a *Artifact) Predict(record FeatureRecord) (float64, error) {
	return a.Pipeline.Predict(record)
}

// SaveArtifact writes to a temporary file next to path and renames it into
// place, so readers never observe a partial artifact.
func SaveArtifact(path string, a *Artifact) error {
	if a == nil || !a.Pipeline.Fitted() {
		return ErrNotFitted
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func LoadArtifact(path string) (*Artifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleArtifact, err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}
