package ml

import (
	"fmt"
	"slices"
)

type CategoricalColumn struct {
	Name       string   `json:"name"`
	Vocabulary []string `json:"vocabulary"`
}

// Schema is the input contract recorded in an artifact.
type Schema struct {
	Numeric     []string            `json:"numeric"`
	Categorical []CategoricalColumn `json:"categorical"`
}

// CheckColumns reports whether the schema names exactly the columns this
// build knows how to feed, in the same order.
func (s Schema) CheckColumns() error {
	if !slices.Equal(s.Numeric, NumericFeatures()) {
		return fmt.Errorf("%w: numeric columns %v, want %v", ErrIncompatibleArtifact, s.Numeric, NumericFeatures())
	}
	names := make([]string, len(s.Categorical))
	for i, col := range s.Categorical {
		if len(col.Vocabulary) == 0 {
			return fmt.Errorf("%w: empty vocabulary for %q", ErrIncompatibleArtifact, col.Name)
		}
		names[i] = col.Name
	}
	if !slices.Equal(names, CategoricalFeatures()) {
		return fmt.Errorf("%w: categorical columns %v, want %v", ErrIncompatibleArtifact, names, CategoricalFeatures())
	}
	return nil
}

func (s Schema) Equal(other Schema) bool {
	if !slices.Equal(s.Numeric, other.Numeric) || len(s.Categorical) != len(other.Categorical) {
		return false
	}
	for i := range s.Categorical {
		if s.Categorical[i].Name != other.Categorical[i].Name ||
			!slices.Equal(s.Categorical[i].Vocabulary, other.Categorical[i].Vocabulary) {
			return false
		}
	}
	return true
}

// PrepareData separates features from the target and returns an unfitted
// preprocessor for the standard column layout.
func PrepareData(records []TrainingRecord) ([]FeatureRecord, []float64, *ColumnTransformer, error) {
	if len(records) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: dataset is empty", ErrInsufficientSamples)
	}
	features := make([]FeatureRecord, len(records))
	targets := make([]float64, len(records))
	for i, record := range records {
		features[i] = record.FeatureRecord
		targets[i] = record.DiscountRate
	}
	return features, targets, NewColumnTransformer(NumericFeatures(), CategoricalFeatures()), nil
}
