package ml

import "context"

type Regressor interface {
	Fit(ctx context.Context, features [][]float64, targets []float64) error
	Predict(features []float64) (float64, error)
}

// Predictor answers a single feature record; the HTTP service depends on this.
type Predictor interface {
	Predict(record FeatureRecord) (float64, error)
}

// Pipeline chains the column transformer and the forest; it is the unit that
// is fitted, evaluated, persisted and served.
type Pipeline struct {
	Preprocessor *ColumnTransformer `json:"preprocessor"`
	Model        *RandomForest      `json:"model"`
}

func NewPipeline(preprocessor *ColumnTransformer, params ForestParams) *Pipeline {
	return &Pipeline{
		Preprocessor: preprocessor,
		Model:        NewRandomForest(params),
	}
}

func (p *Pipeline) Fit(ctx context.Context, records []FeatureRecord, targets []float64) error {
	vectors, err := p.Preprocessor.FitTransform(records)
	if err != nil {
		return err
	}
	return p.Model.Fit(ctx, vectors, targets)
}

func (p *Pipeline) Fitted() bool {
	return p != nil && p.Preprocessor != nil && p.Preprocessor.Fitted() &&
		p.Model != nil && len(p.Model.Trees) > 0
}

func (p *Pipeline) Predict(record FeatureRecord) (float64, error) {
	if !p.Fitted() {
		return 0, ErrNotFitted
	}
	vector, err := p.Preprocessor.TransformRecord(record)
	if err != nil {
		return 0, err
	}
	return p.Model.Predict(vector)
}

func (p *Pipeline) PredictBatch(records []FeatureRecord) ([]float64, error) {
	predictions := make([]float64, len(records))
	for i, record := range records {
		v, err := p.Predict(record)
		if err != nil {
			return nil, err
		}
		predictions[i] = v
	}
	return predictions, nil
}
