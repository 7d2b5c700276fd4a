package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Fit(columns [][]float64) error {
	if len(columns) == 0 {
		return errors.New("no numeric columns")
	}
	mean := make([]float64, len(columns))
	scale := make([]float64, len(columns))
	for i, values := range columns {
		if len(values) == 0 {
			return fmt.Errorf("%w: empty numeric column", ErrInsufficientSamples)
		}
		m, variance := stat.PopMeanVariance(values, nil)
		std := math.Sqrt(variance)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		mean[i] = m
		scale[i] = std
	}
	s.Mean = mean
	s.Scale = scale
	return nil
}

func (s *StandardScaler) Transform(col int, value float64) (float64, error) {
	if col < 0 || col >= len(s.Mean) || col >= len(s.Scale) {
		return 0, fmt.Errorf("%w: scaler column %d out of range", ErrSchemaMismatch, col)
	}
	return (value - s.Mean[col]) / s.Scale[col], nil
}

type OneHotEncoder struct {
	Categories [][]string `json:"categories"`
}

func (e *OneHotEncoder) Fit(columns [][]string) error {
	if len(columns) == 0 {
		return errors.New("no categorical columns")
	}
	categories := make([][]string, len(columns))
	for i, values := range columns {
		if len(values) == 0 {
			return fmt.Errorf("%w: empty categorical column", ErrInsufficientSamples)
		}
		seen := make(map[string]struct{}, 8)
		vocab := make([]string, 0, 8)
		for _, v := range values {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			vocab = append(vocab, v)
		}
		sort.Strings(vocab)
		categories[i] = vocab
	}
	e.Categories = categories
	return nil
}

func (e *OneHotEncoder) Width() int {
	width := 0
	for _, vocab := range e.Categories {
		width += len(vocab)
	}
	return width
}

// Encode writes the one-hot block of column col into dst, which must be
// exactly len(Categories[col]) long.
func (e *OneHotEncoder) Encode(col int, value string, dst []float64) error {
	if col < 0 || col >= len(e.Categories) {
		return fmt.Errorf("%w: encoder column %d out of range", ErrSchemaMismatch, col)
	}
	vocab := e.Categories[col]
	idx := sort.SearchStrings(vocab, value)
	if idx >= len(vocab) || vocab[idx] != value {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, value)
	}
	for i := range dst {
		dst[i] = 0
	}
	dst[idx] = 1
	return nil
}

// ColumnTransformer standardises the numeric columns and one-hot encodes the
// categorical ones. Output order: numeric columns, then one block per
// categorical column.
type ColumnTransformer struct {
	NumericColumns     []string        `json:"numeric_columns"`
	CategoricalColumns []string        `json:"categorical_columns"`
	Scaler             *StandardScaler `json:"scaler,omitempty"`
	Encoder            *OneHotEncoder  `json:"encoder,omitempty"`
}

func NewColumnTransformer(numeric, categorical []string) *ColumnTransformer {
	return &ColumnTransformer{
		NumericColumns:     append([]string(nil), numeric...),
		CategoricalColumns: append([]string(nil), categorical...),
	}
}

// Clone returns an unfitted transformer over the same columns.
func (ct *ColumnTransformer) Clone() *ColumnTransformer {
	return NewColumnTransformer(ct.NumericColumns, ct.CategoricalColumns)
}

func (ct *ColumnTransformer) Fitted() bool {
	return ct.Scaler != nil && ct.Encoder != nil &&
		len(ct.Scaler.Mean) == len(ct.NumericColumns) &&
		len(ct.Encoder.Categories) == len(ct.CategoricalColumns)
}

func (ct *ColumnTransformer) Fit(records []FeatureRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: no records to fit preprocessor", ErrInsufficientSamples)
	}

	numeric := make([][]float64, len(ct.NumericColumns))
	for i, column := range ct.NumericColumns {
		values := make([]float64, len(records))
		for j, record := range records {
			v, err := record.NumericValue(column)
			if err != nil {
				return err
			}
			values[j] = v
		}
		numeric[i] = values
	}

	categorical := make([][]string, len(ct.CategoricalColumns))
	for i, column := range ct.CategoricalColumns {
		values := make([]string, len(records))
		for j, record := range records {
			v, err := record.CategoricalValue(column)
			if err != nil {
				return err
			}
			values[j] = v
		}
		categorical[i] = values
	}

	scaler := &StandardScaler{}
	if err := scaler.Fit(numeric); err != nil {
		return err
	}
	encoder := &OneHotEncoder{}
	if err := encoder.Fit(categorical); err != nil {
		return err
	}
	ct.Scaler = scaler
	ct.Encoder = encoder
	return nil
}

func (ct *ColumnTransformer) OutputWidth() int {
	if !ct.Fitted() {
		return 0
	}
	return len(ct.NumericColumns) + ct.Encoder.Width()
}

func (ct *ColumnTransformer) TransformRecord(record FeatureRecord) ([]float64, error) {
	if !ct.Fitted() {
		return nil, fmt.Errorf("%w: preprocessor", ErrNotFitted)
	}
	vector := make([]float64, ct.OutputWidth())
	for i, column := range ct.NumericColumns {
		v, err := record.NumericValue(column)
		if err != nil {
			return nil, err
		}
		if vector[i], err = ct.Scaler.Transform(i, v); err != nil {
			return nil, err
		}
	}
	offset := len(ct.NumericColumns)
	for i, column := range ct.CategoricalColumns {
		v, err := record.CategoricalValue(column)
		if err != nil {
			return nil, err
		}
		width := len(ct.Encoder.Categories[i])
		if err := ct.Encoder.Encode(i, v, vector[offset:offset+width]); err != nil {
			return nil, fmt.Errorf("%s: %w", column, err)
		}
		offset += width
	}
	return vector, nil
}

func (ct *ColumnTransformer) Transform(records []FeatureRecord) ([][]float64, error) {
	vectors := make([][]float64, len(records))
	for i, record := range records {
		vector, err := ct.TransformRecord(record)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (ct *ColumnTransformer) FitTransform(records []FeatureRecord) ([][]float64, error) {
	if err := ct.Fit(records); err != nil {
		return nil, err
	}
	return ct.Transform(records)
}

// FeatureNames follows the "num__<col>" / "cat__<col>_<value>" convention.
func (ct *ColumnTransformer) FeatureNames() []string {
	if !ct.Fitted() {
		return nil
	}
	names := make([]string, 0, ct.OutputWidth())
	for _, column := range ct.NumericColumns {
		names = append(names, "num__"+column)
	}
	for i, column := range ct.CategoricalColumns {
		for _, value := range ct.Encoder.Categories[i] {
			names = append(names, "cat__"+column+"_"+value)
		}
	}
	return names
}

// Schema describes the fitted input contract.
func (ct *ColumnTransformer) Schema() Schema {
	schema := Schema{
		Numeric: append([]string(nil), ct.NumericColumns...),
	}
	for i, column := range ct.CategoricalColumns {
		col := CategoricalColumn{Name: column}
		if ct.Encoder != nil && i < len(ct.Encoder.Categories) {
			col.Vocabulary = append([]string(nil), ct.Encoder.Categories[i]...)
		}
		schema.Categorical = append(schema.Categorical, col)
	}
	return schema
}
