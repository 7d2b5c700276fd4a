package ml

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	ColumnDuration      = "duration"
	ColumnCost          = "cost"
	ColumnOccupancyRate = "occupancy_rate"
	ColumnTimeOfDay     = "time_of_day"
	ColumnDayOfWeek     = "day_of_week"
	ColumnIsWeekend     = "is_weekend"
	ColumnTimestamp     = "timestamp"
	ColumnDiscountRate  = "discount_rate"
)

// FeatureRecord is one model input row. Categorical fields hold canonical
// category strings (see CanonicalCategory).
type FeatureRecord struct {
	Duration      float64 `json:"duration"`
	Cost          float64 `json:"cost"`
	OccupancyRate float64 `json:"occupancy_rate"`
	TimeOfDay     float64 `json:"time_of_day"`
	DayOfWeek     string  `json:"day_of_week"`
	IsWeekend     string  `json:"is_weekend"`
}

// TrainingRecord is a labelled row of the training dataset. Timestamp is kept
// for provenance only and never reaches the model.
type TrainingRecord struct {
	FeatureRecord
	Timestamp    string  `json:"timestamp"`
	DiscountRate float64 `json:"discount_rate"`
}

func NumericFeatures() []string {
	return []string{
		ColumnDuration,
		ColumnCost,
		ColumnOccupancyRate,
		ColumnTimeOfDay,
	}
}

func CategoricalFeatures() []string {
	return []string{
		ColumnDayOfWeek,
		ColumnIsWeekend,
	}
}

func (r FeatureRecord) NumericValue(column string) (float64, error) {
	switch column {
	case ColumnDuration:
		return r.Duration, nil
	case ColumnCost:
		return r.Cost, nil
	case ColumnOccupancyRate:
		return r.OccupancyRate, nil
	case ColumnTimeOfDay:
		return r.TimeOfDay, nil
	default:
		return 0, fmt.Errorf("%w: %q is not a numeric feature", ErrSchemaMismatch, column)
	}
}

func (r FeatureRecord) CategoricalValue(column string) (string, error) {
	switch column {
	case ColumnDayOfWeek:
		return r.DayOfWeek, nil
	case ColumnIsWeekend:
		return r.IsWeekend, nil
	default:
		return "", fmt.Errorf("%w: %q is not a categorical feature", ErrSchemaMismatch, column)
	}
}

// Fingerprint renders the record losslessly; equal records give equal strings.
func (r FeatureRecord) Fingerprint() string {
	parts := []string{
		formatFloat(r.Duration),
		formatFloat(r.Cost),
		formatFloat(r.OccupancyRate),
		formatFloat(r.TimeOfDay),
		r.DayOfWeek,
		r.IsWeekend,
	}
	return strings.Join(parts, "|")
}

// CanonicalCategory maps a raw categorical value to the form used in the
// one-hot vocabulary. The CSV loader and the HTTP decoder both go through it,
// so "True", true and "true" all meet as "true", and 1, 1.0 and "1" as "1".
func CanonicalCategory(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return "", fmt.Errorf("%w: empty category", ErrSchemaMismatch)
		}
		if strings.EqualFold(s, "true") || strings.EqualFold(s, "false") {
			return strings.ToLower(s), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return formatFloat(f), nil
		}
		return s, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("%w: non-finite category %v", ErrSchemaMismatch, v)
		}
		return formatFloat(v), nil
	case int:
		return strconv.Itoa(v), nil
	default:
		return "", fmt.Errorf("%w: unsupported category type %T", ErrSchemaMismatch, raw)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
