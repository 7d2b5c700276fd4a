package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"smartpark/ml"
)

// ErrMissingColumn 表头缺少必需列
var ErrMissingColumn = errors.New("missing required column")

// RequiredColumns 训练数据必须包含的列
func RequiredColumns() []string {
	columns := append(ml.NumericFeatures(), ml.CategoricalFeatures()...)
	return append(columns, ml.ColumnDiscountRate)
}

// RowError 单行解析错误
type RowError struct {
	Line   int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d, column %q: %v", e.Line, e.Column, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// LoadCSV 从文件读取训练数据
func LoadCSV(path string) ([]ml.TrainingRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return records, nil
}

// ReadCSV 解析带表头的CSV，列顺序不限
//
// 文件开头的BOM（UTF-8、UTF-16LE/BE）会被去除。所有行错误汇总后一起返回。
func ReadCSV(r io.Reader) ([]ml.TrainingRecord, error) {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: dataset is empty", ml.ErrInsufficientSamples)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	var (
		records []ml.TrainingRecord
		errs    error
	)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// 字段数不一致记为行错误，其它格式错误直接返回
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) && parseErr.Err == csv.ErrFieldCount {
				errs = multierr.Append(errs, &RowError{Line: parseErr.Line, Err: parseErr.Err})
				continue
			}
			return nil, multierr.Append(errs, err)
		}
		if isBlank(row) {
			continue
		}
		line, _ := reader.FieldPos(0)

		record, rowErr := parseRow(row, index, line)
		if rowErr != nil {
			errs = multierr.Append(errs, rowErr)
			continue
		}
		records = append(records, record)
	}

	if errs != nil {
		return nil, errs
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: dataset has no rows", ml.ErrInsufficientSamples)
	}
	return records, nil
}

func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		index[name] = i
	}

	var errs error
	for _, column := range RequiredColumns() {
		if _, ok := index[column]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: %q", ErrMissingColumn, column))
		}
	}
	return index, errs
}

func parseRow(row []string, index map[string]int, line int) (ml.TrainingRecord, error) {
	var (
		record ml.TrainingRecord
		errs   error
	)

	number := func(column string) float64 {
		raw := strings.TrimSpace(row[index[column]])
		v, err := strconv.ParseFloat(raw, 64)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = errors.New("value is not finite")
		}
		if err != nil {
			errs = multierr.Append(errs, &RowError{Line: line, Column: column, Err: err})
		}
		return v
	}
	category := func(column string) string {
		v, err := ml.CanonicalCategory(row[index[column]])
		if err != nil {
			errs = multierr.Append(errs, &RowError{Line: line, Column: column, Err: err})
		}
		return v
	}

	record.Duration = number(ml.ColumnDuration)
	record.Cost = number(ml.ColumnCost)
	record.OccupancyRate = number(ml.ColumnOccupancyRate)
	record.TimeOfDay = number(ml.ColumnTimeOfDay)
	record.DayOfWeek = category(ml.ColumnDayOfWeek)
	record.IsWeekend = category(ml.ColumnIsWeekend)
	record.DiscountRate = number(ml.ColumnDiscountRate)
	if i, ok := index[ml.ColumnTimestamp]; ok {
		record.Timestamp = strings.TrimSpace(row[i])
	}

	return record, errs
}

func isBlank(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
