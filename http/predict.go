package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"smartpark/cache"
	"smartpark/ml"
	"smartpark/monitoring"
)

// PredictRequest 预测请求
//
// 字段都是指针，用来区分缺失和零值。
type PredictRequest struct {
	Duration      *float64       `json:"duration" validate:"required,gte=0"`
	Cost          *float64       `json:"cost" validate:"required,gte=0"`
	OccupancyRate *float64       `json:"occupancy_rate" validate:"required,gte=0,lte=100"`
	TimeOfDay     *float64       `json:"time_of_day" validate:"required,gte=0,lte=24"`
	DayOfWeek     *CategoryValue `json:"day_of_week" validate:"required"`
	IsWeekend     *CategoryValue `json:"is_weekend" validate:"required"`
}

// PredictResponse 预测响应
type PredictResponse struct {
	DiscountRate float64 `json:"discount_rate"`
}

// CategoryValue 接受字符串、数字或布尔值形式的类别
type CategoryValue struct {
	Value string
}

func (c *CategoryValue) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("%w: %v", ml.ErrSchemaMismatch, err)
		}
		raw = f
	case string, bool:
	default:
		return fmt.Errorf("%w: category must be a string, number or boolean", ml.ErrSchemaMismatch)
	}

	value, err := ml.CanonicalCategory(raw)
	if err != nil {
		return err
	}
	c.Value = value
	return nil
}

// ToRecord 转换为模型输入
func (req *PredictRequest) ToRecord() ml.FeatureRecord {
	return ml.FeatureRecord{
		Duration:      *req.Duration,
		Cost:          *req.Cost,
		OccupancyRate: *req.OccupancyRate,
		TimeOfDay:     *req.TimeOfDay,
		DayOfWeek:     req.DayOfWeek.Value,
		IsWeekend:     req.IsWeekend.Value,
	}
}

// PredictHandler 处理 POST /predict
type PredictHandler struct {
	model    ml.Predictor
	runID    string
	cache    cache.PredictionCache
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	validate *validator.Validate
}

// NewPredictHandler 创建预测处理器，cache可以为nil
func NewPredictHandler(model ml.Predictor, runID string, predictionCache cache.PredictionCache, metrics *monitoring.Metrics, logger *zap.Logger) *PredictHandler {
	return &PredictHandler{
		model:    model,
		runID:    runID,
		cache:    predictionCache,
		metrics:  metrics,
		logger:   logger,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

func (h *PredictHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 从中间件记录的时间算起，包含排队和中间件耗时
	start := GetStartTime(r.Context())
	if start.IsZero() {
		start = time.Now()
	}
	defer func() {
		h.metrics.PredictLatency.Observe(time.Since(start).Seconds())
	}()

	var req PredictRequest
	if status, kind, err := h.decode(r, &req); err != nil {
		h.fail(w, r, status, kind, err)
		return
	}

	record := req.ToRecord()
	prediction, err := h.predict(r.Context(), record)
	switch {
	case errors.Is(err, ml.ErrUnknownCategory):
		h.fail(w, r, http.StatusUnprocessableEntity, KindUnknownCategory, err)
		return
	case errors.Is(err, ml.ErrSchemaMismatch):
		h.fail(w, r, http.StatusBadRequest, KindSchemaMismatch, err)
		return
	case err != nil:
		h.fail(w, r, http.StatusInternalServerError, KindInternalError, err)
		return
	}

	h.metrics.PredictRequests.WithLabelValues(monitoring.OutcomeOK).Inc()
	respondJSON(w, h.logger, PredictResponse{DiscountRate: prediction})
}

// decode 解析并校验请求体
func (h *PredictHandler) decode(r *http.Request, req *PredictRequest) (int, ErrorKind, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxByteErr *http.MaxBytesError
		if errors.As(err, &maxByteErr) {
			return http.StatusRequestEntityTooLarge, KindPayloadTooLarge, err
		}
		return http.StatusBadRequest, KindInvalidJSON, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	if err := dec.Decode(req); err != nil {
		var (
			syntaxErr *json.SyntaxError
			typeErr   *json.UnmarshalTypeError
		)
		switch {
		case errors.Is(err, io.EOF):
			return http.StatusBadRequest, KindInvalidJSON, errors.New("request body is empty")
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
			return http.StatusBadRequest, KindInvalidJSON, err
		case errors.As(err, &typeErr):
			return http.StatusBadRequest, KindSchemaMismatch, fmt.Errorf("field %q: expected %s", typeErr.Field, typeErr.Type)
		case errors.Is(err, ml.ErrSchemaMismatch), strings.HasPrefix(err.Error(), "json: unknown field"):
			return http.StatusBadRequest, KindSchemaMismatch, err
		default:
			return http.StatusBadRequest, KindInvalidJSON, err
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return http.StatusBadRequest, KindInvalidJSON, errors.New("request body must contain a single JSON object")
	}
	// encoding/json matches keys case-insensitively and keeps the last duplicate
	if err := checkFieldNames(body, predictFields); err != nil {
		return http.StatusBadRequest, KindSchemaMismatch, err
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return http.StatusBadRequest, KindSchemaMismatch, validationMessage(verrs)
		}
		return http.StatusBadRequest, KindSchemaMismatch, err
	}
	return 0, "", nil
}

var predictFields = jsonFieldNames(reflect.TypeOf(PredictRequest{}))

func jsonFieldNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name := strings.SplitN(t.Field(i).Tag.Get("json"), ",", 2)[0]
		if name != "" && name != "-" {
			names[name] = true
		}
	}
	return names
}

// checkFieldNames 要求顶层键与字段名完全一致且不重复
func checkFieldNames(body []byte, allowed map[string]bool) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if _, err := dec.Token(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(allowed))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		switch {
		case !allowed[key]:
			return fmt.Errorf("%w: unknown field %q", ml.ErrSchemaMismatch, key)
		case seen[key]:
			return fmt.Errorf("%w: duplicate field %q", ml.ErrSchemaMismatch, key)
		}
		seen[key] = true

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}
	}
	return nil
}

func validationMessage(verrs validator.ValidationErrors) error {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "gte":
			parts = append(parts, fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param()))
		case "lte":
			parts = append(parts, fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}

// predict 先查缓存，缓存故障只记录日志
func (h *PredictHandler) predict(ctx context.Context, record ml.FeatureRecord) (float64, error) {
	if h.cache == nil {
		return h.model.Predict(record)
	}

	key := cache.Key(h.runID, record)
	if v, ok, err := h.cache.Get(ctx, key); err != nil {
		h.metrics.CacheLookups.WithLabelValues("error").Inc()
		h.logger.Warn("prediction cache get failed", zap.Error(err))
	} else if ok {
		h.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return v, nil
	} else {
		h.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	prediction, err := h.model.Predict(record)
	if err != nil {
		return 0, err
	}
	if err := h.cache.Set(ctx, key, prediction); err != nil {
		h.logger.Warn("prediction cache set failed", zap.Error(err))
	}
	return prediction, nil
}

func (h *PredictHandler) fail(w http.ResponseWriter, r *http.Request, status int, kind ErrorKind, err error) {
	h.metrics.PredictRequests.WithLabelValues(outcomeFor(kind)).Inc()

	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("prediction failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err))
		message = "internal server error"
	} else {
		h.logger.Debug("prediction rejected",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
	writeError(w, status, kind, message)
}

func outcomeFor(kind ErrorKind) string {
	switch kind {
	case KindInvalidJSON:
		return monitoring.OutcomeInvalidJSON
	case KindSchemaMismatch:
		return monitoring.OutcomeSchemaMismatch
	case KindUnknownCategory:
		return monitoring.OutcomeUnknownCategory
	case KindPayloadTooLarge:
		return monitoring.OutcomeTooLarge
	default:
		return monitoring.OutcomeError
	}
}
