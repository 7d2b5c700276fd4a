package monitoring

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "smartpark"

// 预测结果标签
const (
	OutcomeOK              = "ok"
	OutcomeInvalidJSON     = "invalid_json"
	OutcomeSchemaMismatch  = "schema_mismatch"
	OutcomeUnknownCategory = "unknown_category"
	OutcomeTooLarge        = "payload_too_large"
	OutcomeError           = "error"
)

// Metrics 预测服务指标
type Metrics struct {
	PredictRequests *prometheus.CounterVec
	PredictLatency  prometheus.Histogram
	CacheLookups    *prometheus.CounterVec
	ModelInfo       *prometheus.GaugeVec
	ArtifactStale   prometheus.Gauge
}

// NewMetrics 在给定注册表上注册全部指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PredictRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predict_requests_total",
			Help:      "Prediction requests by outcome.",
		}, []string{"outcome"}),
		PredictLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predict_duration_seconds",
			Help:      "Time spent serving a prediction request.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_lookups_total",
			Help:      "Prediction cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
		ModelInfo: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_info",
			Help:      "Loaded model artifact; always 1.",
		}, []string{"run_id", "format_version"}),
		ArtifactStale: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_artifact_stale",
			Help:      "1 when the artifact on disk changed after it was loaded.",
		}),
	}
}

// SetModel 记录当前加载的模型
func (m *Metrics) SetModel(runID string, formatVersion int) {
	m.ModelInfo.Reset()
	m.ModelInfo.WithLabelValues(runID, strconv.Itoa(formatVersion)).Set(1)
	m.ArtifactStale.Set(0)
}
