package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.PredictRequests.WithLabelValues(OutcomeOK).Inc()
	m.PredictRequests.WithLabelValues(OutcomeOK).Inc()
	m.PredictRequests.WithLabelValues(OutcomeUnknownCategory).Inc()
	m.CacheLookups.WithLabelValues("hit").Inc()
	m.PredictLatency.Observe(0.002)

	if got := testutil.ToFloat64(m.PredictRequests.WithLabelValues(OutcomeOK)); got != 2 {
		t.Errorf("ok requests = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.PredictRequests); got != 2 {
		t.Errorf("request series = %d, want 2", got)
	}

	// registering twice on the same registry must fail
	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration panic")
		}
	}()
	NewMetrics(reg)
}

func TestSetModel(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ArtifactStale.Set(1)

	m.SetModel("run-1", 1)
	m.SetModel("run-2", 1)

	if got := testutil.CollectAndCount(m.ModelInfo); got != 1 {
		t.Errorf("model_info series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.ModelInfo.WithLabelValues("run-2", "1")); got != 1 {
		t.Errorf("model_info{run-2} = %v", got)
	}
	if got := testutil.ToFloat64(m.ArtifactStale); got != 0 {
		t.Errorf("stale = %v, want 0", got)
	}
}
