package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func metricValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if out.Counter != nil {
		return out.Counter.GetValue()
	}
	return out.Gauge.GetValue()
}

// TestMetricsHandler_ExposesFeedMetrics verifies the handler serves registered
// application metrics once they have been touched.
func TestMetricsHandler_ExposesFeedMetrics(t *testing.T) {
	FeedCallsTotal.WithLabelValues("station_status", "success").Inc()
	FeedDegradedTotal.Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"feedCallsTotal", "feedDegradedTotal", "go_goroutines"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

// TestRecordNearbyQuery verifies the service-area label split.
func TestRecordNearbyQuery(t *testing.T) {
	before := metricValue(t, NearbyQueriesTotal.WithLabelValues("true"))
	RecordNearbyQuery(true, 4)
	RecordNearbyQuery(false, 0)

	if got := metricValue(t, NearbyQueriesTotal.WithLabelValues("true")); got != before+1 {
		t.Errorf("nearbyQueriesTotal{inServiceArea=true} = %v, want %v", got, before+1)
	}
}

// TestRecordCircuitBreakerTransition verifies the state gauge follows transitions.
func TestRecordCircuitBreakerTransition(t *testing.T) {
	RecordCircuitBreakerTransition("station_information", "closed", "open", 1)

	if got := metricValue(t, CircuitBreakerState.WithLabelValues("station_information")); got != 1 {
		t.Errorf("circuitBreakerState = %v, want 1", got)
	}
}
