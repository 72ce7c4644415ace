package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/claimsync/internal/metrics"
)

func getCounterValue(t *testing.T, counter *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	c, err := counter.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	_ = c.(prometheus.Metric).Write(m)
	return m.GetCounter().GetValue()
}

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	_ = gauge.(prometheus.Metric).Write(m)
	return m.GetGauge().GetValue()
}

func getHistogramCount(t *testing.T, hist *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	m := &dto.Metric{}
	o, err := hist.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	_ = o.(prometheus.Metric).Write(m)
	return m.GetHistogram().GetSampleCount()
}

// --- ParseProcedure tests ---

func TestParseProcedure(t *testing.T) {
	tests := []struct {
		procedure string
		wantSvc   string
		wantMeth  string
	}{
		{"/claimsync.v1.ClaimService/CreateClaim", "ClaimService", "CreateClaim"},
		{"/claimsync.v1.ClaimService/UnreadSweep", "ClaimService", "UnreadSweep"},
		{"/simple.Service/Method", "Service", "Method"},
		{"invalid", "unknown", "unknown"},
		{"", "unknown", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.procedure, func(t *testing.T) {
			svc, method := metrics.ParseProcedure(tt.procedure)
			assert.Equal(t, tt.wantSvc, svc)
			assert.Equal(t, tt.wantMeth, method)
		})
	}
}

// --- HTTP Middleware tests ---

func TestHTTPMiddleware_RecordsRequestMetrics(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	beforeCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "200")
	beforeHistCount := getHistogramCount(t, metrics.HTTPRequestDuration, "GET", "/other")

	resp, err := http.Get(server.URL + "/some/page")
	require.NoError(t, err)
	_ = resp.Body.Close()

	afterCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "200")
	afterHistCount := getHistogramCount(t, metrics.HTTPRequestDuration, "GET", "/other")

	assert.Equal(t, float64(1), afterCount-beforeCount)
	assert.Equal(t, uint64(1), afterHistCount-beforeHistCount)
}

func TestHTTPMiddleware_NormalizesPaths(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	// RPC path should be kept as-is.
	beforeRPC := getCounterValue(t, metrics.HTTPRequestsTotal, "POST", "/claimsync.v1.ClaimService/ListClaims", "200")
	req, _ := http.NewRequest("POST", server.URL+"/claimsync.v1.ClaimService/ListClaims", strings.NewReader("{}"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	afterRPC := getCounterValue(t, metrics.HTTPRequestsTotal, "POST", "/claimsync.v1.ClaimService/ListClaims", "200")
	assert.Equal(t, float64(1), afterRPC-beforeRPC)

	// /metrics path should be kept as-is.
	beforeMetrics := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/metrics", "200")
	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	afterMetrics := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/metrics", "200")
	assert.Equal(t, float64(1), afterMetrics-beforeMetrics)

	// The push endpoint is kept as-is.
	beforeEvents := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/events", "200")
	resp, err = http.Get(server.URL + "/events")
	require.NoError(t, err)
	_ = resp.Body.Close()
	afterEvents := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/events", "200")
	assert.Equal(t, float64(1), afterEvents-beforeEvents)

	// Unknown paths are grouped as /other.
	beforeOther := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "200")
	resp, err = http.Get(server.URL + "/conversations/5551230000")
	require.NoError(t, err)
	_ = resp.Body.Close()
	afterOther := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "200")
	assert.Equal(t, float64(1), afterOther-beforeOther)
}

func TestHTTPMiddleware_Records404(t *testing.T) {
	handler := metrics.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	server := httptest.NewServer(handler)
	defer server.Close()

	beforeCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "404")

	resp, err := http.Get(server.URL + "/nonexistent")
	require.NoError(t, err)
	_ = resp.Body.Close()

	afterCount := getCounterValue(t, metrics.HTTPRequestsTotal, "GET", "/other", "404")
	assert.Equal(t, float64(1), afterCount-beforeCount)
}

// --- Gauge tests ---

func TestClaimsActiveGauge(t *testing.T) {
	metrics.ClaimsActive.Set(3)
	assert.Equal(t, float64(3), getGaugeValue(t, metrics.ClaimsActive))

	metrics.ClaimsActive.Set(0)
	assert.Equal(t, float64(0), getGaugeValue(t, metrics.ClaimsActive))
}

func TestRealtimeConnectionsGauge(t *testing.T) {
	before := getGaugeValue(t, metrics.RealtimeConnectionsActive)
	metrics.RealtimeConnectionsActive.Inc()
	after := getGaugeValue(t, metrics.RealtimeConnectionsActive)
	assert.Equal(t, float64(1), after-before)

	metrics.RealtimeConnectionsActive.Dec()
	afterDec := getGaugeValue(t, metrics.RealtimeConnectionsActive)
	assert.Equal(t, before, afterDec)
}

func TestPushEventsCounter(t *testing.T) {
	before := getCounterValue(t, metrics.PushEventsTotal, "claim_removed")
	metrics.PushEventsTotal.WithLabelValues("claim_removed").Inc()
	after := getCounterValue(t, metrics.PushEventsTotal, "claim_removed")
	assert.Equal(t, float64(1), after-before)
}

// --- Registry test ---

func TestMetricsRegistered(t *testing.T) {
	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer)
	require.NoError(t, err)
	assert.Greater(t, count, 0, "should have registered metrics")
}
