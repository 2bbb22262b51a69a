package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funnel-metrics/internal/types"
)

func TestNewProvider_Disabled(t *testing.T) {
	p := NewProvider(false)
	_, ok := p.(*noopProvider)
	assert.True(t, ok, "should return a no-op provider when disabled")

	p.ObserveFetch(types.PlatformStorefront, OutcomeSuccess, time.Second)
	p.IncRequestsTotal("/api/platforms", 200)
	p.ObserveRequestDuration("/api/platforms", time.Millisecond)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrometheusProvider_Fetches(t *testing.T) {
	p := NewPrometheusProvider()

	p.ObserveFetch(types.PlatformStorefront, OutcomeSuccess, 200*time.Millisecond)
	p.ObserveFetch(types.PlatformStorefront, OutcomeError, time.Second)
	p.ObserveFetch(types.PlatformStorefront, OutcomeError, time.Second)
	p.ObserveFetch(types.PlatformPaidAds, OutcomeCircuitOpen, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(p.fetchesTotal.WithLabelValues("storefront", OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.fetchesTotal.WithLabelValues("storefront", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.fetchesTotal.WithLabelValues("paid_ads", OutcomeCircuitOpen)))
	assert.Equal(t, 1, testutil.CollectAndCount(p.fetchDuration), "short-circuited fetches are not timed")
}

func TestPrometheusProvider_Handler(t *testing.T) {
	p := NewPrometheusProvider()
	p.IncRequestsTotal("/api/platforms", 200)
	p.IncRequestsTotal("/api/platforms", 502)
	p.ObserveRequestDuration("/api/platforms", 5*time.Millisecond)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `funnel_http_requests_total{route="/api/platforms",status="2xx"} 1`))
	assert.True(t, strings.Contains(body, `funnel_http_requests_total{route="/api/platforms",status="5xx"} 1`))
	assert.Contains(t, body, "funnel_http_request_duration_seconds_bucket")
}

func TestStatusBucket(t *testing.T) {
	assert.Equal(t, "1xx", statusBucket(101))
	assert.Equal(t, "2xx", statusBucket(204))
	assert.Equal(t, "3xx", statusBucket(304))
	assert.Equal(t, "4xx", statusBucket(404))
	assert.Equal(t, "5xx", statusBucket(503))
}
