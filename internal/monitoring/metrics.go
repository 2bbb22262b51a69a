// Package monitoring exposes connector fetch and HTTP request metrics to
// Prometheus.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/funnel-metrics/internal/types"
)

// Fetch outcomes recorded per connector call
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeAuthError   = "auth_error"
	OutcomeCircuitOpen = "circuit_open"
)

// Provider records service metrics
type Provider interface {
	ObserveFetch(platform types.Platform, outcome string, duration time.Duration)
	IncRequestsTotal(route string, status int)
	ObserveRequestDuration(route string, duration time.Duration)
	Handler() http.Handler
}

// PrometheusProvider registers its collectors on a private registry so that
// several providers can coexist in one process.
type PrometheusProvider struct {
	registry        *prometheus.Registry
	fetchesTotal    *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewProvider returns a Prometheus-backed provider, or a no-op one when
// metrics are disabled
func NewProvider(enabled bool) Provider {
	if !enabled {
		return &noopProvider{}
	}
	return NewPrometheusProvider()
}

// NewPrometheusProvider creates the collectors
func NewPrometheusProvider() *PrometheusProvider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusProvider{
		registry: reg,
		fetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_connector_fetches_total",
			Help: "Connector fetches by platform and outcome",
		}, []string{"platform", "outcome"}),

		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "funnel_connector_fetch_duration_seconds",
			Help:    "Connector fetch duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"platform"}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "funnel_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "funnel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (p *PrometheusProvider) ObserveFetch(platform types.Platform, outcome string, duration time.Duration) {
	p.fetchesTotal.WithLabelValues(string(platform), outcome).Inc()
	if outcome != OutcomeCircuitOpen {
		p.fetchDuration.WithLabelValues(string(platform)).Observe(duration.Seconds())
	}
}

func (p *PrometheusProvider) IncRequestsTotal(route string, status int) {
	p.requestsTotal.WithLabelValues(route, statusBucket(status)).Inc()
}

func (p *PrometheusProvider) ObserveRequestDuration(route string, duration time.Duration) {
	p.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// Gatherer exposes the registry for tests and embedding
func (p *PrometheusProvider) Gatherer() prometheus.Gatherer {
	return p.registry
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// noopProvider is used when metrics are disabled
type noopProvider struct{}

func (n *noopProvider) ObserveFetch(_ types.Platform, _ string, _ time.Duration) {}
func (n *noopProvider) IncRequestsTotal(_ string, _ int)                         {}
func (n *noopProvider) ObserveRequestDuration(_ string, _ time.Duration)         {}
func (n *noopProvider) Handler() http.Handler                                    { return http.NotFoundHandler() }
