package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal counts HTTP requests served by this service
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight tracks requests currently being processed
	HTTPRequestsInFlight prometheus.Gauge

	// ProviderRequests counts upstream provider calls by resource and outcome
	ProviderRequests *prometheus.CounterVec
	// ProviderLatency tracks upstream provider call latency
	ProviderLatency *prometheus.HistogramVec
	// TokenRefreshes counts refresh attempts by outcome
	TokenRefreshes *prometheus.CounterVec
	// LimiterWaitDuration tracks time spent waiting for a rate-limit slot
	LimiterWaitDuration prometheus.Histogram
	// BreakerState exposes the circuit breaker state per target (0 closed, 1 open, 2 half-open)
	BreakerState *prometheus.GaugeVec
	// BreakerRejections counts fail-fast rejections while open
	BreakerRejections *prometheus.CounterVec
	// CacheOps counts response cache hits and misses
	CacheOps *prometheus.CounterVec
	// QuotaRemaining exposes the provider-reported remaining quota when present
	QuotaRemaining *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total number of provider API calls",
			},
			[]string{"resource", "outcome"},
		),
		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Provider API call latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"resource"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "Total number of token refresh attempts",
			},
			[]string{"outcome"},
		),
		LimiterWaitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "limiter_wait_seconds",
				Help:      "Time spent waiting for a provider rate-limit slot",
				Buckets:   []float64{0.001, 0.01, 0.1, 0.6, 1.0, 5.0, 15.0, 60.0},
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"target"},
		),
		BreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_rejections_total",
				Help:      "Total number of calls rejected while the breaker was open",
			},
			[]string{"target"},
		),
		CacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Response cache operations by result",
			},
			[]string{"result"},
		),
		QuotaRemaining: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "provider_quota_remaining",
				Help:      "Remaining provider quota as reported by response headers",
			},
			[]string{"window"},
		),
	}

	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ProviderRequests,
		m.ProviderLatency,
		m.TokenRefreshes,
		m.LimiterWaitDuration,
		m.BreakerState,
		m.BreakerRejections,
		m.CacheOps,
		m.QuotaRemaining,
	)

	return m
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry for test assertions
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordProviderRequest records a provider call outcome
func (m *Metrics) RecordProviderRequest(resource, outcome string, seconds float64) {
	m.ProviderRequests.WithLabelValues(resource, outcome).Inc()
	m.ProviderLatency.WithLabelValues(resource).Observe(seconds)
}

// RecordTokenRefresh records a refresh attempt outcome
func (m *Metrics) RecordTokenRefresh(outcome string) {
	m.TokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordLimiterWait records time spent blocked in the rate limiter
func (m *Metrics) RecordLimiterWait(seconds float64) {
	m.LimiterWaitDuration.Observe(seconds)
}

// SetBreakerState records a breaker state transition
func (m *Metrics) SetBreakerState(target string, state int) {
	m.BreakerState.WithLabelValues(target).Set(float64(state))
}

// RecordBreakerRejection counts a fail-fast rejection
func (m *Metrics) RecordBreakerRejection(target string) {
	m.BreakerRejections.WithLabelValues(target).Inc()
}

// RecordCacheOp records a cache hit or miss
func (m *Metrics) RecordCacheOp(result string) {
	m.CacheOps.WithLabelValues(result).Inc()
}

// SetQuotaRemaining records provider-reported remaining quota
func (m *Metrics) SetQuotaRemaining(window string, remaining int64) {
	m.QuotaRemaining.WithLabelValues(window).Set(float64(remaining))
}
