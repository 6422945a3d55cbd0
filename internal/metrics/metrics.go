package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway. Route labels carry
// the configured route name, never the raw request path.
type Metrics struct {
	// Dispatch metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge
	AuthFailures    *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitAllowed  *prometheus.CounterVec
	RateLimitRejected *prometheus.CounterVec
	RateLimitErrors   *prometheus.CounterVec

	// Backend metrics
	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec
	BackendErrors          *prometheus.CounterVec
	BackendRetries         *prometheus.CounterVec
	BackendHealth          *prometheus.GaugeVec

	// Circuit breaker metrics
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Control plane metrics
	ConfigReloads *prometheus.CounterVec
	LoginAttempts *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total number of dispatched requests by final stage",
			},
			[]string{"route", "method", "status", "stage"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_request_duration_seconds",
				Help:    "End to end dispatch latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		ActiveRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_requests_active",
				Help: "Number of requests currently being dispatched",
			},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_auth_failures_total",
				Help: "Total number of requests rejected by token validation",
			},
			[]string{"route"},
		),

		RateLimitAllowed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_allowed_total",
				Help: "Total number of requests admitted by the rate limiter",
			},
			[]string{"route", "tier"},
		),
		RateLimitRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_rejected_total",
				Help: "Total number of requests rejected due to rate limiting",
			},
			[]string{"route", "tier"},
		),
		RateLimitErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_errors_total",
				Help: "Total number of rate limit store failures (request admitted)",
			},
			[]string{"tier"},
		),

		BackendRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_backend_requests_total",
				Help: "Total number of backend requests",
			},
			[]string{"route", "backend", "status"},
		),
		BackendRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_backend_request_duration_seconds",
				Help:    "Backend request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "backend"},
		),
		BackendErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_backend_errors_total",
				Help: "Total number of backend errors",
			},
			[]string{"route", "backend", "error_type"},
		),
		BackendRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_backend_retries_total",
				Help: "Total number of idempotent request retries",
			},
			[]string{"route", "backend"},
		),
		BackendHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_backend_health",
				Help: "Active health check status (1 = healthy, 0 = unhealthy)",
			},
			[]string{"backend"},
		),

		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_circuit_breaker_state",
				Help: "Circuit breaker state (0 = closed, 1 = open, 2 = half-open)",
			},
			[]string{"backend"},
		),
		CircuitBreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_circuit_breaker_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"backend", "to"},
		),

		ConfigReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_config_reloads_total",
				Help: "Total number of configuration reload attempts",
			},
			[]string{"result"},
		),
		LoginAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_login_attempts_total",
				Help: "Total number of token endpoint login attempts",
			},
			[]string{"result"},
		),

		gatherer: gatherer,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RouteLabel names the route for metric labels; requests that never
// resolved a route share one label.
func RouteLabel(name string) string {
	if name == "" {
		return "unmatched"
	}
	return name
}
