// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the zutritt auth service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// AuthBuckets defines histogram buckets suited for auth-path latencies:
// most requests are store lookups in the low milliseconds, the tail is
// bcrypt verification and outbound SSO exchanges.
var AuthBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zutritt_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zutritt_request_duration_seconds",
			Help:    "Request duration",
			Buckets: AuthBuckets,
		},
		[]string{"method"},
	)

	// InflightRequests tracks requests currently being served.
	InflightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "zutritt_inflight_requests",
			Help: "Requests in flight",
		},
	)

	// AuthRequestsTotal counts pipeline authentication outcomes by
	// credential method.
	AuthRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zutritt_auth_requests_total",
			Help: "Authentication outcomes",
		},
		[]string{"method", "outcome"},
	)

	// LoginsTotal counts credential login attempts by outcome.
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zutritt_logins_total",
			Help: "Login attempts",
		},
		[]string{"outcome"},
	)

	// SSOHandshakesTotal counts SSO handshake terminal states by provider.
	SSOHandshakesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zutritt_sso_handshakes_total",
			Help: "SSO handshake outcomes",
		},
		[]string{"provider", "outcome"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zutritt_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)

	// AuditDroppedTotal counts audit events dropped on queue overflow.
	AuditDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "zutritt_audit_dropped_total",
			Help: "Audit events dropped",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InflightRequests,
		AuthRequestsTotal,
		LoginsTotal,
		SSOHandshakesTotal,
		RateLimitRejectedTotal,
		AuditDroppedTotal,
	)
}
