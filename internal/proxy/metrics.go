package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProxyRequestsTotal counts proxied requests by service and outcome.
	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total number of proxied requests",
		},
		[]string{"service", "outcome"},
	)

	// ProxyRequestDuration measures end-to-end proxy latency including
	// retries and backoff waits.
	ProxyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "Duration of proxied requests in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service"},
	)

	// ProxyAttemptsTotal counts upstream attempts by service.
	ProxyAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_upstream_attempts_total",
			Help: "Total number of upstream attempts, including retries",
		},
		[]string{"service"},
	)
)

// RecordProxyRequest records a terminal request outcome.
func RecordProxyRequest(service, outcome string, durationSeconds float64) {
	ProxyRequestsTotal.WithLabelValues(service, outcome).Inc()
	ProxyRequestDuration.WithLabelValues(service).Observe(durationSeconds)
}

// RecordProxyAttempts records the attempt count of a finished request.
func RecordProxyAttempts(service string, attempts int) {
	ProxyAttemptsTotal.WithLabelValues(service).Add(float64(attempts))
}
