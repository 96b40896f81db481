package backend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HealthChecksTotal counts health probes by service and result.
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "health_checks_total",
			Help: "Total number of health probes",
		},
		[]string{"service", "result"},
	)

	// HealthCheckDuration measures health probe latency.
	HealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "health_check_duration_seconds",
			Help:    "Duration of health probes in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"service"},
	)

	// InstanceHealthy reports instance health (1=healthy, 0=unhealthy).
	InstanceHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "instance_healthy",
			Help: "Whether an instance is currently considered healthy",
		},
		[]string{"service", "instance"},
	)

	// BalancerSelectionsTotal counts instance selections per service.
	BalancerSelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "balancer_selections_total",
			Help: "Total number of load balancer instance selections",
		},
		[]string{"service", "instance"},
	)
)

// RecordHealthCheck records a health probe outcome.
func RecordHealthCheck(service, result string, durationSeconds float64) {
	HealthChecksTotal.WithLabelValues(service, result).Inc()
	HealthCheckDuration.WithLabelValues(service).Observe(durationSeconds)
}

// RecordInstanceHealth records an instance health flip.
func RecordInstanceHealth(service, instance string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	InstanceHealthy.WithLabelValues(service, instance).Set(v)
}

// RecordSelection records a balancer pick.
func RecordSelection(service, instance string) {
	BalancerSelectionsTotal.WithLabelValues(service, instance).Inc()
}
