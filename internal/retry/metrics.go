package retry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetryAttemptsTotal counts attempts per operation.
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of attempts, including first tries",
		},
		[]string{"operation", "attempt"},
	)

	// RetrySuccessTotal counts operations that eventually succeeded.
	RetrySuccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_success_total",
			Help: "Total number of operations that succeeded within the attempt budget",
		},
		[]string{"operation"},
	)

	// RetryFailureTotal counts operations that exhausted all attempts.
	RetryFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_failure_total",
			Help: "Total number of operations that failed after all attempts",
		},
		[]string{"operation"},
	)

	// RetryDuration measures the total duration of retried operations.
	RetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retry_duration_seconds",
			Help:    "Total duration of retried operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	// RetryBackoffDuration measures backoff wait times.
	RetryBackoffDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retry_backoff_duration_seconds",
			Help:    "Duration of backoff waits in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "attempt"},
	)
)

// RecordRetryAttempt records one attempt of an operation.
func RecordRetryAttempt(operation string, attempt int) {
	RetryAttemptsTotal.WithLabelValues(operation, strconv.Itoa(attempt)).Inc()
}

// RecordRetrySuccess records an operation that succeeded.
func RecordRetrySuccess(operation string) {
	RetrySuccessTotal.WithLabelValues(operation).Inc()
}

// RecordRetryFailure records an operation that exhausted its attempts.
func RecordRetryFailure(operation string) {
	RetryFailureTotal.WithLabelValues(operation).Inc()
}

// RecordRetryDuration records the total duration of a retried operation.
func RecordRetryDuration(operation string, success bool, durationSeconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	RetryDuration.WithLabelValues(operation, result).Observe(durationSeconds)
}

// RecordBackoffDuration records a backoff wait duration.
func RecordBackoffDuration(operation string, attempt int, durationSeconds float64) {
	RetryBackoffDuration.WithLabelValues(operation, strconv.Itoa(attempt)).Observe(durationSeconds)
}
