package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CircuitBreakerState exposes the current state per breaker.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerRequestsTotal counts permit decisions per breaker.
	CircuitBreakerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Permit decisions made by the circuit breaker",
		},
		[]string{"name", "result"},
	)

	// CircuitBreakerOutcomesTotal counts recorded call outcomes.
	CircuitBreakerOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_outcomes_total",
			Help: "Call outcomes recorded against the circuit breaker",
		},
		[]string{"name", "outcome"},
	)

	// CircuitBreakerStateChangesTotal counts transitions between states.
	CircuitBreakerStateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// CircuitBreakerStaleResultsTotal counts results discarded because
	// the breaker changed generation while the call was in flight.
	CircuitBreakerStaleResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_stale_results_total",
			Help: "Call results discarded due to a generation change",
		},
		[]string{"name"},
	)
)

// RecordState publishes the breaker's current state.
func RecordState(name string, state State) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRequest counts one permit decision.
func RecordRequest(name string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	CircuitBreakerRequestsTotal.WithLabelValues(name, result).Inc()
}

// RecordFailure counts one failed call.
func RecordFailure(name string) {
	CircuitBreakerOutcomesTotal.WithLabelValues(name, "failure").Inc()
}

// RecordSuccess counts one successful call.
func RecordSuccess(name string) {
	CircuitBreakerOutcomesTotal.WithLabelValues(name, "success").Inc()
}

// RecordStaleResult counts a result dropped because its generation
// no longer matches the breaker's.
func RecordStaleResult(name string) {
	CircuitBreakerStaleResultsTotal.WithLabelValues(name).Inc()
}

// RecordStateChange counts a transition and updates the state gauge.
func RecordStateChange(name string, from, to State) {
	CircuitBreakerStateChangesTotal.WithLabelValues(name, from.String(), to.String()).Inc()
	RecordState(name, to)
}
