package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/slowpost/gateway/internal/util"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates the circuit is testing if the backend recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a request,
// either because it is open or because the half-open trial quota is spent.
var ErrCircuitOpen = util.ErrCircuitOpen

// outcome is one recorded call result inside the sliding window.
type outcome struct {
	at      time.Time
	success bool
}

// CircuitBreaker implements a generation-tagged circuit breaker.
//
// Every state transition increments the generation counter. A caller obtains
// the current generation from Allow and passes it back when recording the
// outcome; results carrying a stale generation are discarded, so a slow call
// cannot corrupt a breaker that has since moved on.
type CircuitBreaker struct {
	name   string
	config *Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64

	window []outcome

	consecutiveFails     int
	consecutiveSuccesses int
	halfOpenRequests     int

	lastFailure     time.Time
	lastStateChange time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config *Config, logger *zap.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	if logger == nil {
		logger = zap.NewNop()
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn with circuit breaker protection.
//
// Caller-side context cancellation is recorded as neutral: it releases the
// half-open trial slot but counts neither as success nor failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	gen, err := cb.Allow()
	if err != nil {
		return err
	}

	opErr := fn()

	switch {
	case cb.isCallerCancellation(ctx, opErr):
		cb.RecordNeutral(gen)
	case cb.isFailure(opErr):
		cb.RecordFailure(gen)
	default:
		cb.RecordSuccess(gen)
	}

	return opErr
}

// ExecuteWithFallback runs fn, invoking fallback when the breaker rejected
// the call. Errors returned by fn itself are not routed to the fallback.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func() error, fallback func(error) error) error {
	gen, err := cb.Allow()
	if err != nil {
		return fallback(err)
	}

	opErr := fn()

	switch {
	case cb.isCallerCancellation(ctx, opErr):
		cb.RecordNeutral(gen)
	case cb.isFailure(opErr):
		cb.RecordFailure(gen)
	default:
		cb.RecordSuccess(gen)
	}

	return opErr
}

// Allow decides whether a request may proceed. On admission it returns the
// current generation, which must be passed back to RecordSuccess,
// RecordFailure or RecordNeutral once the call completes.
func (cb *CircuitBreaker) Allow() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()

	switch cb.state {
	case StateClosed:
		RecordRequest(cb.name, true)
		return cb.generation, nil

	case StateOpen:
		if now.Sub(cb.lastStateChange) >= cb.config.OpenTimeout {
			cb.transitionTo(StateHalfOpen, now)
			cb.halfOpenRequests = 1
			RecordRequest(cb.name, true)
			return cb.generation, nil
		}
		RecordRequest(cb.name, false)
		return 0, ErrCircuitOpen

	case StateHalfOpen:
		if cb.halfOpenRequests < cb.config.HalfOpenMaxRequests {
			cb.halfOpenRequests++
			RecordRequest(cb.name, true)
			return cb.generation, nil
		}
		RecordRequest(cb.name, false)
		return 0, ErrCircuitOpen

	default:
		RecordRequest(cb.name, false)
		return 0, ErrCircuitOpen
	}
}

// RecordSuccess records a successful outcome for the given generation.
func (cb *CircuitBreaker) RecordSuccess(gen uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if gen != cb.generation {
		RecordStaleResult(cb.name)
		return
	}

	now := time.Now()
	cb.appendOutcome(now, true)
	cb.consecutiveSuccesses++
	cb.consecutiveFails = 0

	RecordSuccess(cb.name)

	if cb.state == StateHalfOpen {
		if cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed, now)
			return
		}
		// The trial finished without deciding the state, so its slot
		// goes back to the pool. The cap bounds in-flight trials, not
		// the total across the half-open period.
		if cb.halfOpenRequests > 0 {
			cb.halfOpenRequests--
		}
	}
}

// RecordFailure records a failed outcome for the given generation.
func (cb *CircuitBreaker) RecordFailure(gen uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if gen != cb.generation {
		RecordStaleResult(cb.name)
		return
	}

	now := time.Now()
	cb.appendOutcome(now, false)
	cb.consecutiveFails++
	cb.consecutiveSuccesses = 0
	cb.lastFailure = now

	RecordFailure(cb.name)

	switch cb.state {
	case StateClosed:
		if cb.shouldOpen() {
			cb.transitionTo(StateOpen, now)
		}

	case StateHalfOpen:
		// Any failure while half-open reopens the circuit.
		cb.transitionTo(StateOpen, now)
	}
}

// RecordNeutral discards an outcome that should count neither way, such as a
// call aborted by the caller. In half-open it releases the trial slot.
func (cb *CircuitBreaker) RecordNeutral(gen uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if gen != cb.generation {
		RecordStaleResult(cb.name)
		return
	}

	if cb.state == StateHalfOpen && cb.halfOpenRequests > 0 {
		cb.halfOpenRequests--
	}
}

// shouldOpen evaluates the trip conditions. Called with the lock held.
func (cb *CircuitBreaker) shouldOpen() bool {
	total := len(cb.window)
	if total < cb.config.MinRequests {
		return false
	}

	// Consecutive failures are checked before the rate condition.
	if cb.consecutiveFails >= cb.config.FailureThreshold {
		return true
	}

	if cb.config.FailureRateThreshold > 0 {
		failures := 0
		for _, o := range cb.window {
			if !o.success {
				failures++
			}
		}
		if float64(failures)/float64(total) >= cb.config.FailureRateThreshold {
			return true
		}
	}

	return false
}

// appendOutcome adds an outcome and evicts entries older than the window.
// Called with the lock held.
func (cb *CircuitBreaker) appendOutcome(now time.Time, success bool) {
	cutoff := now.Add(-cb.config.WindowDuration)
	keep := 0
	for ; keep < len(cb.window); keep++ {
		if cb.window[keep].at.After(cutoff) {
			break
		}
	}
	if keep > 0 {
		cb.window = cb.window[keep:]
	}
	cb.window = append(cb.window, outcome{at: now, success: success})
}

// transitionTo moves the breaker to a new state. Called with the lock held.
func (cb *CircuitBreaker) transitionTo(newState State, now time.Time) {
	oldState := cb.state
	cb.state = newState
	cb.generation++
	cb.lastStateChange = now

	cb.window = cb.window[:0]
	cb.consecutiveFails = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenRequests = 0

	RecordStateChange(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
		zap.Uint64("generation", cb.generation),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// isFailure classifies an error as a breaker failure.
func (cb *CircuitBreaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}
	return true
}

// isCallerCancellation reports whether the error stems from the caller
// abandoning the request rather than the upstream misbehaving.
func (cb *CircuitBreaker) isCallerCancellation(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(ctx.Err(), context.Canceled) && errors.Is(err, context.Canceled)
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Generation returns the current generation counter.
func (cb *CircuitBreaker) Generation() uint64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.generation
}

// Reset forces the circuit breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.transitionTo(StateClosed, time.Now())
		return
	}

	cb.window = cb.window[:0]
	cb.consecutiveFails = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenRequests = 0
	cb.generation++
	cb.lastStateChange = time.Now()

	cb.logger.Info("circuit breaker reset",
		zap.String("name", cb.name),
	)
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats holds a point-in-time view of a circuit breaker.
type Stats struct {
	State                State
	Generation           uint64
	WindowRequests       int
	WindowFailures       int
	ConsecutiveFails     int
	ConsecutiveSuccesses int
	LastFailure          time.Time
	LastStateChange      time.Time
}

// FailureRate returns the failure rate over the current window.
func (s Stats) FailureRate() float64 {
	if s.WindowRequests == 0 {
		return 0
	}
	return float64(s.WindowFailures) / float64(s.WindowRequests)
}

// Stats returns the current statistics of the circuit breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failures := 0
	for _, o := range cb.window {
		if !o.success {
			failures++
		}
	}

	return Stats{
		State:                cb.state,
		Generation:           cb.generation,
		WindowRequests:       len(cb.window),
		WindowFailures:       failures,
		ConsecutiveFails:     cb.consecutiveFails,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		LastFailure:          cb.lastFailure,
		LastStateChange:      cb.lastStateChange,
	}
}
