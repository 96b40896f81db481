package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Backoff defines the interface for backoff strategies.
type Backoff interface {
	// Next returns the duration to wait before the given retry attempt.
	// Attempts are numbered from 1: Next(1) is the wait before the first
	// retry, i.e. before the second call of the operation.
	Next(attempt int) time.Duration
}

// jitterFraction is how far above the base delay the jitter may widen it.
const jitterFraction = 0.1

// ExponentialBackoff implements capped exponential backoff with optional
// widening jitter. The base delay for retry n is
// min(maxInterval, initialInterval * multiplier^(n-1)); when jitter is
// enabled the delay is widened by a random amount of up to 10% so
// concurrent callers do not retry in lockstep.
type ExponentialBackoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     bool

	mu   sync.Mutex
	rand *rand.Rand
}

// NewExponentialBackoff creates a new exponential backoff.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, jitter bool) *ExponentialBackoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	if multiplier < 1 {
		multiplier = 2.0
	}
	return &ExponentialBackoff{
		initial:    initial,
		max:        max,
		multiplier: multiplier,
		jitter:     jitter,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // retry timing is not security-sensitive
	}
}

// Next implements Backoff.
func (b *ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.initial) * math.Pow(b.multiplier, float64(attempt-1))
	if delay > float64(b.max) {
		delay = float64(b.max)
	}

	if b.jitter {
		b.mu.Lock()
		delay += delay * jitterFraction * b.rand.Float64()
		b.mu.Unlock()
	}

	return time.Duration(delay)
}

// ConstantBackoff waits the same interval before every retry.
type ConstantBackoff struct {
	interval time.Duration
}

// NewConstantBackoff creates a new constant backoff.
func NewConstantBackoff(interval time.Duration) *ConstantBackoff {
	return &ConstantBackoff{interval: interval}
}

// Next implements Backoff.
func (b *ConstantBackoff) Next(attempt int) time.Duration {
	return b.interval
}
