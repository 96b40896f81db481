// Package circuitbreaker provides circuit breaker functionality for the gateway.
// It implements the circuit breaker pattern to prevent cascading failures.
package circuitbreaker

import (
	"time"

	"github.com/slowpost/gateway/internal/config"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit once MinRequests outcomes have been recorded.
	FailureThreshold int

	// FailureRateThreshold is the failure rate (0.0 to 1.0) within the sliding
	// window that opens the circuit. Zero disables rate-based tripping.
	FailureRateThreshold float64

	// MinRequests is the minimum number of outcomes recorded in the sliding
	// window before either trip condition is evaluated.
	MinRequests int

	// WindowDuration is the span of the sliding outcome window.
	WindowDuration time.Duration

	// OpenTimeout is the duration the circuit stays open before the next call
	// is allowed to transition it to half-open.
	OpenTimeout time.Duration

	// HalfOpenMaxRequests is the maximum number of trial requests in
	// flight at once while half-open. A completed trial frees its slot.
	HalfOpenMaxRequests int

	// SuccessThreshold is the number of consecutive successes needed to close
	// the circuit from half-open.
	SuccessThreshold int

	// IsFailure determines whether an error counts as a failure.
	// If nil, any non-nil error is a failure.
	IsFailure func(err error) bool

	// OnStateChange is called when the circuit breaker changes state.
	// It is invoked asynchronously and must not be relied on for ordering.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:     5,
		FailureRateThreshold: 0,
		MinRequests:          10,
		WindowDuration:       time.Minute,
		OpenTimeout:          30 * time.Second,
		HalfOpenMaxRequests:  3,
		SuccessThreshold:     2,
	}
}

// FromConfig builds a Config from a service's circuit breaker
// configuration. A nil cfg yields the defaults.
func FromConfig(cfg *config.CircuitBreakerConfig) *Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	if cfg.FailureThreshold > 0 {
		c.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.FailureRateThreshold > 0 && cfg.FailureRateThreshold <= 1 {
		c.FailureRateThreshold = cfg.FailureRateThreshold
	}
	if cfg.MinRequests > 0 {
		c.MinRequests = cfg.MinRequests
	}
	if cfg.WindowDuration.Duration() > 0 {
		c.WindowDuration = cfg.WindowDuration.Duration()
	}
	if cfg.OpenTimeout.Duration() > 0 {
		c.OpenTimeout = cfg.OpenTimeout.Duration()
	}
	if cfg.HalfOpenMaxRequests > 0 {
		c.HalfOpenMaxRequests = cfg.HalfOpenMaxRequests
	}
	if cfg.SuccessThreshold > 0 {
		c.SuccessThreshold = cfg.SuccessThreshold
	}
	return c
}

// Validate normalizes out-of-range values to their defaults.
func (c *Config) Validate() error {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 5
	}
	if c.FailureRateThreshold < 0 || c.FailureRateThreshold > 1 {
		c.FailureRateThreshold = 0
	}
	if c.MinRequests < 1 {
		c.MinRequests = 10
	}
	if c.WindowDuration < time.Second {
		c.WindowDuration = time.Minute
	}
	if c.OpenTimeout < time.Millisecond {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests < 1 {
		c.HalfOpenMaxRequests = 3
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 2
	}
	return nil
}

// WithFailureThreshold sets the consecutive failure threshold.
func (c *Config) WithFailureThreshold(n int) *Config {
	c.FailureThreshold = n
	return c
}

// WithFailureRateThreshold sets the failure rate threshold.
func (c *Config) WithFailureRateThreshold(rate float64) *Config {
	c.FailureRateThreshold = rate
	return c
}

// WithMinRequests sets the minimum outcomes for trip evaluation.
func (c *Config) WithMinRequests(n int) *Config {
	c.MinRequests = n
	return c
}

// WithWindowDuration sets the sliding window span.
func (c *Config) WithWindowDuration(d time.Duration) *Config {
	c.WindowDuration = d
	return c
}

// WithOpenTimeout sets the open state timeout.
func (c *Config) WithOpenTimeout(d time.Duration) *Config {
	c.OpenTimeout = d
	return c
}

// WithHalfOpenMaxRequests sets the half-open trial request cap.
func (c *Config) WithHalfOpenMaxRequests(n int) *Config {
	c.HalfOpenMaxRequests = n
	return c
}

// WithSuccessThreshold sets the half-open success threshold.
func (c *Config) WithSuccessThreshold(n int) *Config {
	c.SuccessThreshold = n
	return c
}

// WithIsFailure sets the failure classifier.
func (c *Config) WithIsFailure(fn func(err error) bool) *Config {
	c.IsFailure = fn
	return c
}

// WithOnStateChange sets the state change callback.
func (c *Config) WithOnStateChange(fn func(name string, from, to State)) *Config {
	c.OnStateChange = fn
	return c
}
