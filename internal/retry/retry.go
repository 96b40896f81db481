package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/slowpost/gateway/internal/config"
)

// Policy defines the retry policy configuration.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps the delay between retries.
	MaxInterval time.Duration

	// Multiplier grows the delay between consecutive retries.
	Multiplier float64

	// Jitter widens each delay by up to 10% when enabled.
	Jitter bool

	// RetryOn lists the conditions under which a failed attempt is
	// retried. An empty list retries any error.
	RetryOn []Condition

	// Logger for logging retry attempts.
	Logger *zap.Logger
}

// DefaultPolicy returns a Policy with default values.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		RetryOn:         []Condition{RetryOnUpstreamErrors()},
	}
}

// NoRetryPolicy returns a policy that gives every operation exactly one
// attempt.
func NoRetryPolicy() *Policy {
	return &Policy{MaxAttempts: 1}
}

// PolicyFromConfig builds a Policy from a service's retry configuration.
func PolicyFromConfig(cfg config.RetryConfig, logger *zap.Logger) *Policy {
	p := DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval.Duration() > 0 {
		p.InitialInterval = cfg.InitialInterval.Duration()
	}
	if cfg.MaxInterval.Duration() > 0 {
		p.MaxInterval = cfg.MaxInterval.Duration()
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	p.Jitter = cfg.Jitter
	p.Logger = logger
	return p
}

// Validate normalizes out-of-range policy values.
func (p *Policy) Validate() {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = 100 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 10 * time.Second
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
}

// WithMaxAttempts sets the attempt budget.
func (p *Policy) WithMaxAttempts(n int) *Policy {
	p.MaxAttempts = n
	return p
}

// WithInitialInterval sets the initial retry delay.
func (p *Policy) WithInitialInterval(d time.Duration) *Policy {
	p.InitialInterval = d
	return p
}

// WithMaxInterval sets the maximum retry delay.
func (p *Policy) WithMaxInterval(d time.Duration) *Policy {
	p.MaxInterval = d
	return p
}

// WithMultiplier sets the backoff multiplier.
func (p *Policy) WithMultiplier(f float64) *Policy {
	p.Multiplier = f
	return p
}

// WithJitter enables or disables jitter.
func (p *Policy) WithJitter(jitter bool) *Policy {
	p.Jitter = jitter
	return p
}

// WithRetryOn sets the retry conditions.
func (p *Policy) WithRetryOn(conditions ...Condition) *Policy {
	p.RetryOn = conditions
	return p
}

// WithLogger sets the logger.
func (p *Policy) WithLogger(logger *zap.Logger) *Policy {
	p.Logger = logger
	return p
}

// Result carries the full outcome of a retried operation.
type Result struct {
	// Success is true when some attempt returned nil.
	Success bool

	// Attempts is the number of attempts actually made.
	Attempts int

	// Elapsed is the wall time spent across all attempts and waits.
	Elapsed time.Duration

	// Errs holds the error from every failed attempt, in order.
	Errs []error

	// LastErr is the error from the final attempt, nil on success.
	LastErr error
}

// Execute runs op with retry logic and returns the full result.
//
// An attempt is retried only while the attempt budget is not exhausted,
// a retry condition matches the error, and ctx has not been cancelled.
// The wait between attempts is itself interruptible by ctx.
func (p *Policy) Execute(ctx context.Context, operation string, op func() error) Result {
	p.Validate()

	backoff := NewExponentialBackoff(p.InitialInterval, p.MaxInterval, p.Multiplier, p.Jitter)
	start := time.Now()

	result := Result{}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			result.LastErr = err
			result.Errs = append(result.Errs, err)
			result.Elapsed = time.Since(start)
			RecordRetryFailure(operation)
			return result
		}

		result.Attempts = attempt
		RecordRetryAttempt(operation, attempt)

		err := op()
		if err == nil {
			result.Success = true
			result.LastErr = nil
			result.Elapsed = time.Since(start)
			RecordRetrySuccess(operation)
			RecordRetryDuration(operation, true, result.Elapsed.Seconds())
			return result
		}

		result.Errs = append(result.Errs, err)
		result.LastErr = err

		if attempt == p.MaxAttempts || !p.shouldRetry(err) {
			break
		}

		wait := backoff.Next(attempt)

		if p.Logger != nil {
			p.Logger.Debug("retrying operation",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}

		RecordBackoffDuration(operation, attempt, wait.Seconds())

		select {
		case <-ctx.Done():
			result.LastErr = ctx.Err()
			result.Errs = append(result.Errs, ctx.Err())
			result.Elapsed = time.Since(start)
			RecordRetryFailure(operation)
			return result
		case <-time.After(wait):
		}
	}

	result.Elapsed = time.Since(start)
	RecordRetryFailure(operation)
	RecordRetryDuration(operation, false, result.Elapsed.Seconds())
	return result
}

// shouldRetry checks whether any configured condition matches.
func (p *Policy) shouldRetry(err error) bool {
	if len(p.RetryOn) == 0 {
		return err != nil
	}

	for _, condition := range p.RetryOn {
		if condition.ShouldRetry(err) {
			return true
		}
	}

	return false
}
