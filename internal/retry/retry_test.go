package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/slowpost/gateway/internal/config"
	"github.com/slowpost/gateway/internal/util"
)

func fastPolicy() *Policy {
	return &Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		RetryOn:         []Condition{AlwaysRetry()},
	}
}

func TestPolicy_Execute_SuccessFirstAttempt(t *testing.T) {
	p := fastPolicy()

	calls := 0
	result := p.Execute(context.Background(), "test", func() error {
		calls++
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
	assert.NoError(t, result.LastErr)
	assert.Empty(t, result.Errs)
}

func TestPolicy_Execute_SuccessAfterRetries(t *testing.T) {
	p := fastPolicy()

	calls := 0
	result := p.Execute(context.Background(), "test", func() error {
		calls++
		if calls < 3 {
			return util.NewUpstreamError("letters", "10.0.0.1:8080", "connect failed", nil)
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.NoError(t, result.LastErr)
	// Intermediate errors are preserved for diagnosis.
	assert.Len(t, result.Errs, 2)
}

func TestPolicy_Execute_AllAttemptsExhausted(t *testing.T) {
	p := fastPolicy()

	testErr := errors.New("persistent failure")
	result := p.Execute(context.Background(), "test", func() error {
		return testErr
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, testErr, result.LastErr)
	assert.Len(t, result.Errs, 3)
	assert.Greater(t, result.Elapsed, time.Duration(0))
}

func TestPolicy_Execute_NonRetryableFailsAfterOneAttempt(t *testing.T) {
	p := fastPolicy().WithRetryOn(RetryOnUpstreamErrors())

	calls := 0
	result := p.Execute(context.Background(), "test", func() error {
		calls++
		return util.ErrGatewayTimeout
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, result.LastErr, util.ErrGatewayTimeout)
}

func TestPolicy_Execute_ContextCancelledBeforeFirstAttempt(t *testing.T) {
	p := fastPolicy()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result := p.Execute(ctx, "test", func() error {
		calls++
		return nil
	})

	assert.False(t, result.Success)
	assert.Equal(t, 0, calls)
	assert.ErrorIs(t, result.LastErr, context.Canceled)
}

func TestPolicy_Execute_CancellationInterruptsBackoff(t *testing.T) {
	p := &Policy{
		MaxAttempts:     2,
		InitialInterval: 10 * time.Second, // far longer than the test deadline
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
		RetryOn:         []Condition{AlwaysRetry()},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := p.Execute(ctx, "test", func() error {
		return errors.New("fail")
	})

	// The backoff wait must return as soon as the context fires.
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.LastErr, context.DeadlineExceeded)
	assert.Equal(t, 1, result.Attempts)
}

func TestPolicy_Execute_EmptyConditionsRetryAnyError(t *testing.T) {
	p := fastPolicy().WithRetryOn()

	calls := 0
	result := p.Execute(context.Background(), "test", func() error {
		calls++
		return errors.New("whatever")
	})

	assert.Equal(t, 3, calls)
	assert.False(t, result.Success)
}

func TestNoRetryPolicy(t *testing.T) {
	p := NoRetryPolicy()

	calls := 0
	result := p.Execute(context.Background(), "test", func() error {
		calls++
		return errors.New("fail")
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.Success)
}

func TestPolicy_Validate(t *testing.T) {
	p := &Policy{
		MaxAttempts:     0,
		InitialInterval: 0,
		MaxInterval:     0,
		Multiplier:      0,
	}

	p.Validate()

	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.InitialInterval)
	assert.Equal(t, 10*time.Second, p.MaxInterval)
	assert.Equal(t, 2.0, p.Multiplier)
}

func TestPolicy_Validate_MaxBelowInitial(t *testing.T) {
	p := &Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      2.0,
	}

	p.Validate()

	assert.Equal(t, time.Second, p.MaxInterval)
}

func TestPolicyFromConfig(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	cfg := config.RetryConfig{
		MaxAttempts:     5,
		InitialInterval: config.Duration(50 * time.Millisecond),
		MaxInterval:     config.Duration(2 * time.Second),
		Multiplier:      1.5,
		Jitter:          true,
	}

	p := PolicyFromConfig(cfg, logger)

	require.NotNil(t, p)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, p.InitialInterval)
	assert.Equal(t, 2*time.Second, p.MaxInterval)
	assert.Equal(t, 1.5, p.Multiplier)
	assert.True(t, p.Jitter)
	assert.Equal(t, logger, p.Logger)
}

func TestPolicyFromConfig_ZeroValuesFallBackToDefaults(t *testing.T) {
	p := PolicyFromConfig(config.RetryConfig{}, nil)

	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.InitialInterval)
	assert.Equal(t, 10*time.Second, p.MaxInterval)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.False(t, p.Jitter)
}

func TestPolicy_Builders(t *testing.T) {
	p := DefaultPolicy().
		WithMaxAttempts(7).
		WithInitialInterval(time.Millisecond).
		WithMaxInterval(time.Second).
		WithMultiplier(3.0).
		WithJitter(false).
		WithRetryOn(NeverRetry())

	assert.Equal(t, 7, p.MaxAttempts)
	assert.Equal(t, time.Millisecond, p.InitialInterval)
	assert.Equal(t, time.Second, p.MaxInterval)
	assert.Equal(t, 3.0, p.Multiplier)
	assert.False(t, p.Jitter)
	assert.Len(t, p.RetryOn, 1)
}
