package retry

import (
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/slowpost/gateway/internal/util"
)

// Condition decides whether a failed attempt should be retried.
type Condition interface {
	// ShouldRetry returns true if the operation should be retried.
	ShouldRetry(err error) bool
}

// ConditionFunc adapts a plain function to the Condition interface.
type ConditionFunc func(err error) bool

// ShouldRetry implements Condition.
func (f ConditionFunc) ShouldRetry(err error) bool {
	return f(err)
}

// UpstreamCondition retries on transient upstream errors as classified
// by the shared error taxonomy.
type UpstreamCondition struct{}

// RetryOnUpstreamErrors creates a condition that retries on transient
// upstream errors.
func RetryOnUpstreamErrors() *UpstreamCondition {
	return &UpstreamCondition{}
}

// ShouldRetry implements Condition.
func (c *UpstreamCondition) ShouldRetry(err error) bool {
	return util.IsRetryable(err)
}

// StatusCodeCondition retries when an upstream answered with one of the
// configured HTTP status codes.
type StatusCodeCondition struct {
	codes map[int]bool
}

// RetryOnStatusCodes creates a condition that retries on specific HTTP
// status codes carried by an upstream error.
func RetryOnStatusCodes(statusCodes ...int) *StatusCodeCondition {
	codeMap := make(map[int]bool)
	for _, code := range statusCodes {
		codeMap[code] = true
	}
	return &StatusCodeCondition{codes: codeMap}
}

// RetryableStatusCodes returns the common retryable HTTP status codes.
func RetryableStatusCodes() *StatusCodeCondition {
	return RetryOnStatusCodes(
		502, // Bad Gateway
		503, // Service Unavailable
		504, // Gateway Timeout
	)
}

// ShouldRetry implements Condition.
func (c *StatusCodeCondition) ShouldRetry(err error) bool {
	var upstreamErr *util.UpstreamError
	if !errors.As(err, &upstreamErr) {
		return false
	}
	return c.codes[upstreamErr.StatusCode]
}

// NetworkErrorCondition retries on network-level failures.
type NetworkErrorCondition struct{}

// RetryOnNetworkErrors creates a condition that retries on network errors.
func RetryOnNetworkErrors() *NetworkErrorCondition {
	return &NetworkErrorCondition{}
}

// ShouldRetry implements Condition.
func (c *NetworkErrorCondition) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout() || urlErr.Temporary()
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

// GRPCStatusCondition retries on specific gRPC status codes.
type GRPCStatusCondition struct {
	codes map[codes.Code]bool
}

// RetryOnGRPCCodes creates a condition that retries on specific gRPC
// status codes.
func RetryOnGRPCCodes(grpcCodes ...codes.Code) *GRPCStatusCondition {
	codeMap := make(map[codes.Code]bool)
	for _, code := range grpcCodes {
		codeMap[code] = true
	}
	return &GRPCStatusCondition{codes: codeMap}
}

// RetryableGRPCCodes returns common retryable gRPC status codes.
func RetryableGRPCCodes() *GRPCStatusCondition {
	return RetryOnGRPCCodes(
		codes.Unavailable,
		codes.ResourceExhausted,
		codes.Aborted,
	)
}

// ShouldRetry implements Condition.
func (c *GRPCStatusCondition) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	return c.codes[st.Code()]
}

// CompositeCondition combines conditions with OR logic.
type CompositeCondition struct {
	conditions []Condition
}

// RetryOnAny creates a condition that retries if any condition matches.
func RetryOnAny(conditions ...Condition) *CompositeCondition {
	return &CompositeCondition{conditions: conditions}
}

// ShouldRetry implements Condition.
func (c *CompositeCondition) ShouldRetry(err error) bool {
	for _, condition := range c.conditions {
		if condition.ShouldRetry(err) {
			return true
		}
	}
	return false
}

// NeverRetryCondition never retries.
type NeverRetryCondition struct{}

// NeverRetry creates a condition that never retries.
func NeverRetry() *NeverRetryCondition {
	return &NeverRetryCondition{}
}

// ShouldRetry implements Condition.
func (c *NeverRetryCondition) ShouldRetry(err error) bool {
	return false
}

// AlwaysRetryCondition retries any error, up to the attempt budget.
type AlwaysRetryCondition struct{}

// AlwaysRetry creates a condition that retries any error.
func AlwaysRetry() *AlwaysRetryCondition {
	return &AlwaysRetryCondition{}
}

// ShouldRetry implements Condition.
func (c *AlwaysRetryCondition) ShouldRetry(err error) bool {
	return err != nil
}

// IdempotentMethodCondition delegates to an inner condition only for
// idempotent HTTP methods.
type IdempotentMethodCondition struct {
	method    string
	condition Condition
}

// RetryIfIdempotent creates a condition that only retries for idempotent
// HTTP methods.
func RetryIfIdempotent(method string, condition Condition) *IdempotentMethodCondition {
	return &IdempotentMethodCondition{
		method:    method,
		condition: condition,
	}
}

// ShouldRetry implements Condition.
func (c *IdempotentMethodCondition) ShouldRetry(err error) bool {
	switch c.method {
	case "GET", "HEAD", "OPTIONS", "PUT", "DELETE":
		return c.condition.ShouldRetry(err)
	default:
		return false
	}
}
