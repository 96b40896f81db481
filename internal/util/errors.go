// Package util provides shared utility types for the gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrServiceUnknown.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., UpstreamError). Each type implements
//     Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
package util

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors.
var (
	ErrServiceUnknown    = errors.New("service unknown")
	ErrNoHealthyInstance = errors.New("no healthy instance")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrGatewayTimeout    = errors.New("gateway timeout")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrConfigInvalid     = errors.New("invalid configuration")
)

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// ServiceUnknownError is returned when a request names a service that
// is not present in the service registry.
type ServiceUnknownError struct {
	Service string
}

// Error implements the error interface.
func (e *ServiceUnknownError) Error() string {
	return fmt.Sprintf("unknown service: %s", e.Service)
}

// Is checks if the error matches the target.
func (e *ServiceUnknownError) Is(target error) bool {
	if target == ErrServiceUnknown {
		return true
	}
	_, ok := target.(*ServiceUnknownError)
	return ok
}

// NewServiceUnknownError creates a new ServiceUnknownError.
func NewServiceUnknownError(service string) *ServiceUnknownError {
	return &ServiceUnknownError{Service: service}
}

// NoHealthyInstanceError is returned by the load balancer when every
// instance of a service is marked unhealthy.
type NoHealthyInstanceError struct {
	Service string
}

// Error implements the error interface.
func (e *NoHealthyInstanceError) Error() string {
	return fmt.Sprintf("no healthy instance for service %s", e.Service)
}

// Is checks if the error matches the target.
func (e *NoHealthyInstanceError) Is(target error) bool {
	if target == ErrNoHealthyInstance {
		return true
	}
	_, ok := target.(*NoHealthyInstanceError)
	return ok
}

// NewNoHealthyInstanceError creates a new NoHealthyInstanceError.
func NewNoHealthyInstanceError(service string) *NoHealthyInstanceError {
	return &NoHealthyInstanceError{Service: service}
}

// UpstreamError represents a failure reaching or talking to an upstream
// instance. It feeds the circuit breaker's failure classifier.
type UpstreamError struct {
	Service  string
	Instance string
	Message  string
	// StatusCode is the HTTP status the upstream answered with,
	// zero when the call failed before any response arrived.
	StatusCode int
	Cause      error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("upstream %s (%s): %s: %v", e.Service, e.Instance, e.Message, e.Cause)
	}
	return fmt.Sprintf("upstream %s (%s): %s", e.Service, e.Instance, e.Message)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *UpstreamError) Is(target error) bool {
	_, ok := target.(*UpstreamError)
	return ok || errors.Is(e.Cause, target)
}

// NewUpstreamError creates a new UpstreamError.
func NewUpstreamError(service, instance, message string, cause error) *UpstreamError {
	return &UpstreamError{Service: service, Instance: instance, Message: message, Cause: cause}
}

// NewUpstreamStatusError creates an UpstreamError for an error-class
// HTTP response received from an upstream instance.
func NewUpstreamStatusError(service, instance string, statusCode int) *UpstreamError {
	return &UpstreamError{
		Service:    service,
		Instance:   instance,
		Message:    fmt.Sprintf("upstream returned status %d", statusCode),
		StatusCode: statusCode,
	}
}

// TimeoutError represents the gateway's own deadline firing before an
// upstream response was received.
type TimeoutError struct {
	Service  string
	Deadline time.Duration
	Cause    error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gateway timeout after %v for service %s", e.Deadline, e.Service)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if target == ErrGatewayTimeout {
		return true
	}
	_, ok := target.(*TimeoutError)
	return ok || errors.Is(e.Cause, target)
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(service string, deadline time.Duration, cause error) *TimeoutError {
	return &TimeoutError{Service: service, Deadline: deadline, Cause: cause}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsRetryable returns true if the error is safe to retry against
// another (or the same) instance.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrGatewayTimeout) {
		return false
	}

	var upstreamErr *UpstreamError
	return errors.As(err, &upstreamErr)
}

// IsUnavailable returns true for the service-unavailable error class
// (circuit open or no healthy instance).
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrNoHealthyInstance)
}
