package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/slowpost/gateway/internal/util"
)

// statusClientClosedRequest is the nginx convention for a caller that
// disconnected before a response could be written.
const statusClientClosedRequest = 499

// Outcome labels used in logs and metrics.
const (
	outcomeSuccess           = "success"
	outcomeServiceUnknown    = "service_unknown"
	outcomeCircuitOpen       = "circuit_open"
	outcomeNoHealthyInstance = "no_healthy_instance"
	outcomeUpstreamError     = "upstream_error"
	outcomeGatewayTimeout    = "gateway_timeout"
	outcomeCancelled         = "cancelled"
)

// classifyOutcome maps a terminal proxy error to its outcome label.
func classifyOutcome(err error) string {
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, util.ErrServiceUnknown):
		return outcomeServiceUnknown
	case errors.Is(err, util.ErrCircuitOpen):
		return outcomeCircuitOpen
	case errors.Is(err, util.ErrNoHealthyInstance):
		return outcomeNoHealthyInstance
	case errors.Is(err, util.ErrGatewayTimeout), errors.Is(err, context.DeadlineExceeded):
		return outcomeGatewayTimeout
	case errors.Is(err, context.Canceled):
		return outcomeCancelled
	default:
		return outcomeUpstreamError
	}
}

// statusForError maps a terminal proxy error to the HTTP status the
// caller receives. The four outcome classes stay distinguishable:
// unknown service is 404, unavailable (circuit open or no healthy
// instance) is 503, gateway timeout is 504, and upstream failures that
// never produced a response are 502.
func statusForError(err error) int {
	switch {
	case errors.Is(err, util.ErrServiceUnknown):
		return http.StatusNotFound
	case util.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, util.ErrGatewayTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	}

	var upstreamErr *util.UpstreamError
	if errors.As(err, &upstreamErr) && upstreamErr.StatusCode != 0 {
		return upstreamErr.StatusCode
	}
	return http.StatusBadGateway
}

// errorMessage is the caller-facing message for each outcome class.
func errorMessage(outcome string) string {
	switch outcome {
	case outcomeServiceUnknown:
		return "no service configured for this path"
	case outcomeCircuitOpen:
		return "service temporarily unavailable"
	case outcomeNoHealthyInstance:
		return "no healthy instance available"
	case outcomeGatewayTimeout:
		return "upstream did not respond in time"
	case outcomeCancelled:
		return "request cancelled"
	default:
		return "upstream request failed"
	}
}

// writeError writes the JSON error response for a terminal failure.
// retryAfter, when positive, is surfaced as a Retry-After header so
// callers know when a circuit-open rejection is worth retrying.
func writeError(w http.ResponseWriter, err error, retryAfter int) {
	outcome := classifyOutcome(err)
	status := statusForError(err)

	w.Header().Set("Content-Type", "application/json")
	if retryAfter > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, fmt.Sprintf(`{"error":%q,"message":%q}`, outcome, errorMessage(outcome)))
}
