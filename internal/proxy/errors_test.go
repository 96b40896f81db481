package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slowpost/gateway/internal/util"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"service unknown", util.NewServiceUnknownError("ghost"), http.StatusNotFound},
		{"circuit open", util.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"no healthy instance", util.NewNoHealthyInstanceError("letters"), http.StatusServiceUnavailable},
		{"gateway timeout", util.NewTimeoutError("letters", 0, context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"deadline exceeded", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"caller cancelled", context.Canceled, statusClientClosedRequest},
		{"upstream status carried", util.NewUpstreamStatusError("letters", "i", 503), http.StatusServiceUnavailable},
		{"upstream network error", util.NewUpstreamError("letters", "i", "refused", assert.AnError), http.StatusBadGateway},
		{"unclassified", assert.AnError, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, statusForError(tt.err))
		})
	}
}

func TestClassifyOutcome(t *testing.T) {
	assert.Equal(t, outcomeSuccess, classifyOutcome(nil))
	assert.Equal(t, outcomeServiceUnknown, classifyOutcome(util.NewServiceUnknownError("ghost")))
	assert.Equal(t, outcomeCircuitOpen, classifyOutcome(util.ErrCircuitOpen))
	assert.Equal(t, outcomeNoHealthyInstance, classifyOutcome(util.NewNoHealthyInstanceError("letters")))
	assert.Equal(t, outcomeGatewayTimeout, classifyOutcome(util.NewTimeoutError("letters", 0, nil)))
	assert.Equal(t, outcomeCancelled, classifyOutcome(context.Canceled))
	assert.Equal(t, outcomeUpstreamError, classifyOutcome(util.NewUpstreamStatusError("letters", "i", 502)))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, util.ErrCircuitOpen, 30)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"circuit_open","message":"service temporarily unavailable"}`, rec.Body.String())
}

func TestWriteError_NoRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, util.NewServiceUnknownError("ghost"), 0)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}
