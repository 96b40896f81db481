package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowpost/gateway/internal/config"
	"github.com/slowpost/gateway/internal/observability"
)

func TestRateLimiter_GlobalLimit(t *testing.T) {
	rl := NewRateLimiter(1, 2, false)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("c"), "burst of 2 exhausted")
}

func TestRateLimiter_PerClientIsolation(t *testing.T) {
	rl := NewRateLimiter(1, 1, true)

	assert.True(t, rl.Allow("sender-a"))
	assert.False(t, rl.Allow("sender-a"))
	assert.True(t, rl.Allow("sender-b"), "each client has its own bucket")
}

func TestRateLimiter_EvictIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1, true)

	rl.Allow("old")
	require.Equal(t, 1, rl.ClientCount())

	rl.mu.Lock()
	rl.clients["old"].lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.evictIdleClients(defaultClientTTL)
	assert.Equal(t, 0, rl.ClientCount())
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, true)
	rl.StartCleanup()
	rl.Stop()
	rl.Stop()
}

func TestRateLimit_RejectsWith429(t *testing.T) {
	rl := NewRateLimiter(1, 1, false)
	h := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limited")
}

func TestRateLimitFromConfig_Disabled(t *testing.T) {
	mw, rl := RateLimitFromConfig(nil, observability.NopLogger())
	assert.Nil(t, rl)

	called := false
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestRateLimitFromConfig_Enabled(t *testing.T) {
	mw, rl := RateLimitFromConfig(&config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
		PerClient:         true,
	}, observability.NopLogger())
	require.NotNil(t, rl)
	defer rl.Stop()

	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:1000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
