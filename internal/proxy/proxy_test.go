package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/slowpost/gateway/internal/backend"
	"github.com/slowpost/gateway/internal/circuitbreaker"
	"github.com/slowpost/gateway/internal/config"
	"github.com/slowpost/gateway/internal/metrics"
	"github.com/slowpost/gateway/internal/router"
)

// instanceFor converts an httptest server address into instance config.
func instanceFor(t *testing.T, srv *httptest.Server) config.InstanceConfig {
	t.Helper()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return config.InstanceConfig{Address: host, Port: port, Weight: 1}
}

// newTestHandler wires a single-service gateway routed at /letters.
func newTestHandler(t *testing.T, cfg config.ServiceConfig) (*Handler, *metrics.Registry) {
	t.Helper()

	rt, err := router.New([]config.RouteConfig{{Prefix: "/letters", Service: cfg.Name}})
	require.NoError(t, err)

	svc, err := backend.NewService(cfg)
	require.NoError(t, err)

	services := backend.NewRegistry(nil)
	require.NoError(t, services.Register(svc))

	stats := metrics.NewRegistry()
	h := NewHandler(rt, services, circuitbreaker.NewRegistry(nil, zap.NewNop()),
		WithMetricsRegistry(stats),
		WithRetryLogger(zap.NewNop()),
	)
	return h, stats
}

func lettersService(instances ...config.InstanceConfig) config.ServiceConfig {
	return config.ServiceConfig{
		Name:      "letters",
		Instances: instances,
	}
}

func TestHandler_PassthroughSuccess(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("X-Letter-Id", "42")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, "delivered")
	}))
	defer srv.Close()

	h, stats := newTestHandler(t, lettersService(instanceFor(t, srv)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/42?track=yes", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "delivered", rec.Body.String())
	assert.Equal(t, "42", rec.Header().Get("X-Letter-Id"))
	assert.Equal(t, "/42", gotPath)
	assert.Equal(t, "track=yes", gotQuery)

	snap, ok := stats.Snapshot("letters")
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.TotalRequests)
	assert.Equal(t, uint64(0), snap.Failures)
}

func TestHandler_ForwardedHeaders(t *testing.T) {
	var forwardedFor, forwardedProto, forwardedHost, connection string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		forwardedFor = r.Header.Get("X-Forwarded-For")
		forwardedProto = r.Header.Get("X-Forwarded-Proto")
		forwardedHost = r.Header.Get("X-Forwarded-Host")
		connection = r.Header.Get("Keep-Alive")
	}))
	defer srv.Close()

	h, _ := newTestHandler(t, lettersService(instanceFor(t, srv)))

	req := httptest.NewRequest(http.MethodGet, "/letters/1", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Host = "gateway.slowpost.org"
	req.Header.Set("Keep-Alive", "300")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "203.0.113.9", forwardedFor)
	assert.Equal(t, "http", forwardedProto)
	assert.Equal(t, "gateway.slowpost.org", forwardedHost)
	assert.Empty(t, connection, "hop-by-hop header should be stripped")
}

func TestHandler_UnknownRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	h, _ := newTestHandler(t, lettersService(instanceFor(t, srv)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/parcels/1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "service_unknown")
}

func TestHandler_RouteToUnregisteredService(t *testing.T) {
	rt, err := router.New([]config.RouteConfig{{Prefix: "/ghost", Service: "ghost"}})
	require.NoError(t, err)

	h := NewHandler(rt, backend.NewRegistry(nil), circuitbreaker.NewRegistry(nil, zap.NewNop()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ghost/1", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_NoHealthyInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	}))
	defer srv.Close()

	cfg := lettersService(instanceFor(t, srv))
	h, _ := newTestHandler(t, cfg)

	svc, ok := h.services.Get("letters")
	require.True(t, ok)
	for _, inst := range svc.Instances() {
		inst.SetStatus(backend.StatusUnhealthy)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_healthy_instance")
}

func TestHandler_NoHealthyInstanceLeavesBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	}))
	defer srv.Close()

	cfg := lettersService(instanceFor(t, srv))
	cfg.CircuitBreaker = &config.CircuitBreakerConfig{
		FailureThreshold: 1,
		MinRequests:      1,
		OpenTimeout:      config.Duration(time.Minute),
	}
	h, _ := newTestHandler(t, cfg)

	svc, ok := h.services.Get("letters")
	require.True(t, ok)
	for _, inst := range svc.Instances() {
		inst.SetStatus(backend.StatusUnhealthy)
	}

	// Even with a hair-trigger breaker, requests that never reached an
	// upstream must keep reporting the health problem, not a tripped
	// circuit.
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "no_healthy_instance")
	}

	assert.Equal(t, circuitbreaker.StateClosed, h.breakers.Get("letters").State())
}

func TestHandler_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "third time lucky")
	}))
	defer srv.Close()

	cfg := lettersService(instanceFor(t, srv))
	cfg.Retry = &config.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: config.Duration(time.Millisecond),
		MaxInterval:     config.Duration(5 * time.Millisecond),
	}
	h, _ := newTestHandler(t, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "third time lucky", rec.Body.String())
	assert.Equal(t, int32(3), calls.Load())
}

func TestHandler_LastAttemptStatusPassesThrough(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "overloaded")
	}))
	defer srv.Close()

	cfg := lettersService(instanceFor(t, srv))
	cfg.Retry = &config.RetryConfig{
		MaxAttempts:     2,
		InitialInterval: config.Duration(time.Millisecond),
	}
	h, _ := newTestHandler(t, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "overloaded", rec.Body.String())
	assert.Equal(t, int32(2), calls.Load())
}

func TestHandler_NonRetryableStatusNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer srv.Close()

	cfg := lettersService(instanceFor(t, srv))
	cfg.Retry = &config.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: config.Duration(time.Millisecond),
	}
	h, _ := newTestHandler(t, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", rec.Body.String())
	assert.Equal(t, int32(1), calls.Load())
}

func TestHandler_ClientErrorPassesThroughWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	cfg := lettersService(instanceFor(t, srv))
	cfg.Retry = &config.RetryConfig{MaxAttempts: 3}
	h, _ := newTestHandler(t, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHandler_RequestBodyResentOnRetry(t *testing.T) {
	var calls atomic.Int32
	var lastBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		lastBody = string(b)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	cfg := lettersService(instanceFor(t, srv))
	cfg.Retry = &config.RetryConfig{
		MaxAttempts:     2,
		InitialInterval: config.Duration(time.Millisecond),
	}
	h, _ := newTestHandler(t, cfg)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/letters", strings.NewReader("dear recipient"))
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "dear recipient", lastBody)
}

func TestHandler_CircuitOpenRejectsWithoutUpstreamCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := lettersService(instanceFor(t, srv))
	cfg.CircuitBreaker = &config.CircuitBreakerConfig{
		FailureThreshold: 1,
		MinRequests:      1,
		OpenTimeout:      config.Duration(time.Minute),
	}
	h, stats := newTestHandler(t, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	before := calls.Load()

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "circuit_open")
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, before, calls.Load(), "open circuit must not reach the upstream")

	assert.Eventually(t, func() bool {
		snap, ok := stats.Snapshot("letters")
		return ok && snap.CircuitState == "open"
	}, time.Second, 5*time.Millisecond)
}

func TestHandler_GatewayTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := lettersService(instanceFor(t, srv))
	cfg.GatewayDeadline = config.Duration(50 * time.Millisecond)
	cfg.RequestTimeout = config.Duration(time.Second)
	h, _ := newTestHandler(t, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "gateway_timeout")
}

func TestHandler_RetryFailsOverToSecondInstance(t *testing.T) {
	var goodCalls atomic.Int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodCalls.Add(1)
		fmt.Fprint(w, "ok")
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	bad.Close() // connection refused from now on

	cfg := lettersService(instanceFor(t, good), instanceFor(t, bad))
	cfg.Instances[0].Weight = 10
	cfg.Retry = &config.RetryConfig{
		MaxAttempts:     5,
		InitialInterval: config.Duration(time.Millisecond),
	}
	h, _ := newTestHandler(t, cfg)

	// Every request must eventually land on the good instance even
	// though the balancer may pick the dead one first.
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.GreaterOrEqual(t, goodCalls.Load(), int32(5))
}

func TestHandler_HealthFlipDrainsAndRestoresInstance(t *testing.T) {
	var aUp atomic.Bool
	aUp.Store(true)
	var aHits, bHits atomic.Int32

	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			if !aUp.Load() {
				w.WriteHeader(http.StatusInternalServerError)
			}
			return
		}
		aHits.Add(1)
		fmt.Fprint(w, "a")
	}))
	defer srvA.Close()

	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			return
		}
		bHits.Add(1)
		fmt.Fprint(w, "b")
	}))
	defer srvB.Close()

	cfg := lettersService(instanceFor(t, srvA), instanceFor(t, srvB))
	cfg.HealthCheck = &config.HealthCheckConfig{
		Path:               "/healthz",
		Interval:           config.Duration(20 * time.Millisecond),
		Timeout:            config.Duration(200 * time.Millisecond),
		HealthyThreshold:   1,
		UnhealthyThreshold: 1,
	}
	h, _ := newTestHandler(t, cfg)

	svc, ok := h.services.Get("letters")
	require.True(t, ok)
	ctx := context.Background()
	require.NoError(t, svc.Start(ctx))
	defer func() { _ = svc.Stop(ctx) }()

	send := func() {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	healthyCount := func(n int) func() bool {
		return func() bool { return len(svc.HealthyInstances()) == n }
	}

	// Both up: equal weights spread traffic across both instances.
	require.Eventually(t, healthyCount(2), time.Second, 10*time.Millisecond)
	for i := 0; i < 40; i++ {
		send()
	}
	assert.Positive(t, aHits.Load())
	assert.Positive(t, bHits.Load())

	// A starts failing its probe: within one interval the checker
	// drains it and every request lands on B.
	aUp.Store(false)
	require.Eventually(t, healthyCount(1), time.Second, 10*time.Millisecond)
	aHits.Store(0)
	bHits.Store(0)
	for i := 0; i < 30; i++ {
		send()
	}
	assert.Zero(t, aHits.Load(), "drained instance must receive no traffic")
	assert.Equal(t, int32(30), bHits.Load())

	// A recovers: a single good probe puts it back in rotation.
	aUp.Store(true)
	require.Eventually(t, healthyCount(2), time.Second, 10*time.Millisecond)
	aHits.Store(0)
	bHits.Store(0)
	for i := 0; i < 40; i++ {
		send()
	}
	assert.Positive(t, aHits.Load(), "recovered instance must rejoin rotation")
	assert.Positive(t, bHits.Load())
}

func TestHandler_RecordsFailureOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h, stats := newTestHandler(t, lettersService(instanceFor(t, srv)))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/letters/1", nil))

	snap, ok := stats.Snapshot("letters")
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.TotalRequests)
	assert.Equal(t, uint64(1), snap.Failures)
}
