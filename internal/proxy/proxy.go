package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/slowpost/gateway/internal/backend"
	"github.com/slowpost/gateway/internal/circuitbreaker"
	"github.com/slowpost/gateway/internal/metrics"
	"github.com/slowpost/gateway/internal/observability"
	"github.com/slowpost/gateway/internal/retry"
	"github.com/slowpost/gateway/internal/router"
	"github.com/slowpost/gateway/internal/util"
)

// hopHeaders are not forwarded in either direction.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Proxy-Connection":    true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// maxDrainBytes bounds how much of a discarded upstream body is read
// so the connection can be reused.
const maxDrainBytes = 64 << 10

// Handler proxies inbound requests to backend services.
type Handler struct {
	router      *router.Router
	services    *backend.Registry
	breakers    *circuitbreaker.Registry
	metrics     *metrics.Registry
	logger      observability.Logger
	retryLogger *zap.Logger

	// runtimes caches the per-service breaker and retry policy, built
	// lazily on first request.
	runtimes sync.Map
}

// HandlerOption is a functional option for configuring the handler.
type HandlerOption func(*Handler)

// WithProxyLogger sets the logger for request-path logging.
func WithProxyLogger(logger observability.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetricsRegistry sets the per-service metrics registry updated on
// every terminal outcome.
func WithMetricsRegistry(m *metrics.Registry) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithRetryLogger sets the logger passed to per-service retry policies.
func WithRetryLogger(logger *zap.Logger) HandlerOption {
	return func(h *Handler) {
		h.retryLogger = logger
	}
}

// NewHandler creates the proxy handler.
func NewHandler(rt *router.Router, services *backend.Registry, breakers *circuitbreaker.Registry, opts ...HandlerOption) *Handler {
	h := &Handler{
		router:   rt,
		services: services,
		breakers: breakers,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// serviceRuntime is the per-service request-path state.
type serviceRuntime struct {
	svc            *backend.Service
	breaker        *circuitbreaker.CircuitBreaker
	policy         *retry.Policy
	statusRetry    retry.Condition
	attemptTimeout time.Duration
	deadline       time.Duration
	retryAfter     int
}

// runtimeFor returns the cached runtime for a service, building it on
// first use.
func (h *Handler) runtimeFor(name string) (*serviceRuntime, bool) {
	if v, ok := h.runtimes.Load(name); ok {
		return v.(*serviceRuntime), true
	}

	svc, ok := h.services.Get(name)
	if !ok {
		return nil, false
	}
	cfg := svc.Config()

	bcfg := circuitbreaker.FromConfig(cfg.CircuitBreaker)
	if h.metrics != nil {
		stats := h.metrics
		bcfg.OnStateChange = func(service string, from, to circuitbreaker.State) {
			stats.SetCircuitState(service, to.String())
		}
	}

	policy := retry.NoRetryPolicy()
	if cfg.Retry != nil {
		policy = retry.PolicyFromConfig(*cfg.Retry, h.retryLogger)
	}
	policy.RetryOn = []retry.Condition{
		retry.RetryableStatusCodes(),
		retry.RetryOnNetworkErrors(),
	}

	retryAfter := int(bcfg.OpenTimeout.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}

	rt := &serviceRuntime{
		svc:            svc,
		breaker:        h.breakers.GetOrCreateWithConfig(name, bcfg),
		policy:         policy,
		statusRetry:    retry.RetryableStatusCodes(),
		attemptTimeout: cfg.GetRequestTimeout(),
		deadline:       cfg.GetGatewayDeadline(),
		retryAfter:     retryAfter,
	}

	actual, loaded := h.runtimes.LoadOrStore(name, rt)
	if !loaded && h.metrics != nil {
		h.metrics.SetCircuitState(name, rt.breaker.State().String())
	}
	return actual.(*serviceRuntime), true
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	match, ok := h.router.Resolve(r.URL.Path)
	if !ok {
		h.logger.Debug("no route for path",
			observability.String("path", r.URL.Path),
			observability.String("method", r.Method),
		)
		writeError(w, util.ErrServiceUnknown, 0)
		return
	}

	r = r.WithContext(util.ContextWithService(r.Context(), match.Service))

	rt, ok := h.runtimeFor(match.Service)
	if !ok {
		h.logger.Error("route names unregistered service",
			observability.String("service", match.Service),
			observability.String("prefix", match.Prefix),
		)
		writeError(w, util.NewServiceUnknownError(match.Service), 0)
		return
	}

	h.proxy(w, r, rt, match.StrippedPath)
}

// proxy runs one request through the breaker, the retry policy, and
// the load balancer, then records the terminal outcome.
func (h *Handler) proxy(w http.ResponseWriter, r *http.Request, rt *serviceRuntime, path string) {
	start := time.Now()
	service := rt.svc.Name()

	var body []byte
	if r.Body != nil && r.ContentLength != 0 {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), rt.deadline)
	defer cancel()

	gen, err := rt.breaker.Allow()
	if err != nil {
		h.finish(w, r, rt, start, 0, false, err)
		return
	}

	attempt := 0
	responseWritten := false

	result := rt.policy.Execute(ctx, service, func() error {
		attempt++

		inst, err := rt.svc.SelectInstance()
		if err != nil {
			return err
		}
		defer rt.svc.Release(inst)

		attemptCtx, cancelAttempt := context.WithTimeout(ctx, rt.attemptTimeout)
		defer cancelAttempt()

		req, err := buildUpstreamRequest(attemptCtx, r, inst.URL()+path, body)
		if err != nil {
			return util.NewUpstreamError(service, inst.Name(), "building request", err)
		}

		resp, err := rt.svc.HTTPClient().Do(req)
		if err != nil {
			if cause := ctx.Err(); cause != nil {
				if errors.Is(cause, context.Canceled) {
					return cause
				}
				return util.NewTimeoutError(service, rt.deadline, cause)
			}
			return util.NewUpstreamError(service, inst.Name(), "request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			upstreamErr := util.NewUpstreamStatusError(service, inst.Name(), resp.StatusCode)
			if attempt < rt.policy.MaxAttempts && rt.statusRetry.ShouldRetry(upstreamErr) {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
				return upstreamErr
			}
			// Out of attempts or not worth retrying: the upstream's
			// answer passes through verbatim, but it still counts as
			// a failure toward the breaker.
			writeUpstreamResponse(w, resp)
			responseWritten = true
			return upstreamErr
		}

		writeUpstreamResponse(w, resp)
		responseWritten = true
		return nil
	})

	switch {
	case result.Success:
		rt.breaker.RecordSuccess(gen)
	case errors.Is(r.Context().Err(), context.Canceled):
		// The caller went away. Not the upstream's fault.
		rt.breaker.RecordNeutral(gen)
	case errors.Is(result.LastErr, util.ErrNoHealthyInstance):
		// No upstream was ever contacted; the health checker already
		// accounts for this. Tripping the breaker on top would blur
		// the two unavailability signals.
		rt.breaker.RecordNeutral(gen)
	default:
		rt.breaker.RecordFailure(gen)
	}

	RecordProxyAttempts(service, result.Attempts)

	if responseWritten {
		h.record(r, rt, start, result.Attempts, result.Success, result.LastErr)
		return
	}
	h.finish(w, r, rt, start, result.Attempts, result.Success, result.LastErr)
}

// finish writes the error response for a terminal failure and records
// the outcome.
func (h *Handler) finish(w http.ResponseWriter, r *http.Request, rt *serviceRuntime, start time.Time, attempts int, success bool, err error) {
	retryAfter := 0
	if errors.Is(err, util.ErrCircuitOpen) {
		retryAfter = rt.retryAfter
	}
	writeError(w, err, retryAfter)
	h.record(r, rt, start, attempts, success, err)
}

// record updates metrics and logs the terminal outcome.
func (h *Handler) record(r *http.Request, rt *serviceRuntime, start time.Time, attempts int, success bool, err error) {
	service := rt.svc.Name()
	elapsed := time.Since(start)
	outcome := classifyOutcome(err)
	if success {
		outcome = outcomeSuccess
	}

	if h.metrics != nil {
		h.metrics.RecordOutcome(service, success, elapsed)
	}
	RecordProxyRequest(service, outcome, elapsed.Seconds())

	if success {
		h.logger.Debug("request proxied",
			observability.String("service", service),
			observability.String("path", r.URL.Path),
			observability.String("method", r.Method),
			observability.Int("attempts", attempts),
			observability.Duration("elapsed", elapsed),
		)
		return
	}

	h.logger.Warn("request failed",
		observability.String("service", service),
		observability.String("path", r.URL.Path),
		observability.String("method", r.Method),
		observability.String("outcome", outcome),
		observability.Int("attempts", attempts),
		observability.Duration("elapsed", elapsed),
		observability.Error(err),
	)
}

// buildUpstreamRequest builds the outbound request for one attempt.
// Hop-by-hop headers are dropped, everything else is forwarded, and
// the query string rides along on the target URL.
func buildUpstreamRequest(ctx context.Context, r *http.Request, target string, body []byte) (*http.Request, error) {
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}

	for key, values := range r.Header {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	if clientIP, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	if r.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}
	req.Header.Set("X-Forwarded-Host", r.Host)

	observability.InjectTraceContext(ctx, req)

	return req, nil
}

// writeUpstreamResponse streams the upstream response back verbatim,
// flushing as data arrives so streaming upstreams are not buffered.
func writeUpstreamResponse(w http.ResponseWriter, resp *http.Response) {
	for key, values := range resp.Header {
		if hopHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}
