package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/slowpost/gateway/internal/backend"
	"github.com/slowpost/gateway/internal/circuitbreaker"
	"github.com/slowpost/gateway/internal/config"
	"github.com/slowpost/gateway/internal/health"
	"github.com/slowpost/gateway/internal/metrics"
	"github.com/slowpost/gateway/internal/middleware"
	"github.com/slowpost/gateway/internal/observability"
	"github.com/slowpost/gateway/internal/proxy"
	"github.com/slowpost/gateway/internal/router"
)

// application wires the gateway components together and owns their
// lifecycle. The data plane (routes, backend services, proxy handler,
// middleware chain) is rebuilt on config reload and swapped atomically;
// circuit breakers and per-service statistics survive reloads so that
// breaker state is not lost when routes change.
type application struct {
	cfg    *config.GatewayConfig
	logger observability.Logger
	zlog   *zap.Logger

	stats      *metrics.Registry
	breakers   *circuitbreaker.Registry
	obsMetrics *observability.Metrics
	tracer     *observability.Tracer
	checker    *health.Checker

	handler atomic.Value // http.Handler

	mu       sync.Mutex
	services *backend.Registry
	limiter  *middleware.RateLimiter

	httpServer  *http.Server
	adminServer *http.Server
}

// newApplication builds the gateway from configuration.
func newApplication(cfg *config.GatewayConfig, logger observability.Logger, zlog *zap.Logger) (*application, error) {
	app := &application{
		cfg:        cfg,
		logger:     logger,
		zlog:       zlog,
		stats:      metrics.NewRegistry(),
		breakers:   circuitbreaker.NewRegistry(nil, zlog),
		obsMetrics: observability.NewMetrics("gateway"),
		checker:    health.NewChecker(version),
	}

	app.obsMetrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer, err := initTracer(cfg)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	app.tracer = tracer

	services, handler, limiter, err := app.buildDataPlane(cfg)
	if err != nil {
		return nil, err
	}
	app.services = services
	app.limiter = limiter
	app.handler.Store(handler)

	app.checker.RegisterCheck("backends", func() health.Check {
		app.mu.Lock()
		registry := app.services
		app.mu.Unlock()
		return health.BackendServicesCheck(registry)()
	})

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Listen.HTTPPort),
		Handler: app,
	}
	app.adminServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Listen.AdminPort),
		Handler: app.adminMux(),
	}

	return app, nil
}

// initTracer initializes the OpenTelemetry tracer from configuration.
func initTracer(cfg *config.GatewayConfig) (*observability.Tracer, error) {
	tc := observability.TracerConfig{
		ServiceName: "slowpost-gateway",
	}
	if cfg.ServiceName != "" {
		tc.ServiceName = cfg.ServiceName
	}
	if cfg.Observability != nil && cfg.Observability.Tracing != nil {
		t := cfg.Observability.Tracing
		tc.Enabled = t.Enabled
		tc.OTLPEndpoint = t.OTLPEndpoint
		tc.SamplingRate = t.SamplingRate
		if t.ServiceName != "" {
			tc.ServiceName = t.ServiceName
		}
	}
	return observability.NewTracer(tc)
}

// buildDataPlane constructs the request path from configuration: backend
// registry, router, proxy handler and the middleware chain around it.
func (app *application) buildDataPlane(cfg *config.GatewayConfig) (*backend.Registry, http.Handler, *middleware.RateLimiter, error) {
	services := backend.NewRegistry(app.logger)
	if err := services.LoadFromConfig(cfg.Services); err != nil {
		return nil, nil, nil, fmt.Errorf("load services: %w", err)
	}

	rt, err := router.New(cfg.Routes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build router: %w", err)
	}

	proxyHandler := proxy.NewHandler(rt, services, app.breakers,
		proxy.WithProxyLogger(app.logger),
		proxy.WithMetricsRegistry(app.stats),
		proxy.WithRetryLogger(app.zlog),
	)

	rateMW, limiter := middleware.RateLimitFromConfig(cfg.RateLimit, app.logger)

	handler := middleware.Chain(proxyHandler,
		middleware.Recovery(app.logger),
		middleware.RequestID(),
		middleware.Logging(app.logger),
		observability.TracingMiddleware(app.tracer),
		observability.MetricsMiddleware(app.obsMetrics),
		rateMW,
	)

	return services, handler, limiter, nil
}

// ServeHTTP delegates to the current handler. The indirection lets a
// config reload swap the entire request path without restart.
func (app *application) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	app.handler.Load().(http.Handler).ServeHTTP(w, r)
}

// Reload rebuilds the data plane from new configuration. The old
// backend registry keeps serving in-flight requests until the swap,
// then its health checkers are stopped.
func (app *application) Reload(cfg *config.GatewayConfig) error {
	services, handler, limiter, err := app.buildDataPlane(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := services.StartAll(ctx); err != nil {
		_ = services.StopAll(ctx)
		return fmt.Errorf("start services: %w", err)
	}

	app.mu.Lock()
	oldServices := app.services
	oldLimiter := app.limiter
	app.services = services
	app.limiter = limiter
	app.cfg = cfg
	app.mu.Unlock()

	app.handler.Store(handler)

	if oldServices != nil {
		_ = oldServices.StopAll(ctx)
	}
	if oldLimiter != nil {
		oldLimiter.Stop()
	}

	app.logger.Info("configuration reloaded",
		observability.Int("routes", len(cfg.Routes)),
		observability.Int("services", len(cfg.Services)),
	)
	return nil
}

// Start launches health checking and both listeners.
func (app *application) Start(ctx context.Context) error {
	if err := app.services.StartAll(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	go func() {
		app.logger.Info("admin server listening",
			observability.String("addr", app.adminServer.Addr))
		if err := app.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error("admin server failed", observability.Error(err))
		}
	}()

	go func() {
		app.logger.Info("gateway listening",
			observability.String("addr", app.httpServer.Addr))
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error("http server failed", observability.Error(err))
		}
	}()

	return nil
}

// Stop drains and shuts everything down. Readiness flips to draining
// first so load balancers stop sending new traffic.
func (app *application) Stop(ctx context.Context) error {
	app.checker.SetDraining(true)

	var firstErr error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := app.adminServer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	app.mu.Lock()
	services := app.services
	limiter := app.limiter
	app.mu.Unlock()

	if services != nil {
		_ = services.StopAll(context.Background())
	}
	if limiter != nil {
		limiter.Stop()
	}

	if app.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.tracer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// ShutdownTimeout returns the configured graceful-shutdown budget.
func (app *application) ShutdownTimeout() time.Duration {
	return app.cfg.Listen.ShutdownTimeout.Duration()
}
