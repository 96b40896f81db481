package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slowpost/gateway/internal/health"
)

// adminMux builds the admin endpoint surface: Prometheus metrics,
// liveness/readiness probes and per-service statistics.
func (app *application) adminMux() *http.ServeMux {
	mux := http.NewServeMux()

	metricsPath := "/metrics"
	if app.cfg.Observability != nil && app.cfg.Observability.Metrics != nil &&
		app.cfg.Observability.Metrics.Path != "" {
		metricsPath = app.cfg.Observability.Metrics.Path
	}

	// Proxy and middleware metrics live on the default registry;
	// request metrics live on the observability registry. Serve both.
	gatherers := prometheus.Gatherers{
		prometheus.DefaultGatherer,
		app.obsMetrics.Registry(),
	}
	mux.Handle(metricsPath, promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", app.checker.HealthHandler())
	mux.HandleFunc("/ready", app.checker.ReadinessHandler())
	mux.HandleFunc("/live", app.checker.LivenessHandler())
	mux.HandleFunc("/stats", health.StatsHandler(app.stats))

	return mux
}
