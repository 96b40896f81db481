package health

import (
	"net/http"

	"github.com/slowpost/gateway/internal/metrics"
)

// StatsHandler serves GET /stats: the per-service metrics snapshots
// including current circuit state. `?service=name` narrows the
// response to one service.
func StatsHandler(registry *metrics.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if service := r.URL.Query().Get("service"); service != "" {
			snap, ok := registry.Snapshot(service)
			if !ok {
				http.Error(w, "unknown service", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, snap)
			return
		}

		writeJSON(w, http.StatusOK, registry.SnapshotAll())
	}
}
