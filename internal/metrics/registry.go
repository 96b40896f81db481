// Package metrics provides a thread-safe per-service metrics registry
// with on-demand snapshots, independent of the Prometheus export path.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// latencyBounds are the upper bounds of the latency histogram buckets.
// The final implicit bucket is +Inf.
var latencyBounds = []time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
}

// Snapshot is a point-in-time view of one service's metrics.
type Snapshot struct {
	Service       string            `json:"service"`
	TotalRequests uint64            `json:"totalRequests"`
	Successes     uint64            `json:"successes"`
	Failures      uint64            `json:"failures"`
	MeanLatency   time.Duration     `json:"meanLatency"`
	Latency       map[string]uint64 `json:"latency"`
	CircuitState  string            `json:"circuitState"`
}

// serviceMetrics holds lock-free counters for one service. Writers use
// atomic increments only; readers assemble a snapshot from the same
// atomics, so no reader ever observes a torn update of an individual
// counter.
type serviceMetrics struct {
	total      atomic.Uint64
	successes  atomic.Uint64
	failures   atomic.Uint64
	latencySum atomic.Int64
	buckets    []atomic.Uint64

	circuitState atomic.Value // string
}

func newServiceMetrics() *serviceMetrics {
	sm := &serviceMetrics{
		buckets: make([]atomic.Uint64, len(latencyBounds)+1),
	}
	sm.circuitState.Store("closed")
	return sm
}

// record updates the counters for one completed request.
func (sm *serviceMetrics) record(success bool, latency time.Duration) {
	sm.total.Add(1)
	if success {
		sm.successes.Add(1)
	} else {
		sm.failures.Add(1)
	}
	sm.latencySum.Add(int64(latency))

	idx := len(latencyBounds)
	for i, bound := range latencyBounds {
		if latency <= bound {
			idx = i
			break
		}
	}
	sm.buckets[idx].Add(1)
}

// snapshot assembles a Snapshot for this service.
func (sm *serviceMetrics) snapshot(service string) Snapshot {
	total := sm.total.Load()

	snap := Snapshot{
		Service:       service,
		TotalRequests: total,
		Successes:     sm.successes.Load(),
		Failures:      sm.failures.Load(),
		Latency:       make(map[string]uint64, len(latencyBounds)+1),
		CircuitState:  sm.circuitState.Load().(string),
	}

	if total > 0 {
		snap.MeanLatency = time.Duration(sm.latencySum.Load() / int64(total))
	}

	for i := range latencyBounds {
		snap.Latency["le_"+latencyBounds[i].String()] = sm.buckets[i].Load()
	}
	snap.Latency["le_inf"] = sm.buckets[len(latencyBounds)].Load()

	return snap
}

// Registry is a thread-safe per-service metrics registry. Request
// completion touches only the counters of the involved service, never
// a global lock.
type Registry struct {
	services sync.Map // string -> *serviceMetrics
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// get returns the metrics shard for a service, creating it on first use.
func (r *Registry) get(service string) *serviceMetrics {
	if value, ok := r.services.Load(service); ok {
		return value.(*serviceMetrics)
	}
	actual, _ := r.services.LoadOrStore(service, newServiceMetrics())
	return actual.(*serviceMetrics)
}

// RecordOutcome records one completed request for a service.
func (r *Registry) RecordOutcome(service string, success bool, latency time.Duration) {
	r.get(service).record(success, latency)
}

// SetCircuitState records the service's current circuit breaker state
// for inclusion in snapshots.
func (r *Registry) SetCircuitState(service, state string) {
	r.get(service).circuitState.Store(state)
}

// Snapshot returns a point-in-time view of one service's metrics.
func (r *Registry) Snapshot(service string) (Snapshot, bool) {
	value, ok := r.services.Load(service)
	if !ok {
		return Snapshot{}, false
	}
	return value.(*serviceMetrics).snapshot(service), true
}

// SnapshotAll returns snapshots for every known service.
func (r *Registry) SnapshotAll() []Snapshot {
	var snaps []Snapshot
	r.services.Range(func(key, value interface{}) bool {
		snaps = append(snaps, value.(*serviceMetrics).snapshot(key.(string)))
		return true
	})
	return snaps
}
