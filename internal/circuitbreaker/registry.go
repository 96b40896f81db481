package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry holds one circuit breaker per upstream service. Breakers
// are created lazily and survive configuration reloads, so trip state
// is not lost when routes change.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   *Config
	logger   *zap.Logger
}

// NewRegistry creates a registry. The config is the default applied by
// GetOrCreate; nil means DefaultConfig.
func NewRegistry(config *Config, logger *zap.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

// Get returns the breaker for name, or nil when none exists.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// GetOrCreate returns the breaker for name, creating it with the
// registry's default config if needed.
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	return r.GetOrCreateWithConfig(name, r.config)
}

// GetOrCreateWithConfig returns the breaker for name, creating it with
// the given config if needed. An existing breaker keeps its original
// config.
func (r *Registry) GetOrCreateWithConfig(name string, config *Config) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb = NewCircuitBreaker(name, config, r.logger)
	r.breakers[name] = cb
	r.logger.Debug("created circuit breaker", zap.String("name", name))
	return cb
}

// Remove drops the breaker for name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.breakers, name)
	r.mu.Unlock()
	r.logger.Debug("removed circuit breaker", zap.String("name", name))
}

// List returns all breakers.
func (r *Registry) List() []*CircuitBreaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb)
	}
	return out
}

// ListNames returns the names of all breakers.
func (r *Registry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}

// ResetAll forces every breaker back to closed.
func (r *Registry) ResetAll() {
	for _, cb := range r.List() {
		cb.Reset()
	}
	r.logger.Info("reset all circuit breakers")
}

// Stats returns a snapshot of every breaker keyed by name.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]Stats, len(r.breakers))
	for name, cb := range r.breakers {
		stats[name] = cb.Stats()
	}
	return stats
}

// Count returns the number of breakers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakers)
}
