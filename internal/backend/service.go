package backend

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/slowpost/gateway/internal/config"
	"github.com/slowpost/gateway/internal/observability"
	"github.com/slowpost/gateway/internal/util"
)

// Service is one logical upstream service: its instances, the balancer
// across them, the shared connection pool, and the health checker that
// maintains the balancer's view of instance health.
type Service struct {
	name     string
	cfg      config.ServiceConfig
	mu       sync.RWMutex
	members  []*Instance
	balancer Balancer
	health   *HealthChecker
	pool     *ConnectionPool
	logger   observability.Logger

	onStatusChange HealthStatusFunc
}

// ServiceOption is a functional option for configuring a service.
type ServiceOption func(*Service)

// WithServiceLogger sets the logger.
func WithServiceLogger(logger observability.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithBalancer overrides the configured balancer.
func WithBalancer(b Balancer) ServiceOption {
	return func(s *Service) {
		s.balancer = b
	}
}

// WithConnectionPool overrides the default connection pool.
func WithConnectionPool(pool *ConnectionPool) ServiceOption {
	return func(s *Service) {
		s.pool = pool
	}
}

// WithStatusCallback sets a callback invoked on instance health flips.
func WithStatusCallback(fn HealthStatusFunc) ServiceOption {
	return func(s *Service) {
		s.onStatusChange = fn
	}
}

// NewService creates a service from configuration.
func NewService(cfg config.ServiceConfig, opts ...ServiceOption) (*Service, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if len(cfg.Instances) == 0 {
		return nil, fmt.Errorf("service %s: at least one instance is required", cfg.Name)
	}

	s := &Service{
		name:    cfg.Name,
		cfg:     cfg,
		members: make([]*Instance, 0, len(cfg.Instances)),
		logger:  observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	for _, instCfg := range cfg.Instances {
		s.members = append(s.members, NewInstance(instCfg.Address, instCfg.Port, instCfg.Weight))
	}

	if s.balancer == nil {
		s.balancer = NewBalancer(cfg.LoadBalancer, s.members)
	}

	if s.pool == nil {
		s.pool = NewConnectionPool(DefaultPoolConfig())
	}

	return s, nil
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// Config returns the service configuration.
func (s *Service) Config() config.ServiceConfig {
	return s.cfg
}

// SelectInstance asks the balancer for an instance and marks it busy.
// Callers must pair every successful call with Release.
func (s *Service) SelectInstance() (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst := s.balancer.Next()
	if inst == nil {
		return nil, util.NewNoHealthyInstanceError(s.name)
	}

	inst.IncrementConnections()
	RecordSelection(s.name, inst.Name())
	return inst, nil
}

// Release returns an instance after a call completes.
func (s *Service) Release(inst *Instance) {
	if inst != nil {
		inst.DecrementConnections()
	}
}

// Instances returns all instances.
func (s *Service) Instances() []*Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances := make([]*Instance, len(s.members))
	copy(instances, s.members)
	return instances
}

// HealthyInstances returns the instances currently marked healthy.
func (s *Service) HealthyInstances() []*Instance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	healthy := make([]*Instance, 0, len(s.members))
	for _, inst := range s.members {
		if inst.Status() == StatusHealthy {
			healthy = append(healthy, inst)
		}
	}
	return healthy
}

// HTTPClient returns the pooled HTTP client for this service.
func (s *Service) HTTPClient() *http.Client {
	return s.pool.Client()
}

// Start begins health checking. Without a health check configuration
// all instances are considered healthy immediately.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting service",
		observability.String("service", s.name),
		observability.Int("instances", len(s.members)),
	)

	if s.cfg.HealthCheck != nil {
		s.health = NewHealthChecker(s.name, s.members, *s.cfg.HealthCheck,
			WithHealthCheckLogger(s.logger),
			WithHealthStatusCallback(s.onStatusChange),
		)
		s.health.Start(ctx)
	} else {
		for _, inst := range s.members {
			inst.SetStatus(StatusHealthy)
		}
	}

	return nil
}

// Stop stops health checking and closes idle upstream connections.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("stopping service",
		observability.String("service", s.name),
	)

	if s.health != nil {
		s.health.Stop()
	}
	s.pool.CloseIdleConnections()

	return nil
}

// Registry holds every known upstream service. Request handlers share
// read access; registration happens at startup and on config reload.
type Registry struct {
	services map[string]*Service
	mu       sync.RWMutex
	logger   observability.Logger
}

// NewRegistry creates a new service registry.
func NewRegistry(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{
		services: make(map[string]*Service),
		logger:   logger,
	}
}

// Register adds a service to the registry.
func (r *Registry) Register(service *Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := service.Name()
	if _, exists := r.services[name]; exists {
		return fmt.Errorf("service already registered: %s", name)
	}

	r.services[name] = service
	r.logger.Info("registered service",
		observability.String("service", name),
	)

	return nil
}

// Unregister removes a service from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; !exists {
		return fmt.Errorf("service not found: %s", name)
	}

	delete(r.services, name)
	r.logger.Info("unregistered service",
		observability.String("service", name),
	)

	return nil
}

// Get returns a service by name.
func (r *Registry) Get(name string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	service, exists := r.services[name]
	return service, exists
}

// GetAll returns all registered services.
func (r *Registry) GetAll() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]*Service, 0, len(r.services))
	for _, service := range r.services {
		services = append(services, service)
	}
	return services
}

// StartAll starts every registered service.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for name, service := range r.services {
		if err := service.Start(ctx); err != nil {
			return fmt.Errorf("failed to start service %s: %w", name, err)
		}
	}

	return nil
}

// StopAll stops every registered service.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var lastErr error
	for name, service := range r.services {
		if err := service.Stop(ctx); err != nil {
			r.logger.Error("failed to stop service",
				observability.String("service", name),
				observability.Error(err),
			)
			lastErr = err
		}
	}

	return lastErr
}

// LoadFromConfig builds and registers services from configuration.
func (r *Registry) LoadFromConfig(services []config.ServiceConfig, opts ...ServiceOption) error {
	for _, cfg := range services {
		allOpts := append([]ServiceOption{WithServiceLogger(r.logger)}, opts...)
		service, err := NewService(cfg, allOpts...)
		if err != nil {
			return fmt.Errorf("failed to create service %s: %w", cfg.Name, err)
		}

		if err := r.Register(service); err != nil {
			return err
		}
	}

	return nil
}
