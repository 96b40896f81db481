// Package config provides configuration management for the gateway.
package config

import "time"

// Load balancer algorithm names.
const (
	LoadBalancerWeighted   = "weighted"
	LoadBalancerRoundRobin = "roundRobin"
	LoadBalancerLeastConn  = "leastConn"
	LoadBalancerRandom     = "random"
)

// Default timeouts and ports.
const (
	DefaultHTTPPort        = 8080
	DefaultAdminPort       = 9090
	DefaultRequestTimeout  = 10 * time.Second
	DefaultGatewayDeadline = 30 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// GatewayConfig is the root configuration for the gateway process.
type GatewayConfig struct {
	ServiceName   string               `yaml:"serviceName"`
	Listen        ListenConfig         `yaml:"listen"`
	Routes        []RouteConfig        `yaml:"routes"`
	Services      []ServiceConfig      `yaml:"services"`
	RateLimit     *RateLimitConfig     `yaml:"rateLimit,omitempty"`
	Observability *ObservabilityConfig `yaml:"observability,omitempty"`
}

// ListenConfig holds listener configuration.
type ListenConfig struct {
	// HTTPPort is the port for proxied traffic.
	HTTPPort int `yaml:"httpPort"`

	// AdminPort serves /metrics, /health, /ready, /live, and /stats.
	AdminPort int `yaml:"adminPort"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`
}

// RouteConfig maps a path prefix to a named service. The matched
// prefix is stripped before forwarding.
type RouteConfig struct {
	Prefix  string `yaml:"prefix"`
	Service string `yaml:"service"`
}

// ServiceConfig describes one logical upstream service.
type ServiceConfig struct {
	Name      string           `yaml:"name"`
	Instances []InstanceConfig `yaml:"instances"`

	// LoadBalancer selects the balancing algorithm. Defaults to weighted.
	LoadBalancer string `yaml:"loadBalancer,omitempty"`

	// RequestTimeout bounds a single upstream attempt.
	RequestTimeout Duration `yaml:"requestTimeout"`

	// GatewayDeadline bounds the whole inbound request including retries.
	GatewayDeadline Duration `yaml:"gatewayDeadline"`

	HealthCheck    *HealthCheckConfig    `yaml:"healthCheck,omitempty"`
	Retry          *RetryConfig          `yaml:"retry,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty"`
}

// InstanceConfig describes one backend instance of a service.
type InstanceConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	Weight  int    `yaml:"weight"`
}

// HealthCheckConfig controls instance probing.
type HealthCheckConfig struct {
	Path     string   `yaml:"path"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`

	// HealthyThreshold is the number of consecutive probe successes
	// required to mark an instance healthy again.
	HealthyThreshold int `yaml:"healthyThreshold"`

	// UnhealthyThreshold is the number of consecutive probe failures
	// required to mark an instance unhealthy.
	UnhealthyThreshold int `yaml:"unhealthyThreshold"`

	// Port overrides the probed port (e.g. a monitoring port).
	Port int `yaml:"port,omitempty"`

	// UseGRPC switches the probe to the gRPC health protocol.
	UseGRPC bool `yaml:"useGRPC,omitempty"`

	// GRPCService is the service name passed to the gRPC health probe.
	GRPCService string `yaml:"grpcService,omitempty"`
}

// RetryConfig controls retry behavior for a service.
type RetryConfig struct {
	MaxAttempts     int      `yaml:"maxAttempts"`
	InitialInterval Duration `yaml:"initialInterval"`
	MaxInterval     Duration `yaml:"maxInterval"`
	Multiplier      float64  `yaml:"multiplier"`
	Jitter          bool     `yaml:"jitter"`
}

// CircuitBreakerConfig controls the per-service circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int `yaml:"failureThreshold"`

	// FailureRateThreshold (0..1) opens the circuit when the failure
	// rate over the sliding window reaches it. Zero disables the check.
	FailureRateThreshold float64 `yaml:"failureRateThreshold"`

	// MinRequests is the minimum number of recorded outcomes before
	// either threshold is evaluated.
	MinRequests int `yaml:"minRequests"`

	// WindowDuration is the span of the sliding outcome window.
	WindowDuration Duration `yaml:"windowDuration"`

	// OpenTimeout is how long the circuit stays open before half-open.
	OpenTimeout Duration `yaml:"openTimeout"`

	// HalfOpenMaxRequests caps concurrent trial requests while half-open.
	HalfOpenMaxRequests int `yaml:"halfOpenMaxRequests"`

	// SuccessThreshold is the consecutive-success count that closes the
	// circuit from half-open.
	SuccessThreshold int `yaml:"successThreshold"`
}

// RateLimitConfig controls inbound rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerSecond int  `yaml:"requestsPerSecond"`
	Burst             int  `yaml:"burst"`
	PerClient         bool `yaml:"perClient"`
}

// ObservabilityConfig groups logging, metrics, and tracing settings.
type ObservabilityConfig struct {
	Logging *LoggingConfig `yaml:"logging,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
	Tracing *TracingConfig `yaml:"tracing,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	ServiceName  string  `yaml:"serviceName"`
}

// DefaultConfig returns a GatewayConfig with sensible defaults.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		ServiceName: "slowpost-gateway",
		Listen: ListenConfig{
			HTTPPort:        DefaultHTTPPort,
			AdminPort:       DefaultAdminPort,
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
	}
}

// GetRequestTimeout returns the effective per-attempt timeout.
func (s *ServiceConfig) GetRequestTimeout() time.Duration {
	if s.RequestTimeout.Duration() > 0 {
		return s.RequestTimeout.Duration()
	}
	return DefaultRequestTimeout
}

// GetGatewayDeadline returns the effective overall deadline.
func (s *ServiceConfig) GetGatewayDeadline() time.Duration {
	if s.GatewayDeadline.Duration() > 0 {
		return s.GatewayDeadline.Duration()
	}
	return DefaultGatewayDeadline
}

// Service returns the service config with the given name, or nil.
func (c *GatewayConfig) Service(name string) *ServiceConfig {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i]
		}
	}
	return nil
}
