package config

import (
	"fmt"
	"strings"

	"github.com/slowpost/gateway/internal/util"
)

// validLoadBalancers enumerates the accepted balancing algorithms.
var validLoadBalancers = map[string]bool{
	LoadBalancerWeighted:   true,
	LoadBalancerRoundRobin: true,
	LoadBalancerLeastConn:  true,
	LoadBalancerRandom:     true,
}

// ValidateConfig validates the full gateway configuration. Unknown
// service references in routes are a configuration error and fail here
// rather than at request time.
func ValidateConfig(cfg *GatewayConfig) error {
	if cfg == nil {
		return util.NewConfigError("", "config is nil")
	}

	if cfg.Listen.HTTPPort <= 0 || cfg.Listen.HTTPPort > 65535 {
		return util.NewConfigError("listen.httpPort",
			fmt.Sprintf("invalid port: %d", cfg.Listen.HTTPPort))
	}

	if cfg.Listen.AdminPort <= 0 || cfg.Listen.AdminPort > 65535 {
		return util.NewConfigError("listen.adminPort",
			fmt.Sprintf("invalid port: %d", cfg.Listen.AdminPort))
	}

	if cfg.Listen.AdminPort == cfg.Listen.HTTPPort {
		return util.NewConfigError("listen.adminPort", "must differ from httpPort")
	}

	if len(cfg.Services) == 0 {
		return util.NewConfigError("services", "at least one service is required")
	}

	names := make(map[string]bool, len(cfg.Services))
	for i := range cfg.Services {
		if err := validateService(&cfg.Services[i], i); err != nil {
			return err
		}
		if names[cfg.Services[i].Name] {
			return util.NewConfigError(
				fmt.Sprintf("services[%d].name", i),
				fmt.Sprintf("duplicate service name: %s", cfg.Services[i].Name))
		}
		names[cfg.Services[i].Name] = true
	}

	if len(cfg.Routes) == 0 {
		return util.NewConfigError("routes", "at least one route is required")
	}

	prefixes := make(map[string]bool, len(cfg.Routes))
	for i, route := range cfg.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		if route.Prefix == "" || !strings.HasPrefix(route.Prefix, "/") {
			return util.NewConfigError(field+".prefix", "must start with /")
		}
		if prefixes[route.Prefix] {
			return util.NewConfigError(field+".prefix",
				fmt.Sprintf("duplicate route prefix: %s", route.Prefix))
		}
		prefixes[route.Prefix] = true
		if !names[route.Service] {
			return util.NewConfigError(field+".service",
				fmt.Sprintf("unknown service: %s", route.Service))
		}
	}

	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			return util.NewConfigError("rateLimit.requestsPerSecond", "must be positive")
		}
		if cfg.RateLimit.Burst <= 0 {
			return util.NewConfigError("rateLimit.burst", "must be positive")
		}
	}

	return nil
}

// validateService validates one service definition.
func validateService(svc *ServiceConfig, idx int) error {
	field := fmt.Sprintf("services[%d]", idx)

	if svc.Name == "" {
		return util.NewConfigError(field+".name", "must not be empty")
	}

	if len(svc.Instances) == 0 {
		return util.NewConfigError(field+".instances", "at least one instance is required")
	}

	for j, inst := range svc.Instances {
		instField := fmt.Sprintf("%s.instances[%d]", field, j)
		if inst.Address == "" {
			return util.NewConfigError(instField+".address", "must not be empty")
		}
		if inst.Port <= 0 || inst.Port > 65535 {
			return util.NewConfigError(instField+".port",
				fmt.Sprintf("invalid port: %d", inst.Port))
		}
		if inst.Weight < 0 {
			return util.NewConfigError(instField+".weight", "must not be negative")
		}
	}

	if svc.LoadBalancer != "" && !validLoadBalancers[svc.LoadBalancer] {
		return util.NewConfigError(field+".loadBalancer",
			fmt.Sprintf("unknown algorithm: %s", svc.LoadBalancer))
	}

	if hc := svc.HealthCheck; hc != nil {
		if hc.Path == "" || !strings.HasPrefix(hc.Path, "/") {
			return util.NewConfigError(field+".healthCheck.path", "must start with /")
		}
		if hc.Timeout.Duration() > 0 && hc.Interval.Duration() > 0 &&
			hc.Timeout.Duration() >= hc.Interval.Duration() {
			return util.NewConfigError(field+".healthCheck.timeout",
				"must be shorter than interval")
		}
	}

	if r := svc.Retry; r != nil {
		if r.MaxAttempts < 1 {
			return util.NewConfigError(field+".retry.maxAttempts", "must be at least 1")
		}
		if r.Multiplier != 0 && r.Multiplier < 1 {
			return util.NewConfigError(field+".retry.multiplier", "must be at least 1")
		}
		if r.MaxInterval.Duration() > 0 && r.InitialInterval.Duration() > r.MaxInterval.Duration() {
			return util.NewConfigError(field+".retry.initialInterval",
				"must not exceed maxInterval")
		}
	}

	if cb := svc.CircuitBreaker; cb != nil {
		if cb.FailureRateThreshold < 0 || cb.FailureRateThreshold > 1 {
			return util.NewConfigError(field+".circuitBreaker.failureRateThreshold",
				"must be between 0 and 1")
		}
		if cb.FailureThreshold < 0 {
			return util.NewConfigError(field+".circuitBreaker.failureThreshold",
				"must not be negative")
		}
	}

	return nil
}
