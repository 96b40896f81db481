package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads and parses a YAML configuration file from the
// specified path. Defaults are applied for omitted fields; the result
// is not validated — call ValidateConfig separately.
func LoadConfig(path string) (*GatewayConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("config path is a directory, not a file: %s", path)
	}

	// G304: path is validated above via os.Stat and comes from trusted configuration
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills in zero-valued fields after unmarshaling.
func applyDefaults(cfg *GatewayConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "slowpost-gateway"
	}
	if cfg.Listen.HTTPPort == 0 {
		cfg.Listen.HTTPPort = DefaultHTTPPort
	}
	if cfg.Listen.AdminPort == 0 {
		cfg.Listen.AdminPort = DefaultAdminPort
	}
	if cfg.Listen.ShutdownTimeout.Duration() == 0 {
		cfg.Listen.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}

	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if svc.LoadBalancer == "" {
			svc.LoadBalancer = LoadBalancerWeighted
		}
		for j := range svc.Instances {
			if svc.Instances[j].Weight == 0 {
				svc.Instances[j].Weight = 1
			}
		}
	}
}

// SaveConfig saves a GatewayConfig to a YAML file. Useful for
// generating sample configurations.
func SaveConfig(cfg *GatewayConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if path == "" {
		return fmt.Errorf("path is empty")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// G306: config files need to be readable by other processes
	if err := os.WriteFile(filepath.Clean(path), data, 0o644); err != nil { //nolint:gosec // config files need broader read permissions
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadAndValidateConfig loads a YAML config file and validates it.
func LoadAndValidateConfig(path string) (*GatewayConfig, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}
