package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
serviceName: slowpost-gateway
listen:
  httpPort: 8080
  adminPort: 9090
  shutdownTimeout: "15s"
routes:
  - prefix: /api/letters
    service: letters
  - prefix: /api/couriers
    service: couriers
services:
  - name: letters
    loadBalancer: weighted
    requestTimeout: "5s"
    gatewayDeadline: "20s"
    instances:
      - address: 10.0.0.1
        port: 8081
        weight: 10
      - address: 10.0.0.2
        port: 8081
        weight: 20
    healthCheck:
      path: /health
      interval: "10s"
      timeout: "2s"
      unhealthyThreshold: 3
      healthyThreshold: 1
    retry:
      maxAttempts: 3
      initialInterval: "100ms"
      maxInterval: "2s"
      multiplier: 2.0
      jitter: true
    circuitBreaker:
      failureThreshold: 5
      failureRateThreshold: 0.5
      minRequests: 10
      windowDuration: "60s"
      openTimeout: "30s"
      halfOpenMaxRequests: 3
      successThreshold: 2
  - name: couriers
    instances:
      - address: 10.0.1.1
        port: 8082
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "slowpost-gateway", cfg.ServiceName)
	assert.Equal(t, 8080, cfg.Listen.HTTPPort)
	assert.Equal(t, 15*time.Second, cfg.Listen.ShutdownTimeout.Duration())
	assert.Len(t, cfg.Routes, 2)
	assert.Len(t, cfg.Services, 2)

	letters := cfg.Service("letters")
	require.NotNil(t, letters)
	assert.Equal(t, 5*time.Second, letters.GetRequestTimeout())
	assert.Equal(t, 20*time.Second, letters.GetGatewayDeadline())
	assert.Equal(t, 10, letters.Instances[0].Weight)
	require.NotNil(t, letters.Retry)
	assert.Equal(t, 3, letters.Retry.MaxAttempts)
	assert.True(t, letters.Retry.Jitter)
	require.NotNil(t, letters.CircuitBreaker)
	assert.Equal(t, 0.5, letters.CircuitBreaker.FailureRateThreshold)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeTempConfig(t, `
routes:
  - prefix: /api/ocr
    service: ocr
services:
  - name: ocr
    instances:
      - address: localhost
        port: 9000
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPPort, cfg.Listen.HTTPPort)
	assert.Equal(t, DefaultAdminPort, cfg.Listen.AdminPort)

	ocr := cfg.Service("ocr")
	require.NotNil(t, ocr)
	assert.Equal(t, LoadBalancerWeighted, ocr.LoadBalancer)
	assert.Equal(t, 1, ocr.Instances[0].Weight)
	assert.Equal(t, DefaultRequestTimeout, ocr.GetRequestTimeout())
	assert.Equal(t, DefaultGatewayDeadline, ocr.GetGatewayDeadline())
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig("")
	assert.Error(t, err)

	_, err = LoadConfig("/does/not/exist.yaml")
	assert.Error(t, err)

	_, err = LoadConfig(t.TempDir())
	assert.Error(t, err)

	path := writeTempConfig(t, "{not: [valid")
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadAndValidateConfig(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	cfg, err := LoadAndValidateConfig(path)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	badPath := writeTempConfig(t, `
routes:
  - prefix: /api/x
    service: missing
services:
  - name: present
    instances:
      - address: localhost
        port: 9000
`)
	_, err = LoadAndValidateConfig(badPath)
	assert.Error(t, err)
}

func TestSaveConfig(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfig(cfg, out))

	reloaded, err := LoadConfig(out)
	require.NoError(t, err)
	assert.Equal(t, cfg.ServiceName, reloaded.ServiceName)
	assert.Len(t, reloaded.Services, len(cfg.Services))

	assert.Error(t, SaveConfig(nil, out))
	assert.Error(t, SaveConfig(cfg, ""))
}

func TestService_Lookup(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.NotNil(t, cfg.Service("couriers"))
	assert.Nil(t, cfg.Service("nope"))
}
