package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_StartStop(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.NotNil(t, w.GetLastConfig())

	require.NoError(t, w.Stop())
}

func TestWatcher_Start_InvalidConfig(t *testing.T) {
	path := writeTempConfig(t, "routes: []\nservices: []\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(cfg *GatewayConfig) {
		reloads.Add(1)
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	updated := strings.Replace(sampleConfig, "slowpost-gateway", "renamed-gateway", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	assert.Eventually(t, func() bool {
		return reloads.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "renamed-gateway", w.GetLastConfig().ServiceName)
}

func TestWatcher_InvalidReloadKeepsLastConfig(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	var errs atomic.Int32
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(error) { errs.Add(1) }),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	assert.Eventually(t, func() bool {
		return errs.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "slowpost-gateway", w.GetLastConfig().ServiceName)
}

func TestWatcher_ForceReload(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(cfg *GatewayConfig) {
		reloads.Add(1)
	})
	require.NoError(t, err)

	require.NoError(t, w.ForceReload())
	assert.Equal(t, int32(1), reloads.Load())

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	assert.Error(t, w.ForceReload())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)

	var reloads atomic.Int32
	w, err := NewWatcher(path, func(cfg *GatewayConfig) {
		reloads.Add(1)
	}, WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	other := filepath.Join(filepath.Dir(path), "other.yaml")
	require.NoError(t, os.WriteFile(other, []byte("x: 1"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), reloads.Load())
}
