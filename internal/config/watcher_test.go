package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func watcherConfig(requests int) string {
	return fmt.Sprintf(`
routes:
  - name: api
    pathPrefix: /api
    upstream: http://backend:8080
rateLimit:
  algorithm: fixed_window
  requests: %d
  window: "1m"
roles:
  admin: 5.0
`, requests)
}

func TestWatcher_StartLoadsInitialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherConfig(5)), 0o600))

	w, err := NewWatcher(path, nil, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	cfg := w.GetLastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
}

func TestWatcher_StartRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rateLimit:\n  requests: -1\n"), 0o600))

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)

	assert.Error(t, w.Start(context.Background()))
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherConfig(5)), 0o600))

	var reloads atomic.Int32
	var lastRequests atomic.Int32

	w, err := NewWatcher(path, func(cfg *Config) {
		reloads.Add(1)
		lastRequests.Store(int32(cfg.RateLimit.Requests))
	}, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte(watcherConfig(9)), 0o600))

	require.Eventually(t, func() bool {
		return reloads.Load() >= 1
	}, 2*time.Second, 20*time.Millisecond, "the callback should fire after a write")

	assert.Equal(t, int32(9), lastRequests.Load())
	assert.Equal(t, 9, w.GetLastConfig().RateLimit.Requests)
}

func TestWatcher_InvalidReloadKeepsPreviousConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherConfig(5)), 0o600))

	var errorsSeen atomic.Int32

	w, err := NewWatcher(path, nil,
		WithDebounceDelay(10*time.Millisecond),
		WithErrorCallback(func(error) { errorsSeen.Add(1) }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("rateLimit:\n  requests: -1\n"), 0o600))

	require.Eventually(t, func() bool {
		return errorsSeen.Load() >= 1
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, 5, w.GetLastConfig().RateLimit.Requests,
		"a failed reload must not replace the active configuration")
}

func TestWatcher_ForceReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherConfig(5)), 0o600))

	var callbackRequests int
	w, err := NewWatcher(path, func(cfg *Config) {
		callbackRequests = cfg.RateLimit.Requests
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(watcherConfig(7)), 0o600))
	require.NoError(t, w.ForceReload())

	assert.Equal(t, 7, callbackRequests)
	assert.Equal(t, 7, w.GetLastConfig().RateLimit.Requests)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(watcherConfig(5)), 0o600))

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
