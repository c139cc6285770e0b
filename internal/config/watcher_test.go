package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolvemcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "info"}}`), 0644))

	var mu sync.Mutex
	var got *Config
	w, err := NewWatcher(NewLoader(path), 20*time.Millisecond, func(cfg *Config) {
		mu.Lock()
		got = cfg
		mu.Unlock()
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil && got.Logging.Level == "debug"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatcherSkipsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolvemcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	calls := make(chan *Config, 4)
	w, err := NewWatcher(NewLoader(path), 20*time.Millisecond, func(cfg *Config) { calls <- cfg })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"transport": "carrier-pigeon"}}`), 0644))

	select {
	case cfg := <-calls:
		t.Fatalf("invalid config delivered: %s", cfg.Server.Transport)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(NewLoader(filepath.Join(dir, "resolvemcp.json")), 0, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start())

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
