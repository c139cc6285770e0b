package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.DispatchTimeout())
	assert.Equal(t, 5*time.Second, cfg.QueueWarnAfter())
	assert.Equal(t, 10*time.Second, cfg.ScriptTimeout())
	assert.Equal(t, 5*time.Second, cfg.BridgeDialTimeout())
	assert.Equal(t, 10*time.Second, cfg.BridgeCallTimeout())
	assert.False(t, cfg.Scripting.Enabled)
	assert.Equal(t, TransportStdio, cfg.Server.Transport)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "http bridge url",
			mutate:  func(c *Config) { c.Bridge.URL = "http://localhost:9876" },
			wantErr: "ws or wss",
		},
		{
			name:    "zero dispatch timeout",
			mutate:  func(c *Config) { c.Dispatch.Timeout = 0 },
			wantErr: "dispatch timeout",
		},
		{
			name:    "negative queue warning",
			mutate:  func(c *Config) { c.Dispatch.QueueWarnAfter = -1 },
			wantErr: "queue_warn_after",
		},
		{
			name:    "bad probe schedule",
			mutate:  func(c *Config) { c.Session.ProbeSchedule = "every now and then" },
			wantErr: "probe schedule",
		},
		{
			name: "bad probe schedule ignored when probing is off",
			mutate: func(c *Config) {
				c.Session.ProbeEnabled = false
				c.Session.ProbeSchedule = "nope"
			},
		},
		{
			name: "scripting without rate",
			mutate: func(c *Config) {
				c.Scripting.Enabled = true
				c.Scripting.RequestsPerMinute = 0
			},
			wantErr: "requests_per_minute",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Server.Transport = "sse" },
			wantErr: "invalid server transport",
		},
		{
			name: "http transport without addr",
			mutate: func(c *Config) {
				c.Server.Transport = TransportHTTP
				c.Server.HTTPAddr = ""
			},
			wantErr: "http_addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:9876/resolve", cfg.Bridge.URL)
	assert.Equal(t, 30, cfg.Dispatch.Timeout)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "audit.db"), cfg.Audit.Path)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolvemcp.json")
	content := `{
  "bridge": {"url": "ws://studio:7000/resolve"},
  "scripting": {"enabled": true},
  "data_dir": "` + filepath.ToSlash(dir) + `"
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://studio:7000/resolve", cfg.Bridge.URL)
	assert.Equal(t, "Resolve", cfg.Bridge.AppName)
	assert.True(t, cfg.Scripting.Enabled)
	assert.Equal(t, 30, cfg.Scripting.RequestsPerMinute)
	assert.Equal(t, filepath.Join(filepath.ToSlash(dir), "audit.db"), cfg.Audit.Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RESOLVEMCP_SCRIPTING_ENABLED", "true")
	t.Setenv("RESOLVEMCP_DISPATCH_TIMEOUT", "45")
	t.Setenv("RESOLVEMCP_SERVER_TRANSPORT", "http")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)

	assert.True(t, cfg.Scripting.Enabled)
	assert.Equal(t, 45, cfg.Dispatch.Timeout)
	assert.Equal(t, TransportHTTP, cfg.Server.Transport)
}

func TestSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "resolvemcp.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.Bridge.URL = "wss://edit-bay:9876/resolve"
	cfg.Logging.Level = "debug"
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "wss://edit-bay:9876/resolve", loaded.Bridge.URL)
	assert.Equal(t, "debug", loaded.Logging.Level)
	assert.Equal(t, dir, loaded.DataDir)
}

func TestGetConfigPathDefault(t *testing.T) {
	path := NewLoader("").GetConfigPath()
	assert.Equal(t, "resolvemcp.json", filepath.Base(path))
	assert.Equal(t, ".resolvemcp", filepath.Base(filepath.Dir(path)))
}
