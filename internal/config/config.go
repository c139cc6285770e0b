package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
)

// Transports accepted by the MCP server.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config represents the main resolvemcp configuration
type Config struct {
	// Connection to the scripting bridge inside Resolve
	Bridge BridgeConfig `json:"bridge" mapstructure:"bridge"`

	// Session facade behaviour
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Command dispatch
	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`

	// execute_script sandbox
	Scripting ScriptingConfig `json:"scripting" mapstructure:"scripting"`

	// MCP tool surface
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Prometheus endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Audit trail
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// BridgeConfig holds the websocket bridge settings
type BridgeConfig struct {
	URL         string `json:"url" mapstructure:"url"`
	AppName     string `json:"app_name" mapstructure:"app_name"`
	DialTimeout int    `json:"dial_timeout" mapstructure:"dial_timeout"` // seconds
	CallTimeout int    `json:"call_timeout" mapstructure:"call_timeout"` // seconds
}

// SessionConfig holds session facade settings
type SessionConfig struct {
	VerifyBeforeDispatch bool   `json:"verify_before_dispatch" mapstructure:"verify_before_dispatch"`
	ProbeEnabled         bool   `json:"probe_enabled" mapstructure:"probe_enabled"`
	ProbeSchedule        string `json:"probe_schedule" mapstructure:"probe_schedule"` // cron schedule, e.g. "@every 30s"
}

// DispatchConfig holds dispatcher settings
type DispatchConfig struct {
	Timeout int `json:"timeout" mapstructure:"timeout"` // seconds per command
	// QueueWarnAfter logs commands still waiting for the resolve lane; 0 disables.
	QueueWarnAfter int `json:"queue_warn_after" mapstructure:"queue_warn_after"` // seconds
}

// ScriptingConfig holds execute_script settings
type ScriptingConfig struct {
	Enabled           bool `json:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrent     int  `json:"max_concurrent" mapstructure:"max_concurrent"`
	Timeout           int  `json:"timeout" mapstructure:"timeout"` // seconds
}

// ServerConfig holds MCP server settings
type ServerConfig struct {
	Name      string `json:"name" mapstructure:"name"`
	Transport string `json:"transport" mapstructure:"transport"` // stdio, http
	HTTPAddr  string `json:"http_addr" mapstructure:"http_addr"`
}

// MetricsConfig holds the metrics endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"` // sqlite database
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			URL:         "ws://localhost:9876/resolve",
			AppName:     "Resolve",
			DialTimeout: 5,
			CallTimeout: 10,
		},
		Session: SessionConfig{
			VerifyBeforeDispatch: true,
			ProbeEnabled:         true,
			ProbeSchedule:        "@every 30s",
		},
		Dispatch: DispatchConfig{
			Timeout:        30,
			QueueWarnAfter: 5,
		},
		Scripting: ScriptingConfig{
			Enabled:           false,
			RequestsPerMinute: 30,
			MaxConcurrent:     1,
			Timeout:           10,
		},
		Server: ServerConfig{
			Name:      "davinci-resolve",
			Transport: TransportStdio,
			HTTPAddr:  "localhost:9877",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "localhost:9090",
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    false,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.Bridge.URL)
	if err != nil {
		return fmt.Errorf("bridge url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("bridge url must use ws or wss, got %q", c.Bridge.URL)
	}
	if c.Bridge.DialTimeout <= 0 || c.Bridge.CallTimeout <= 0 {
		return fmt.Errorf("bridge timeouts must be positive")
	}

	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive")
	}
	if c.Dispatch.QueueWarnAfter < 0 {
		return fmt.Errorf("dispatch queue_warn_after must not be negative")
	}

	if c.Session.ProbeEnabled {
		if _, err := cron.ParseStandard(c.Session.ProbeSchedule); err != nil {
			return fmt.Errorf("invalid session probe schedule %q: %w", c.Session.ProbeSchedule, err)
		}
	}

	if c.Scripting.Enabled {
		if c.Scripting.RequestsPerMinute <= 0 {
			return fmt.Errorf("scripting requests_per_minute must be positive when scripting is enabled")
		}
		if c.Scripting.MaxConcurrent <= 0 {
			return fmt.Errorf("scripting max_concurrent must be positive when scripting is enabled")
		}
		if c.Scripting.Timeout <= 0 {
			return fmt.Errorf("scripting timeout must be positive when scripting is enabled")
		}
	}

	switch c.Server.Transport {
	case TransportStdio:
	case TransportHTTP:
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server http_addr is required for the http transport")
		}
	default:
		return fmt.Errorf("invalid server transport: %s (must be: stdio, http)", c.Server.Transport)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}

	return nil
}

// DispatchTimeout returns the per-command timeout.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.Timeout) * time.Second
}

// QueueWarnAfter returns how long a command may wait for the resolve lane
// before it is reported.
func (c *Config) QueueWarnAfter() time.Duration {
	return time.Duration(c.Dispatch.QueueWarnAfter) * time.Second
}

// ScriptTimeout returns the execute_script timeout.
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.Scripting.Timeout) * time.Second
}

// BridgeDialTimeout returns the websocket dial timeout.
func (c *Config) BridgeDialTimeout() time.Duration {
	return time.Duration(c.Bridge.DialTimeout) * time.Second
}

// BridgeCallTimeout returns the timeout of one remote call.
func (c *Config) BridgeCallTimeout() time.Duration {
	return time.Duration(c.Bridge.CallTimeout) * time.Second
}
