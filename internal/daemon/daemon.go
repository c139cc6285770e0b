// Package daemon wires the resolvemcp runtime: bridge connector, session
// facade, command queue, dispatcher, scripting engine, prober, config watcher
// and the MCP server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/resolvemcp/internal/config"
	"github.com/harun/resolvemcp/internal/logger"
	"github.com/harun/resolvemcp/internal/metrics"
	"github.com/harun/resolvemcp/internal/observability"
	"github.com/harun/resolvemcp/internal/tracing"
	"github.com/harun/resolvemcp/pkg/commandqueue"
	"github.com/harun/resolvemcp/pkg/commands"
	"github.com/harun/resolvemcp/pkg/dispatch"
	"github.com/harun/resolvemcp/pkg/mcpserver"
	"github.com/harun/resolvemcp/pkg/resolve"
	"github.com/harun/resolvemcp/pkg/resolve/bridge"
	"github.com/harun/resolvemcp/pkg/scripting"
	"github.com/harun/resolvemcp/pkg/session"
)

const (
	serviceName     = "resolvemcp"
	stopTimeout     = 5 * time.Second
	reloadDebounce  = 250 * time.Millisecond
	probeTimeoutMax = 10 * time.Second
)

// Options customizes New. The zero value dials the configured bridge.
type Options struct {
	// Version is reported to MCP clients and in build info.
	Version string
	// ConfigPath enables hot reload when the file's directory exists.
	ConfigPath string
	// Connector replaces the websocket bridge.
	Connector resolve.Connector
	// AuditOutput receives audit JSON lines; stderr when nil and console
	// logging is on, discarded otherwise.
	AuditOutput io.Writer
}

// Daemon represents the resolvemcp runtime
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	log    zerolog.Logger
	opts   Options

	connector  resolve.Connector
	auditStore *observability.AuditStore
	audit      *observability.AuditLogger
	queue      *commandqueue.CommandQueue
	sessions   *session.Facade
	dispatcher *dispatch.Dispatcher
	engine     *scripting.Engine
	prober     *session.Prober
	server     *mcpserver.Server
	metrics    *metrics.Server
	watcher    *config.Watcher
	lifecycle  *LifecycleManager

	startTime time.Time
	running   bool
	closed    bool
	mu        sync.RWMutex
}

// Status is a snapshot of the daemon state.
type Status struct {
	Running      bool
	Uptime       time.Duration
	StartTime    time.Time
	SessionState string
	LastProbe    string
	LastProbeAt  time.Time
	Commands     int
	Queue        map[string]commandqueue.LaneStats
}

// New builds the runtime without starting any background work.
func New(cfg *config.Config, log *logger.Logger, opts *Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		config: cfg,
		logger: log,
		log:    log.GetZerolog(),
	}
	if opts != nil {
		d.opts = *opts
	}
	if d.opts.Version == "" {
		d.opts.Version = "dev"
	}

	observability.EnsureRegistered()
	metrics.RegisterBuildInfo(d.opts.Version)
	if _, err := tracing.InitOpenTelemetry(serviceName, d.opts.Version); err != nil {
		d.log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	}

	if err := d.initializeCoreModules(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}
	if err := d.initializeServices(); err != nil {
		d.release()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return d, nil
}

func (d *Daemon) initializeCoreModules() error {
	cfg := d.config

	auditOut := d.opts.AuditOutput
	if auditOut == nil {
		auditOut = io.Discard
		if cfg.Logging.Console {
			auditOut = os.Stderr
		}
	}
	var sink observability.AuditSink
	if cfg.Audit.Enabled {
		store, err := observability.OpenAuditStore(cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		d.auditStore = store
		sink = store
	}
	d.audit = observability.NewAuditLogger(auditOut, sink)

	d.connector = d.opts.Connector
	if d.connector == nil {
		d.connector = bridge.New(bridge.Config{
			URL:         cfg.Bridge.URL,
			AppName:     cfg.Bridge.AppName,
			DialTimeout: cfg.BridgeDialTimeout(),
			CallTimeout: cfg.BridgeCallTimeout(),
			Logger:      &d.log,
		})
	}

	d.queue = commandqueue.New()
	d.sessions = session.New(d.connector, &session.Options{Logger: &d.log})
	d.dispatcher = dispatch.New(d.sessions, d.queue, dispatch.Options{
		Timeout:        cfg.DispatchTimeout(),
		QueueWarnAfter: queueWarnAfter(cfg),
		Verify:         cfg.Session.VerifyBeforeDispatch,
		Logger:         &d.log,
	})

	d.engine = scripting.NewEngine(d.scriptingConfig(cfg))
	if err := commands.Register(d.dispatcher, commands.Options{Engine: d.engine}); err != nil {
		return err
	}

	d.log.Info().
		Int("commands", len(d.dispatcher.Commands())).
		Bool("scripting", cfg.Scripting.Enabled).
		Msg("Core modules initialized")
	return nil
}

func (d *Daemon) initializeServices() error {
	cfg := d.config

	if cfg.Session.ProbeEnabled {
		timeout := cfg.BridgeCallTimeout()
		if timeout <= 0 || timeout > probeTimeoutMax {
			timeout = probeTimeoutMax
		}
		prober, err := session.NewProber(d.sessions, d.queue, session.ProberConfig{
			Schedule: cfg.Session.ProbeSchedule,
			Timeout:  timeout,
			Logger:   &d.log,
		})
		if err != nil {
			return err
		}
		d.prober = prober
	}

	server, err := mcpserver.New(d.dispatcher, mcpserver.Config{
		Name:      cfg.Server.Name,
		Version:   d.opts.Version,
		Transport: cfg.Server.Transport,
		HTTPAddr:  cfg.Server.HTTPAddr,
		Metrics:   cfg.Metrics.Enabled,
		Audit:     d.audit,
		Logger:    &d.log,
	})
	if err != nil {
		return err
	}
	d.server = server

	if cfg.Metrics.Enabled {
		d.metrics = metrics.NewServer(cfg.Metrics.Addr, &d.log)
	}

	if d.opts.ConfigPath != "" {
		watcher, err := config.NewWatcher(config.NewLoader(d.opts.ConfigPath), reloadDebounce, d.applyConfig)
		if err != nil {
			d.log.Warn().Err(err).Msg("Config hot reload disabled")
		} else {
			d.watcher = watcher
		}
	}

	if cfg.Server.Transport == config.TransportHTTP {
		d.lifecycle = NewLifecycleManager(cfg.DataDir, d.log)
	}
	return nil
}

// queueWarnAfter maps the config's "0 disables" onto dispatch options.
func queueWarnAfter(cfg *config.Config) time.Duration {
	if cfg.Dispatch.QueueWarnAfter == 0 {
		return -1
	}
	return cfg.QueueWarnAfter()
}

func (d *Daemon) scriptingConfig(cfg *config.Config) scripting.Config {
	return scripting.Config{
		Enabled:           cfg.Scripting.Enabled,
		RequestsPerMinute: cfg.Scripting.RequestsPerMinute,
		MaxConcurrent:     cfg.Scripting.MaxConcurrent,
		Timeout:           cfg.ScriptTimeout(),
		Audit:             d.audit,
		Logger:            &d.log,
	}
}

// applyConfig takes the settings that can change while serving: scripting
// limits and log level. The rest needs a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	d.mu.Lock()
	prev := d.config
	d.config = cfg
	d.mu.Unlock()

	d.engine.Update(d.scriptingConfig(cfg))
	if cfg.Logging.Level != prev.Logging.Level {
		if err := d.logger.SetLevel(cfg.Logging.Level); err != nil {
			d.log.Warn().Err(err).Msg("Ignoring reloaded log level")
		}
	}

	d.audit.RecordConfigAudit(context.Background(), "reload", map[string]any{
		"path":              d.opts.ConfigPath,
		"scripting_enabled": cfg.Scripting.Enabled,
		"log_level":         cfg.Logging.Level,
	})
	d.log.Info().Bool("scripting", cfg.Scripting.Enabled).Msg("Applied reloaded config")
}

// Start runs the background services. The MCP server itself is driven by Run.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("daemon is stopped")
	}
	if d.running {
		d.mu.Unlock()
		return errors.New("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.log.With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Str("transport", d.config.Server.Transport).Msg("Starting resolvemcp")

	if d.lifecycle != nil {
		if err := d.lifecycle.Start(); err != nil {
			d.setStopped()
			return fmt.Errorf("failed to start lifecycle manager: %w", err)
		}
	}

	if d.metrics != nil {
		if err := d.metrics.Start(); err != nil {
			d.stopServices()
			d.setStopped()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if d.prober != nil {
		if err := d.prober.Start(); err != nil {
			d.stopServices()
			d.setStopped()
			return fmt.Errorf("failed to start session prober: %w", err)
		}
	}

	if d.watcher != nil {
		if err := d.watcher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Config hot reload disabled")
			_ = d.watcher.Stop()
			d.watcher = nil
		}
	}

	logger.Info().Msg("resolvemcp started")
	return nil
}

// Run starts the daemon, serves MCP until ctx ends or the client goes away,
// then stops.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	serveErr := d.server.Run(ctx)
	stopErr := d.Stop()
	if serveErr != nil {
		return serveErr
	}
	return stopErr
}

// Stop stops background services and releases every resource. It may be
// called without Start, and more than once.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.log.Info().Msg("Stopping resolvemcp")
	err := errors.Join(d.stopServices(), d.release())
	d.setStopped()
	d.log.Info().Msg("resolvemcp stopped")
	return err
}

func (d *Daemon) stopServices() error {
	var errs []error
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("config watcher: %w", err))
		}
	}
	if d.prober != nil {
		d.prober.Stop()
	}
	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if err := d.metrics.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if d.lifecycle != nil {
		if err := d.lifecycle.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("lifecycle: %w", err))
		}
	}
	return errors.Join(errs...)
}

// drain rejects queued commands and gives running ones stopTimeout to
// finish before the session goes away.
func (d *Daemon) drain() {
	if d.queue == nil {
		return
	}
	if dropped := d.queue.ClearLane(commandqueue.LaneResolve); dropped > 0 {
		d.log.Warn().Int("dropped", dropped).Msg("Rejected queued commands on shutdown")
	}
	if !d.queue.WaitForActive(stopTimeout) {
		d.log.Warn().Dur("timeout", stopTimeout).Msg("Commands still running at shutdown")
	}
}

func (d *Daemon) release() error {
	d.drain()

	var errs []error
	if d.sessions != nil {
		d.sessions.Disconnect()
	}
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("command queue: %w", err))
		}
	}
	if closer, ok := d.connector.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bridge: %w", err))
		}
	}
	if d.auditStore != nil {
		if err := d.auditStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit store: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracing: %w", err))
	}
	return errors.Join(errs...)
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:      d.running,
		SessionState: d.sessions.State().String(),
		Commands:     len(d.dispatcher.Commands()),
		Queue:        d.queue.GetStats(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	if d.prober != nil {
		outcome, at := d.prober.Last()
		status.LastProbe = string(outcome)
		status.LastProbeAt = at
	}
	return status
}

// Probe runs one liveness check through the resolve lane.
func (d *Daemon) Probe(ctx context.Context) session.Outcome {
	if d.prober != nil {
		return d.prober.RunOnce(ctx)
	}
	value, err := d.queue.Enqueue(ctx, commandqueue.LaneResolve, func(ctx context.Context) (any, error) {
		return d.sessions.Probe(ctx), nil
	}, nil)
	outcome, ok := value.(session.Outcome)
	if err != nil || !ok {
		return session.OutcomeLost
	}
	return outcome
}

// Dispatch runs one command, recording it in the audit trail.
func (d *Daemon) Dispatch(ctx context.Context, req dispatch.Request, actor string) dispatch.Result {
	ctx = tracing.WithActor(ctx, actor)
	res := d.dispatcher.Dispatch(ctx, req)
	d.audit.RecordCommandAudit(ctx, req.Name, actor, string(res.Status), map[string]any{
		"kind": string(res.Kind),
	})
	return res
}

// GetConfig returns the active configuration
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetDispatcher returns the command dispatcher
func (d *Daemon) GetDispatcher() *dispatch.Dispatcher {
	return d.dispatcher
}

// GetSessions returns the session facade
func (d *Daemon) GetSessions() *session.Facade {
	return d.sessions
}

// GetEngine returns the scripting engine
func (d *Daemon) GetEngine() *scripting.Engine {
	return d.engine
}

// GetServer returns the MCP server
func (d *Daemon) GetServer() *mcpserver.Server {
	return d.server
}

// GetAuditStore returns the audit store, nil when auditing is off
func (d *Daemon) GetAuditStore() *observability.AuditStore {
	return d.auditStore
}

// GetLifecycle returns the lifecycle manager, nil for stdio servers
func (d *Daemon) GetLifecycle() *LifecycleManager {
	return d.lifecycle
}
