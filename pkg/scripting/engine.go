package scripting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/resolvemcp/internal/observability"
	"github.com/harun/resolvemcp/internal/tracing"
	"github.com/harun/resolvemcp/pkg/dispatch"
)

const (
	// DefaultResult is returned when a script leaves result unset.
	DefaultResult = "Script executed successfully"
	// DefaultTimeout bounds one script when Config.Timeout is unset.
	DefaultTimeout = 10 * time.Second
	// MaxCodeBytes caps the size of a submitted script.
	MaxCodeBytes = 64 << 10
)

// Config configures an Engine.
type Config struct {
	Enabled           bool
	RequestsPerMinute int
	MaxConcurrent     int
	Timeout           time.Duration
	Audit             *observability.AuditLogger
	Logger            *zerolog.Logger
}

// Run describes one finished script.
type Run struct {
	ID       string
	Value    any
	Output   []string
	Duration time.Duration
}

// Engine executes caller code in a sandboxed Lua VM.
type Engine struct {
	mu      sync.RWMutex
	enabled bool
	timeout time.Duration

	limiter *RateLimiter
	audit   *observability.AuditLogger
	logger  zerolog.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg Config) *Engine {
	observability.EnsureRegistered()

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	audit := cfg.Audit
	if audit == nil {
		audit = observability.GetAuditLogger()
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Engine{
		enabled: cfg.Enabled,
		timeout: cfg.Timeout,
		limiter: NewRateLimiter(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		audit:   audit,
		logger:  logger.With().Str("component", "scripting").Logger(),
	}
}

// Enabled reports whether scripts may run.
func (e *Engine) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// Timeout returns the per-script time limit.
func (e *Engine) Timeout() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.timeout
}

// Update applies new settings to a running engine. Audit and Logger are ignored.
func (e *Engine) Update(cfg Config) {
	e.mu.Lock()
	e.enabled = cfg.Enabled
	if cfg.Timeout > 0 {
		e.timeout = cfg.Timeout
	}
	e.mu.Unlock()
	e.limiter.UpdateLimits(cfg.RequestsPerMinute, cfg.MaxConcurrent)
}

// Execute runs code with scope in view and returns the value of result.
func (e *Engine) Execute(ctx context.Context, code string, scope Scope) (any, error) {
	run, err := e.Run(ctx, code, scope)
	if err != nil {
		return nil, err
	}
	return run.Value, nil
}

// Run is Execute with the run details.
func (e *Engine) Run(ctx context.Context, code string, scope Scope) (*Run, error) {
	if !e.Enabled() {
		e.record(ctx, "", code, "denied", 0, "scripting disabled")
		return nil, dispatch.PermissionDenied("Script execution is disabled; set scripting.enabled to true")
	}
	if len(code) > MaxCodeBytes {
		return nil, dispatch.InvalidParams("Script exceeds %d bytes", MaxCodeBytes)
	}
	release, err := e.limiter.Acquire()
	if err != nil {
		e.record(ctx, "", code, "denied", 0, err.Error())
		observability.RecordScriptExecution("rate_limited", 0)
		return nil, dispatch.RateLimited("Script rejected: %s", err.Error())
	}

	id, _ := gonanoid.New()
	timeout := e.Timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := tracing.LoggerFromContext(ctx, e.logger).With().Str("run_id", id).Logger()
	logger.Debug().Int("bytes", len(code)).Msg("Executing script")

	start := time.Now()
	value, output, err := e.execute(ctx, code, scope, release)
	duration := time.Since(start)

	for _, line := range output {
		logger.Debug().Str("output", line).Msg("Script output")
	}

	if err != nil {
		status := "error"
		var de *dispatch.Error
		if errors.As(err, &de) && de.Kind == dispatch.KindTimeout {
			status = "timeout"
		}
		e.record(ctx, id, code, "failure", duration, err.Error())
		observability.RecordScriptExecution(status, duration)
		logger.Warn().Err(err).Dur("duration", duration).Msg("Script failed")
		return nil, err
	}

	e.record(ctx, id, code, "success", duration, "")
	observability.RecordScriptExecution("success", duration)
	logger.Info().Dur("duration", duration).Msg("Script executed")

	if value == nil {
		value = DefaultResult
	}
	return &Run{ID: id, Value: value, Output: output, Duration: duration}, nil
}

// execute runs the VM on its own goroutine. release is called when that
// goroutine exits, which after a timeout is once the interrupt hook fires or
// the pending application call returns.
func (e *Engine) execute(ctx context.Context, code string, scope Scope, release func()) (any, []string, error) {
	type outcome struct {
		value  any
		output []string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Script VM panicked")
				done <- outcome{err: fmt.Errorf("%v", r)}
			}
		}()
		sb := newSandbox(ctx, scope)
		value, err := sb.run(code)
		done <- outcome{value: value, output: sb.output, err: err}
	}()

	select {
	case out := <-done:
		if ctx.Err() != nil {
			return nil, out.output, e.interrupted(ctx)
		}
		if out.err != nil {
			return nil, out.output, dispatch.ScriptError(out.err, "Script execution error: %s", out.err.Error())
		}
		return out.value, out.output, nil
	case <-ctx.Done():
		return nil, nil, e.interrupted(ctx)
	}
}

func (e *Engine) interrupted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return &dispatch.Error{
		Kind:    dispatch.KindTimeout,
		Message: fmt.Sprintf("Script timed out after %s", e.Timeout()),
		Cause:   ctx.Err(),
	}
}

func (e *Engine) record(ctx context.Context, id, code, status string, duration time.Duration, errMsg string) {
	sum := sha256.Sum256([]byte(code))
	metadata := map[string]any{
		"code_sha256": hex.EncodeToString(sum[:]),
		"code_bytes":  len(code),
		"duration_ms": duration.Milliseconds(),
	}
	if errMsg != "" {
		metadata["error"] = errMsg
	}
	actor := tracing.GetActor(ctx)
	if actor == "" {
		actor = "unknown"
	}
	e.audit.Record(ctx, observability.AuditEvent{
		ID:       id,
		Type:     "script",
		Actor:    actor,
		Action:   "execute:execute_script",
		Status:   status,
		Metadata: metadata,
	})
}
