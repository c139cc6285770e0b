package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/harun/resolvemcp/internal/observability"
	"github.com/harun/resolvemcp/internal/tracing"
	"github.com/harun/resolvemcp/pkg/commandqueue"
	"github.com/harun/resolvemcp/pkg/resolve"
	"github.com/harun/resolvemcp/pkg/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTimeout bounds one command when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// DefaultQueueWarnAfter is how long a command waits for the resolve lane
// before the wait is logged.
const DefaultQueueWarnAfter = 5 * time.Second

// Sessions is the part of session.Facade the dispatcher needs.
type Sessions interface {
	Current(ctx context.Context) (session.Session, error)
	Verify(ctx context.Context) error
	RefreshProject(ctx context.Context) (*resolve.Project, error)
}

// Queue serializes commands against the shared session.
type Queue interface {
	Enqueue(ctx context.Context, lane string, task commandqueue.Task, opts *commandqueue.TaskOptions) (any, error)
}

// Options configures a Dispatcher.
type Options struct {
	Timeout time.Duration
	// QueueWarnAfter reports commands still queued after this long. A
	// negative value disables the report.
	QueueWarnAfter time.Duration
	// Verify runs a liveness check before every command.
	Verify bool
	Logger *zerolog.Logger
}

// Dispatcher routes requests to registered commands. Dispatch never panics
// and always returns a Result.
type Dispatcher struct {
	sessions  Sessions
	queue     Queue
	timeout   time.Duration
	warnAfter time.Duration
	verify    bool
	logger    zerolog.Logger

	mu       sync.RWMutex
	commands map[string]*Command
	schemas  map[string]*gojsonschema.Schema
}

// New creates a dispatcher with an empty registry.
func New(sessions Sessions, queue Queue, opts Options) *Dispatcher {
	observability.EnsureRegistered()

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.QueueWarnAfter == 0 {
		opts.QueueWarnAfter = DefaultQueueWarnAfter
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Dispatcher{
		sessions:  sessions,
		queue:     queue,
		timeout:   opts.Timeout,
		warnAfter: opts.QueueWarnAfter,
		verify:    opts.Verify,
		logger:    logger.With().Str("component", "dispatch").Logger(),
		commands:  make(map[string]*Command),
		schemas:   make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a command. Names are unique.
func (d *Dispatcher) Register(cmd Command) error {
	if err := validateCommand(cmd); err != nil {
		return fmt.Errorf("invalid command definition: %w", err)
	}
	schema, err := compileSchema(cmd)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", cmd.Name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.commands[cmd.Name]; exists {
		return fmt.Errorf("command %s already registered", cmd.Name)
	}
	d.commands[cmd.Name] = &cmd
	d.schemas[cmd.Name] = schema

	d.logger.Debug().Str("command", cmd.Name).Msg("Command registered")
	return nil
}

// Command returns a registered command by name.
func (d *Dispatcher) Command(name string) (Command, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cmd, ok := d.commands[name]
	if !ok {
		return Command{}, false
	}
	return *cmd, true
}

// Commands returns all commands sorted by name.
func (d *Dispatcher) Commands() []Command {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Command, 0, len(d.commands))
	for _, cmd := range d.commands {
		out = append(out, *cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs one request to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.NewCommandContext(ctx, req.Name)
	ctx, span := tracing.StartSpan(ctx, "dispatch."+req.Name, attribute.String("command", req.Name))
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, d.logger)
	start := time.Now()

	res := d.dispatch(ctx, req, logger)

	duration := time.Since(start)
	observability.RecordDispatch(req.Name, string(res.Status), string(res.Kind), duration)
	span.SetAttributes(attribute.String("status", string(res.Status)))
	if res.Status == StatusError {
		tracing.EndSpan(span, errors.New(res.Message))
		logger.Warn().
			Str("status", string(res.Status)).
			Str("kind", string(res.Kind)).
			Str("error", res.Message).
			Dur("duration", duration).
			Msg("Command failed")
	} else {
		logger.Info().
			Str("status", string(res.Status)).
			Dur("duration", duration).
			Msg("Command completed")
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request, logger zerolog.Logger) Result {
	d.mu.RLock()
	cmd := d.commands[req.Name]
	schema := d.schemas[req.Name]
	d.mu.RUnlock()

	if cmd == nil {
		return Failure(KindUnknownCommand, fmt.Sprintf("Command not implemented: %s", req.Name))
	}

	params := cleanParams(req.Params)
	if err := validateParams(schema, params); err != nil {
		return Failure(KindInvalidParams, err.Error())
	}

	timeout := d.timeout
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Debug().Int("params", len(params)).Dur("timeout", timeout).Msg("Dispatching command")

	var taskOpts *commandqueue.TaskOptions
	if d.warnAfter > 0 {
		taskOpts = &commandqueue.TaskOptions{
			WarnAfter: d.warnAfter,
			OnWait: func(wait time.Duration, queuePos int) {
				logger.Warn().
					Dur("wait", wait).
					Int("queuePos", queuePos).
					Msg("Command still waiting for the resolve lane")
			},
		}
	}

	value, err := d.queue.Enqueue(ctx, commandqueue.LaneResolve, func(ctx context.Context) (any, error) {
		return d.run(ctx, cmd, params)
	}, taskOpts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Failure(KindTimeout, fmt.Sprintf("Command %s timed out after %s", cmd.Name, timeout))
		}
		return Failure(classify(err).Kind, err.Error())
	}
	res, ok := value.(Result)
	if !ok {
		return Failure(KindUnknown, fmt.Sprintf("command %s produced no result", cmd.Name))
	}
	return res
}

// run executes inside the resolve lane. It returns only once the handler
// has, so a handler that outlives its timeout still holds the lane.
func (d *Dispatcher) run(ctx context.Context, cmd *Command, params map[string]any) (Result, error) {
	s, err := d.sessions.Current(ctx)
	if err != nil {
		return Failure(KindNotConnected, "Not connected to DaVinci Resolve"), nil
	}
	if d.verify {
		if err := d.sessions.Verify(ctx); err != nil {
			return Failure(KindNotConnected, "Lost connection to DaVinci Resolve"), nil
		}
		if s, err = d.sessions.Current(ctx); err != nil {
			return Failure(KindNotConnected, "Not connected to DaVinci Resolve"), nil
		}
	}

	env := &Env{Session: s}
	if !cmd.ProjectOptional {
		project, err := d.sessions.RefreshProject(ctx)
		if err != nil {
			e := classify(err)
			return Failure(e.Kind, "Failed to read current project: "+e.Error()), nil
		}
		if project == nil {
			return Failure(KindNoProjectOpen, "No project is currently open"), nil
		}
		env.Project = project
	} else {
		env.Project = s.Project
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error().
					Str("command", cmd.Name).
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Msg("Command handler panicked")
				done <- outcome{err: Unknown(nil, "Internal error in %s: %v", cmd.Name, r)}
			}
		}()
		value, err := cmd.Handler(ctx, env, params)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		return toResult(out.value, out.err), nil
	case <-ctx.Done():
		// the caller already has its timeout; keep the lane until the handler stops
		start := time.Now()
		d.logger.Warn().Str("command", cmd.Name).Msg("Command handler outlived its timeout, holding the resolve lane")
		<-done
		d.logger.Debug().
			Str("command", cmd.Name).
			Dur("overrun", time.Since(start)).
			Msg("Command handler returned after its timeout")
		return Result{}, ctx.Err()
	}
}

func toResult(value any, err error) Result {
	if err == nil {
		return Success(value)
	}
	var ni *NotImplementedError
	if errors.As(err, &ni) {
		return notImplementedResult(ni)
	}
	e := classify(err)
	return Failure(e.Kind, e.Error())
}

// cleanParams drops nil values so defaults apply, and never returns nil.
func cleanParams(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if v != nil {
			out[k] = v
		}
	}
	return out
}
