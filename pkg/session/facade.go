package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/resolvemcp/internal/observability"
	"github.com/harun/resolvemcp/internal/tracing"
	"github.com/harun/resolvemcp/pkg/resolve"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned when no application session can be acquired.
var ErrNotConnected = errors.New("not connected to DaVinci Resolve")

// State of the facade.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome of a liveness check.
type Outcome string

const (
	OutcomeAlive     Outcome = "alive"
	OutcomeRecovered Outcome = "recovered"
	OutcomeLost      Outcome = "lost"
)

// Session is a snapshot of the cached handles. Project is nil when no
// project is open.
type Session struct {
	App            *resolve.App
	ProjectManager *resolve.ProjectManager
	Project        *resolve.Project
	ConnectedAt    time.Time
}

// Options configures a Facade.
type Options struct {
	Logger *zerolog.Logger
}

// Facade provides a currently valid session to command handlers. All methods
// are safe for concurrent use; connection attempts are serialized.
type Facade struct {
	connector resolve.Connector
	logger    zerolog.Logger

	mu      sync.Mutex
	session *Session
	state   State
}

// New creates a disconnected facade. Nothing is dialed until first use.
func New(connector resolve.Connector, opts *Options) *Facade {
	observability.EnsureRegistered()

	logger := log.Logger
	if opts != nil && opts.Logger != nil {
		logger = *opts.Logger
	}

	f := &Facade{
		connector: connector,
		logger:    logger.With().Str("component", "session").Logger(),
	}
	observability.SetSessionState(int(Disconnected))
	return f
}

// Connect acquires the application singleton and its project handles. On
// failure the previous cache and state are kept.
func (f *Facade) Connect(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectLocked(ctx) == nil
}

// Current returns the cached session, connecting once if there is none.
func (f *Facade) Current(ctx context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session != nil {
		return *f.session, nil
	}
	if err := f.connectLocked(ctx); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return *f.session, nil
}

// RefreshProject re-reads the open project from the project manager and
// replaces the cached handle. A nil project with a nil error means no project
// is open.
func (f *Facade) RefreshProject(ctx context.Context) (*resolve.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session == nil || f.session.ProjectManager == nil {
		return nil, ErrNotConnected
	}
	project, err := f.session.ProjectManager.CurrentProject(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh project: %w", err)
	}
	f.session.Project = project
	return project, nil
}

// Verify checks the application still answers. When it does not, one
// Reconnect is attempted; ErrNotConnected is returned if that fails too.
func (f *Facade) Verify(ctx context.Context) error {
	if f.Probe(ctx) == OutcomeLost {
		return ErrNotConnected
	}
	return nil
}

// Probe is Verify reporting what happened.
func (f *Facade) Probe(ctx context.Context) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session != nil && f.session.App != nil {
		_, err := f.session.App.Version(ctx)
		if err == nil {
			return OutcomeAlive
		}
		logger := tracing.LoggerFromContext(ctx, f.logger)
		logger.Warn().Err(err).Msg("Resolve stopped answering, reconnecting")
	}

	if err := f.reconnectLocked(ctx); err != nil {
		return OutcomeLost
	}
	return OutcomeRecovered
}

// Reconnect drops the cached handles and connects again. The facade is
// Disconnected afterwards if the attempt fails.
func (f *Facade) Reconnect(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnectLocked(ctx) == nil
}

// State reports the current state.
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Disconnect clears the cache.
func (f *Facade) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = nil
	f.setStateLocked(Disconnected)
}

func (f *Facade) reconnectLocked(ctx context.Context) error {
	err := f.connectLocked(ctx)
	if err != nil {
		f.session = nil
		f.setStateLocked(Disconnected)
	}
	return err
}

func (f *Facade) connectLocked(ctx context.Context) error {
	logger := tracing.LoggerFromContext(ctx, f.logger)
	prev := f.state
	f.setStateLocked(Connecting)

	s, err := f.acquire(ctx)
	observability.RecordSessionConnect(err == nil)
	if err != nil {
		f.setStateLocked(prev)
		logger.Warn().Err(err).Msg("Failed to connect to DaVinci Resolve")
		return err
	}

	f.session = s
	f.setStateLocked(Connected)

	event := logger.Info()
	if s.Project == nil {
		event = event.Bool("project_open", false)
	}
	event.Msg("Connected to DaVinci Resolve")
	return nil
}

func (f *Facade) acquire(ctx context.Context) (*Session, error) {
	root, err := f.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	app := resolve.NewApp(root)
	if app == nil {
		return nil, errors.New("scriptapp returned no application")
	}

	pm, err := app.ProjectManager(ctx)
	if err != nil {
		return nil, fmt.Errorf("get project manager: %w", err)
	}
	if pm == nil {
		return nil, errors.New("application returned no project manager")
	}

	project, err := pm.CurrentProject(ctx)
	if err != nil {
		return nil, fmt.Errorf("get current project: %w", err)
	}

	return &Session{
		App:            app,
		ProjectManager: pm,
		Project:        project,
		ConnectedAt:    time.Now(),
	}, nil
}

func (f *Facade) setStateLocked(s State) {
	f.state = s
	observability.SetSessionState(int(s))
}
