package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/resolvemcp/internal/observability"
	"github.com/harun/resolvemcp/internal/tracing"
	"github.com/harun/resolvemcp/pkg/commandqueue"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Queue serializes probe runs with command dispatch.
type Queue interface {
	Enqueue(ctx context.Context, lane string, task commandqueue.Task, opts *commandqueue.TaskOptions) (any, error)
}

// ProberConfig configures a Prober.
type ProberConfig struct {
	Schedule string        // cron schedule, "@every 30s"
	Timeout  time.Duration // per probe, including time spent queued
	Logger   *zerolog.Logger
	// OnOutcome is called after each probe.
	OnOutcome func(Outcome)
}

// Prober runs Facade.Probe on a cron schedule through the resolve lane, so it
// never interleaves with a command handler.
type Prober struct {
	facade *Facade
	queue  Queue
	cfg    ProberConfig
	logger zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	last    Outcome
	lastRun time.Time
}

// NewProber validates the schedule and returns a stopped prober.
func NewProber(facade *Facade, queue Queue, cfg ProberConfig) (*Prober, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid probe schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Prober{
		facade: facade,
		queue:  queue,
		cfg:    cfg,
		logger: logger.With().Str("component", "prober").Logger(),
	}, nil
}

// Start schedules probes. Calling Start twice is a no-op.
func (p *Prober) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(p.cfg.Schedule, func() { p.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("schedule probe: %w", err)
	}
	c.Start()
	p.cron = c

	p.logger.Info().Str("schedule", p.cfg.Schedule).Msg("Session prober started")
	return nil
}

// Stop cancels the schedule and waits for a running probe to finish.
func (p *Prober) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	p.logger.Info().Msg("Session prober stopped")
}

// RunOnce performs one probe through the queue.
func (p *Prober) RunOnce(ctx context.Context) Outcome {
	ctx, cancel := context.WithTimeout(tracing.NewCommandContext(ctx, "session.probe"), p.cfg.Timeout)
	defer cancel()

	value, err := p.queue.Enqueue(ctx, commandqueue.LaneResolve, func(ctx context.Context) (any, error) {
		return p.facade.Probe(ctx), nil
	}, nil)

	outcome := OutcomeLost
	if err != nil {
		p.logger.Warn().Err(err).Msg("Session probe did not run")
	} else if o, ok := value.(Outcome); ok {
		outcome = o
	}

	observability.RecordSessionProbe(string(outcome))

	p.mu.Lock()
	prev := p.last
	p.last = outcome
	p.lastRun = time.Now()
	p.mu.Unlock()

	if outcome != prev {
		p.logger.Info().Str("outcome", string(outcome)).Str("previous", string(prev)).Msg("Session liveness changed")
	}
	if p.cfg.OnOutcome != nil {
		p.cfg.OnOutcome(outcome)
	}
	return outcome
}

// Last returns the most recent outcome and when it was recorded.
func (p *Prober) Last() (Outcome, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.lastRun
}
