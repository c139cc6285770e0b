package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/resolvemcp/internal/observability"
	"github.com/harun/resolvemcp/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// LaneResolve serializes every call that touches the application session.
const LaneResolve = "resolve"

var (
	// ErrLaneCleared is returned to tasks dropped by ClearLane.
	ErrLaneCleared = errors.New("lane cleared")
	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = errors.New("command queue closed")
)

// Task represents an operation to be executed in a lane
type Task func(ctx context.Context) (any, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfter time.Duration
	OnWait    func(wait time.Duration, queuePos int)
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	options    TaskOptions
	result     chan taskResult
}

type taskResult struct {
	value any
	err   error
}

// laneState manages execution state for a single lane
type laneState struct {
	mu          sync.Mutex
	concurrency int
	queue       []*taskRecord
	running     int
}

// CommandQueue provides lane-based task serialization with concurrency control
type CommandQueue struct {
	mu        sync.RWMutex
	lanes     map[string]*laneState
	taskIDSeq int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a new CommandQueue with the resolve lane initialized
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	cq := &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
	cq.lane(LaneResolve)

	return cq
}

// lane returns the state for name, creating it with concurrency 1.
func (cq *CommandQueue) lane(name string) *laneState {
	cq.mu.RLock()
	ls, ok := cq.lanes[name]
	cq.mu.RUnlock()
	if ok {
		return ls
	}

	cq.mu.Lock()
	defer cq.mu.Unlock()
	if ls, ok := cq.lanes[name]; ok {
		return ls
	}
	ls = &laneState{concurrency: 1}
	cq.lanes[name] = ls
	log.Debug().Str("lane", name).Msg("Lane initialized")
	return ls
}

func (cq *CommandQueue) existingLane(name string) (*laneState, bool) {
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	ls, ok := cq.lanes[name]
	return ls, ok
}

// Enqueue adds a task to the lane and blocks until it finishes or ctx is
// done. A task abandoned while still queued never runs; one abandoned while
// running keeps the lane until it returns.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task, options *TaskOptions) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if cq.ctx.Err() != nil {
		return nil, ErrQueueClosed
	}

	ctx, span := tracing.StartSpan(ctx, "commandqueue.enqueue", attribute.String("lane", lane))
	defer span.End()

	if tracing.GetLane(ctx) == "" {
		ctx = tracing.WithLane(ctx, lane)
	}
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	cq.mu.Lock()
	cq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, cq.taskIDSeq)
	cq.mu.Unlock()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	ls := cq.lane(lane)
	ls.mu.Lock()
	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan taskResult, 1),
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	if opts.WarnAfter > 0 {
		go cq.startWarnTimer(record, lane)
	}

	go cq.processLane(lane)

	select {
	case result := <-record.result:
		tracing.EndSpan(span, result.err)
		return result.value, result.err
	case <-ctx.Done():
		if cq.removeQueued(lane, record.id) {
			logger.Debug().Str("taskId", taskID).Msg("Task abandoned before start")
		}
		tracing.EndSpan(span, ctx.Err())
		return nil, ctx.Err()
	}
}

// removeQueued drops a task that has not started yet.
func (cq *CommandQueue) removeQueued(lane, id string) bool {
	ls := cq.lane(lane)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for i, r := range ls.queue {
		if r.id == id {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			observability.SetQueueSize(lane, len(ls.queue))
			return true
		}
	}
	return false
}

// processLane starts queued tasks while the lane has capacity
func (cq *CommandQueue) processLane(lane string) {
	ls := cq.lane(lane)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		if cq.ctx.Err() != nil {
			record.result <- taskResult{err: ErrQueueClosed}
			continue
		}

		ls.running++

		log.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Int("running", ls.running).
			Msg("Task started")

		cq.wg.Add(1)
		go cq.executeTask(lane, ls, record)
	}
}

func (cq *CommandQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(
		record.ctx,
		"commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	tracing.EndSpan(span, err)
	if err != nil {
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	go cq.processLane(lane)
}

// startWarnTimer reports tasks that wait in the queue longer than WarnAfter
func (cq *CommandQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(record.options.WarnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls := cq.lane(lane)
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos < 0 {
			return
		}
		wait := time.Since(record.enqueuedAt)
		if record.options.OnWait != nil {
			record.options.OnWait(wait, queuePos)
			return
		}
		log.Warn().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("wait", wait).
			Int("queuePos", queuePos).
			Msg("Task waiting longer than expected")
	case <-record.ctx.Done():
	case <-cq.ctx.Done():
	}
}

// LaneStats is a snapshot of one lane.
type LaneStats struct {
	Queued      int `json:"queued"`
	Running     int `json:"running"`
	Concurrency int `json:"concurrency"`
}

// GetStats returns statistics for all lanes
func (cq *CommandQueue) GetStats() map[string]LaneStats {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]LaneStats, len(cq.lanes))
	for lane, ls := range cq.lanes {
		ls.mu.Lock()
		stats[lane] = LaneStats{
			Queued:      len(ls.queue),
			Running:     ls.running,
			Concurrency: ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// ClearLane rejects all queued tasks in a lane. Running tasks are untouched.
func (cq *CommandQueue) ClearLane(lane string) int {
	ls, ok := cq.existingLane(lane)
	if !ok {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	count := len(ls.queue)
	for _, record := range ls.queue {
		record.result <- taskResult{err: ErrLaneCleared}
	}
	ls.queue = nil

	if count > 0 {
		log.Info().Str("lane", lane).Int("dropped", count).Msg("Lane cleared")
	}
	observability.SetQueueSize(lane, 0)
	return count
}

// WaitForActive waits for all active tasks to complete with timeout
func (cq *CommandQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true

		cq.mu.RLock()
		for _, ls := range cq.lanes {
			ls.mu.Lock()
			if ls.running > 0 {
				allDrained = false
			}
			ls.mu.Unlock()
		}
		cq.mu.RUnlock()

		if allDrained {
			return true
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close cancels running tasks and waits for them to return
func (cq *CommandQueue) Close() error {
	cq.cancel()
	cq.wg.Wait()
	return nil
}
