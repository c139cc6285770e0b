package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/harun/resolvemcp/internal/tracing"
)

// AuditEvent represents a structured event for the audit log. Actor is the
// surface that issued the request (mcp, cli or system) and Status is one of
// success, failure or denied.
type AuditEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`
	Action    string         `json:"action"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// AuditSink persists audit events.
type AuditSink interface {
	Append(ctx context.Context, event AuditEvent) error
}

// AuditLogger handles recording and persisting audit events
type AuditLogger struct {
	logger zerolog.Logger
	sink   AuditSink
	mu     sync.Mutex
}

var (
	auditOnce sync.Once
	auditInst *AuditLogger
)

// GetAuditLogger returns the process audit logger, writing to stderr until
// one is configured with NewAuditLogger.
func GetAuditLogger() *AuditLogger {
	auditOnce.Do(func() {
		auditInst = NewAuditLogger(os.Stderr, nil)
	})
	return auditInst
}

// NewAuditLogger creates an audit logger writing JSON lines to w and, when
// sink is set, persisting every event to it.
func NewAuditLogger(w io.Writer, sink AuditSink) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Str("log", "audit").Logger(),
		sink:   sink,
	}
}

// Record emits an audit event to the log and the sink, and to OpenTelemetry
// when a span is active.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID, _ = gonanoid.New()
	}
	if event.TraceID == "" {
		event.TraceID = tracing.GetTraceID(ctx)
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		if event.TraceID == "" {
			event.TraceID = span.SpanContext().TraceID().String()
		}
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	entry := a.logger.Log().
		Str("id", event.ID).
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status).
		Str("trace_id", event.TraceID)
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}
	entry.Msg("")
	a.mu.Unlock()

	if a.sink != nil {
		// events for timed-out or cancelled requests are still persisted
		if err := a.sink.Append(tracing.Detach(ctx), event); err != nil {
			log.Error().Err(err).Str("audit_id", event.ID).Msg("Failed to persist audit event")
		}
	}
}

// RecordCommandAudit records a sensitive command invocation.
func (a *AuditLogger) RecordCommandAudit(ctx context.Context, command, actor, status string, metadata map[string]any) {
	a.Record(ctx, AuditEvent{
		Type:     "command",
		Actor:    actor,
		Action:   "execute:" + command,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordConfigAudit records a configuration change.
func (a *AuditLogger) RecordConfigAudit(ctx context.Context, action string, metadata map[string]any) {
	a.Record(ctx, AuditEvent{
		Type:     "config",
		Actor:    "system",
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}
