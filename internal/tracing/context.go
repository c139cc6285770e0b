package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for the id of one dispatched command
	RequestIDKey ContextKey = "request_id"
	// CommandKey is the context key for the command being dispatched
	CommandKey ContextKey = "command"
	// LaneKey is the context key for the queue lane a task runs in
	LaneKey ContextKey = "lane"
	// ActorKey is the context key for who issued the command (mcp, cli)
	ActorKey ContextKey = "actor"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	RequestID string
	Command   string
	Lane      string
	Actor     string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestID generates a new request ID
func NewRequestID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithCommand adds the command name to the context
func WithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, CommandKey, command)
}

// WithLane adds a queue lane to the context
func WithLane(ctx context.Context, lane string) context.Context {
	return context.WithValue(ctx, LaneKey, lane)
}

// WithActor records who issued the command
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

func getString(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return getString(ctx, TraceIDKey)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// GetCommand retrieves the command name from the context
func GetCommand(ctx context.Context) string {
	return getString(ctx, CommandKey)
}

// GetLane retrieves the queue lane from the context
func GetLane(ctx context.Context) string {
	return getString(ctx, LaneKey)
}

// GetActor retrieves the actor from the context
func GetActor(ctx context.Context) string {
	return getString(ctx, ActorKey)
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RequestID: GetRequestID(ctx),
		Command:   GetCommand(ctx),
		Lane:      GetLane(ctx),
		Actor:     GetActor(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.Command != "" {
		ctx = WithCommand(ctx, tc.Command)
	}
	if tc.Lane != "" {
		ctx = WithLane(ctx, tc.Lane)
	}
	if tc.Actor != "" {
		ctx = WithActor(ctx, tc.Actor)
	}
	return ctx
}

// NewCommandContext starts a request for one dispatched command. An existing
// trace ID is kept so commands issued by one caller stay correlated.
func NewCommandContext(ctx context.Context, command string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRequestID(ctx, NewRequestID())
	return WithCommand(ctx, command)
}
