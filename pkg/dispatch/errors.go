package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/resolvemcp/pkg/session"
)

// Kind classifies a failed command.
type Kind string

const (
	KindNotConnected     Kind = "not_connected"
	KindNoProjectOpen    Kind = "no_project_open"
	KindNotFound         Kind = "not_found"
	KindAlreadyExists    Kind = "already_exists"
	KindScriptError      Kind = "script_error"
	KindNotImplemented   Kind = "not_implemented"
	KindUnknown          Kind = "unknown"
	KindUnknownCommand   Kind = "unknown_command"
	KindInvalidParams    Kind = "invalid_params"
	KindTimeout          Kind = "timeout"
	KindPermissionDenied Kind = "permission_denied"
	KindRateLimited      Kind = "rate_limited"
)

// Error is a classified command failure. Message is shown to the caller.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NotFound reports a failed named lookup.
func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

// AlreadyExists reports a name collision.
func AlreadyExists(format string, args ...any) *Error {
	return newError(KindAlreadyExists, nil, format, args...)
}

// ScriptError wraps a fault raised by caller-supplied code.
func ScriptError(cause error, format string, args ...any) *Error {
	return newError(KindScriptError, cause, format, args...)
}

// Unknown wraps an unanticipated fault from the application.
func Unknown(cause error, format string, args ...any) *Error {
	return newError(KindUnknown, cause, format, args...)
}

// InvalidParams reports a parameter problem found by a handler.
func InvalidParams(format string, args ...any) *Error {
	return newError(KindInvalidParams, nil, format, args...)
}

// PermissionDenied reports a disabled capability.
func PermissionDenied(format string, args ...any) *Error {
	return newError(KindPermissionDenied, nil, format, args...)
}

// RateLimited reports a throttled request.
func RateLimited(format string, args ...any) *Error {
	return newError(KindRateLimited, nil, format, args...)
}

// NotImplementedError is returned by handlers without a working
// implementation. It is reported as a successful not_implemented result.
type NotImplementedError struct {
	Command string
	// Options are the resolved options, defaults applied.
	Options any
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, notImplementedMessage)
}

// NotImplemented builds a NotImplementedError.
func NotImplemented(command string, options any) error {
	return &NotImplementedError{Command: command, Options: options}
}

const notImplementedMessage = "Method not yet implemented"

// classify maps any handler error onto the taxonomy.
func classify(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}

	switch {
	case errors.Is(err, session.ErrNotConnected):
		return &Error{Kind: KindNotConnected, Message: "Not connected to DaVinci Resolve", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "Command timed out", Cause: err}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindUnknown, Message: "Command cancelled", Cause: err}
	default:
		return &Error{Kind: KindUnknown, Message: err.Error(), Cause: err}
	}
}
