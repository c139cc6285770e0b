package dispatch

import "encoding/json"

// Status tags a Result.
type Status string

const (
	StatusSuccess        Status = "success"
	StatusError          Status = "error"
	StatusNotImplemented Status = "not_implemented"
)

// Request is one inbound command.
type Request struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// Result is the normalized outcome of a command. It always serializes to an
// object with a status field.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// OK reports whether the command did not fail. not_implemented counts as OK.
func (r Result) OK() bool { return r.Status != StatusError }

// JSON renders the result, falling back to a minimal error object.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(Result{
			Status:  StatusError,
			Kind:    KindUnknown,
			Message: "result is not serializable: " + err.Error(),
		})
		return string(fallback)
	}
	return string(data)
}

// Success wraps a handler payload.
func Success(payload any) Result {
	return Result{Status: StatusSuccess, Result: payload}
}

// Failure builds an error result.
func Failure(kind Kind, message string) Result {
	return Result{Status: StatusError, Kind: kind, Message: message}
}

func notImplementedResult(e *NotImplementedError) Result {
	return Result{Status: StatusNotImplemented, Kind: KindNotImplemented, Message: notImplementedMessage, Result: e.Options}
}
