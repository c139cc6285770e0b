package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/resolvemcp/pkg/resolve"
)

var (
	// ErrDisconnected indicates the websocket to the bridge script dropped.
	ErrDisconnected = errors.New("resolve bridge disconnected")
	// ErrClosed indicates the client was closed by the caller.
	ErrClosed = errors.New("resolve bridge client closed")
	// ErrStaleHandle indicates a handle from a previous connection was used.
	ErrStaleHandle = errors.New("resolve object handle belongs to a closed connection")
)

// Wire methods understood by the bridge script.
const (
	methodApp  = "app"
	methodCall = "call"
)

// handleKey marks an object handle on the wire: {"$handle": "h3"}.
const handleKey = "$handle"

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type appParams struct {
	Name string `json:"name"`
}

type callParams struct {
	Handle string `json:"handle"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// RPCError is an error raised inside the application and relayed by the
// bridge script.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Method  string `json:"-"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = "remote call failed"
	}
	if e.Method == "" {
		return message
	}
	return fmt.Sprintf("%s: %s", e.Method, message)
}

// encodeValue turns call arguments into JSON-ready values, replacing objects
// from this client with handle references.
func (c *Client) encodeValue(v any) (any, error) {
	switch val := v.(type) {
	case *remoteObject:
		if val.client != c {
			return nil, fmt.Errorf("object handle %s belongs to another client", val.handle)
		}
		return map[string]any{handleKey: val.handle}, nil
	case resolve.Object:
		return nil, fmt.Errorf("cannot send %T over the bridge", v)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			enc, err := c.encodeValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			enc, err := c.encodeValue(item)
			if err != nil {
				return nil, err
			}
			out[k] = enc
		}
		return out, nil
	default:
		return v, nil
	}
}

// decodeValue turns a JSON result into Go values, replacing handle references
// with remote objects bound to generation gen.
func (c *Client) decodeValue(raw json.RawMessage, gen uint64) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return c.bindHandles(v, gen), nil
}

func (c *Client) bindHandles(v any, gen uint64) any {
	switch val := v.(type) {
	case map[string]any:
		if h, ok := val[handleKey].(string); ok && len(val) == 1 {
			return &remoteObject{client: c, handle: h, gen: gen}
		}
		for k, item := range val {
			val[k] = c.bindHandles(item, gen)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = c.bindHandles(item, gen)
		}
		return val
	default:
		return v
	}
}
