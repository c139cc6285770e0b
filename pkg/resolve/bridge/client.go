// Package bridge connects to DaVinci Resolve through a companion script that
// runs inside the application's own interpreter and relays scripting calls
// over a websocket as JSON-RPC.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/resolvemcp/pkg/resolve"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds bridge client settings.
type Config struct {
	URL         string
	AppName     string
	DialTimeout time.Duration
	CallTimeout time.Duration
	Header      http.Header
	Logger      *zerolog.Logger
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		URL:         "ws://localhost:9876/resolve",
		AppName:     "Resolve",
		DialTimeout: 5 * time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// Client is a resolve.Connector backed by a websocket. It redials on the next
// Connect after the connection drops; handles from the old connection fail
// with ErrStaleHandle.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *connection
	gen    uint64
	closed bool

	nextID atomic.Int64
}

type connection struct {
	ws      *websocket.Conn
	gen     uint64
	pending *requestManager
	writeMu sync.Mutex
	done    chan struct{}
}

// New creates a client. No connection is opened until Connect.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.AppName == "" {
		cfg.AppName = def.AppName
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger: logger.With().Str("component", "bridge").Logger(),
	}
}

// Connect returns the application root object, dialing if needed.
func (c *Client) Connect(ctx context.Context) (resolve.Object, error) {
	conn, err := c.ensureConnection(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := c.roundTrip(ctx, conn, methodApp, appParams{Name: c.cfg.AppName}, methodApp)
	if err != nil {
		return nil, err
	}
	v, err := c.decodeValue(raw, conn.gen)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*remoteObject)
	if !ok || obj == nil {
		return nil, fmt.Errorf("scriptapp(%q) returned no application object", c.cfg.AppName)
	}
	return obj, nil
}

// Close shuts the connection down and fails pending calls with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.pending.fail(ErrClosed)
	conn.writeMu.Lock()
	_ = conn.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	conn.writeMu.Unlock()
	return conn.ws.Close()
}

// Connected reports whether a live websocket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) ensureConnection(ctx context.Context) (*connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	ws, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("dial resolve bridge %s: %w", c.cfg.URL, err)
	}

	c.gen++
	conn := &connection{
		ws:      ws,
		gen:     c.gen,
		pending: newRequestManager(),
		done:    make(chan struct{}),
	}
	c.conn = conn
	go c.readLoop(conn)

	c.logger.Info().Str("url", c.cfg.URL).Uint64("generation", conn.gen).Msg("Connected to resolve bridge")
	return conn, nil
}

func (c *Client) readLoop(conn *connection) {
	defer close(conn.done)

	for {
		var resp response
		if err := conn.ws.ReadJSON(&resp); err != nil {
			c.dropConnection(conn, err)
			return
		}
		if !conn.pending.resolve(resp) {
			c.logger.Warn().Int64("id", resp.ID).Msg("Dropping response for unknown request")
		}
	}
}

func (c *Client) dropConnection(conn *connection, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		conn.pending.fail(ErrClosed)
		return
	}
	conn.pending.fail(ErrDisconnected)
	_ = conn.ws.Close()
	c.logger.Warn().Err(cause).Uint64("generation", conn.gen).Msg("Resolve bridge connection lost")
}

// liveConnection returns the connection for generation gen.
func (c *Client) liveConnection(gen uint64) (*connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.conn == nil || c.conn.gen != gen {
		return nil, ErrStaleHandle
	}
	return c.conn, nil
}

func (c *Client) roundTrip(ctx context.Context, conn *connection, method string, params any, label string) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	id := c.nextID.Add(1)
	ch := make(chan response, 1)
	if err := conn.pending.register(id, ch); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	conn.writeMu.Lock()
	if deadline, ok := callCtx.Deadline(); ok {
		_ = conn.ws.SetWriteDeadline(deadline)
	}
	err := conn.ws.WriteJSON(request{ID: id, Method: method, Params: params})
	conn.writeMu.Unlock()
	if err != nil {
		conn.pending.drop(id)
		return nil, fmt.Errorf("send %s: %w", label, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			if err := conn.pending.failure(); err != nil {
				return nil, err
			}
			return nil, ErrDisconnected
		}
		if resp.Error != nil {
			resp.Error.Method = label
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-callCtx.Done():
		conn.pending.drop(id)
		return nil, fmt.Errorf("%s: %w", label, callCtx.Err())
	}
}

// remoteObject is a handle to an object living in the application.
type remoteObject struct {
	client *Client
	handle string
	gen    uint64
}

// Call invokes method on the remote object.
func (o *remoteObject) Call(ctx context.Context, method string, args ...any) (any, error) {
	conn, err := o.client.liveConnection(o.gen)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	encoded := make([]any, len(args))
	for i, arg := range args {
		enc, err := o.client.encodeValue(arg)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", method, i+1, err)
		}
		encoded[i] = enc
	}

	raw, err := o.client.roundTrip(ctx, conn, methodCall, callParams{
		Handle: o.handle,
		Method: method,
		Args:   encoded,
	}, method)
	if err != nil {
		return nil, err
	}
	return o.client.decodeValue(raw, o.gen)
}

// String returns the handle id.
func (o *remoteObject) String() string {
	return o.handle
}
