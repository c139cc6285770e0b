// Package mcpserver exposes the command registry as MCP tools.
//
// Each registered command becomes one tool of the same name. The tool input
// is the command parameter map and the output is the JSON command result as
// text content, flagged as an error when the command failed.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/resolvemcp/internal/observability"
	"github.com/harun/resolvemcp/internal/tracing"
	"github.com/harun/resolvemcp/pkg/dispatch"
)

// Transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

const (
	// MCPPath is where the streamable HTTP transport is mounted.
	MCPPath          = "/mcp"
	shutdownTimeout  = 5 * time.Second
	readHeaderTimout = 10 * time.Second
	defaultHTTPAddr  = "localhost:9877"
	actorMCP         = "mcp"
)

// Dispatcher runs commands.
type Dispatcher interface {
	Commands() []dispatch.Command
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Result
}

// Config configures a Server.
type Config struct {
	Name      string
	Version   string
	Transport string
	HTTPAddr  string
	// Metrics mounts /metrics on the HTTP transport.
	Metrics bool
	Audit   *observability.AuditLogger
	Logger  *zerolog.Logger
}

// Server is an MCP server over a dispatcher.
type Server struct {
	cfg    Config
	d      Dispatcher
	mcp    *mcp.Server
	audit  *observability.AuditLogger
	logger zerolog.Logger
}

// New builds the server and registers one tool per command.
func New(d Dispatcher, cfg Config) (*Server, error) {
	if d == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Name == "" {
		cfg.Name = "davinci-resolve"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	audit := cfg.Audit
	if audit == nil {
		audit = observability.GetAuditLogger()
	}

	s := &Server{
		cfg:    cfg,
		d:      d,
		mcp:    mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		audit:  audit,
		logger: logger.With().Str("component", "mcpserver").Logger(),
	}

	for _, cmd := range d.Commands() {
		if err := s.addTool(cmd); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

func (s *Server) addTool(cmd dispatch.Command) (err error) {
	// AddTool panics on an invalid schema.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("register tool %s: %v", cmd.Name, r)
		}
	}()
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        cmd.Name,
		Description: cmd.Description,
		InputSchema: cmd.InputSchema(),
	}, s.toolHandler(cmd.Name))
	return nil
}

func (s *Server) toolHandler(name string) mcp.ToolHandlerFor[map[string]any, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		ctx = tracing.WithActor(ctx, actorMCP)
		res := s.d.Dispatch(ctx, dispatch.Request{Name: name, Params: args})
		s.audit.RecordCommandAudit(ctx, name, actorMCP, string(res.Status), map[string]any{
			"kind": string(res.Kind),
		})
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: res.JSON()}},
			IsError: res.Status == dispatch.StatusError,
		}, nil, nil
	}
}

// Run serves on the configured transport until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	switch s.cfg.Transport {
	case TransportStdio:
		return s.ServeTransport(ctx, &mcp.StdioTransport{})
	case TransportHTTP:
		return s.ServeHTTP(ctx, s.cfg.HTTPAddr)
	default:
		return fmt.Errorf("transport %q is not supported", s.cfg.Transport)
	}
}

// ServeTransport serves one client over t. Cancellation is a clean exit.
func (s *Server) ServeTransport(ctx context.Context, t mcp.Transport) error {
	s.logger.Info().Int("tools", len(s.d.Commands())).Msg("Serving MCP")
	err := s.mcp.Run(ctx, t)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// Handler returns the HTTP surface: the MCP endpoint, a health check and,
// when enabled, metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(MCPPath, mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if s.cfg.Metrics {
		mux.Handle("/metrics", observability.MetricsHandler())
	}
	return mux
}

// ServeHTTP listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.serveListener(ctx, ln)
}

func (s *Server) serveListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: readHeaderTimout}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Str("path", MCPPath).Msg("Serving MCP over HTTP")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP: %w", err)
		}
		return nil
	}
}
