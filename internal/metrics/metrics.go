// Package metrics serves the Prometheus endpoint on its own address, apart
// from the MCP transport.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/resolvemcp/internal/observability"
)

var (
	buildInfoOnce sync.Once
	buildInfo     = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "resolvemcp",
			Name:      "build_info",
			Help:      "Build information, always 1",
		},
		[]string{"version", "go_version"},
	)
)

// RegisterBuildInfo publishes the running version. Only the first call counts.
func RegisterBuildInfo(version string) {
	buildInfoOnce.Do(func() {
		if err := prometheus.Register(buildInfo); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				log.Warn().Err(err).Msg("Failed to register build info metric")
				return
			}
		}
		buildInfo.WithLabelValues(version, runtime.Version()).Set(1)
	})
}

// Server is the metrics HTTP server.
type Server struct {
	addr   string
	logger zerolog.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewServer creates a stopped server for addr.
func NewServer(addr string, logger *zerolog.Logger) *Server {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Server{
		addr:   addr,
		logger: l.With().Str("component", "metrics").Logger(),
	}
}

// Handler serves /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start binds the address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return fmt.Errorf("metrics server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.srv = srv
	s.ln = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics server started")
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Shutdown stops the server. It is a no-op when not started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down metrics server: %w", err)
	}
	return nil
}
