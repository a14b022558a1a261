// Package server exposes the runtime over HTTP: synchronous and
// streaming mission execution, session inspection, and the resumable
// workflow surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skalene/maestro/internal/observability"
	"github.com/skalene/maestro/internal/service"
	"github.com/skalene/maestro/internal/state"
	"github.com/skalene/maestro/internal/workflow"
)

// Config tunes the HTTP server.
type Config struct {
	// Host and Port form the listen address.
	Host string
	Port int

	// JWTSecret enables bearer auth when non-empty.
	JWTSecret string

	// TokenExpiry bounds issued token lifetimes. Zero means no expiry.
	TokenExpiry time.Duration

	// ReadTimeout and WriteTimeout guard slow clients. WriteTimeout
	// must cover the longest streaming run; zero disables it.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful drain on Shutdown. Default: 10s.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the standard server configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            8420,
		ReadTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c *Config) sanitize() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port <= 0 {
		c.Port = 8420
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Server is the HTTP API over the executor and the workflow runtime.
type Server struct {
	config   Config
	executor *service.Executor
	states   state.Store
	tokens   *TokenService

	workflows     *workflow.Runtime
	workflowStore workflow.Store

	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// ServerOption configures optional server collaborators.
type ServerOption func(*Server)

// WithWorkflows mounts the workflow endpoints over the runtime and its
// checkpoint store.
func WithWorkflows(runtime *workflow.Runtime, store workflow.Store) ServerOption {
	return func(s *Server) {
		s.workflows = runtime
		s.workflowStore = store
	}
}

// WithServerMetrics records HTTP metrics and mounts /metrics.
func WithServerMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithServerTracer opens a server span per request.
func WithServerTracer(t *observability.Tracer) ServerOption {
	return func(s *Server) { s.tracer = t }
}

// WithServerLogger overrides the default logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer assembles the API server.
func NewServer(config Config, executor *service.Executor, states state.Store, opts ...ServerOption) *Server {
	config.sanitize()
	s := &Server{
		config:   config,
		executor: executor,
		states:   states,
		tokens:   NewTokenService(config.JWTSecret, config.TokenExpiry),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens returns the token service, for CLI token issuance.
func (s *Server) Tokens() *TokenService { return s.tokens }

// Handler returns the routed handler, exposed for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	s.handle(mux, "POST /execute", s.handleExecute)
	s.handle(mux, "POST /execute/stream", s.handleExecuteStream)
	s.handle(mux, "GET /sessions", s.handleListSessions)
	s.handle(mux, "GET /sessions/{id}", s.handleGetSession)
	s.handle(mux, "DELETE /sessions/{id}", s.handleDeleteSession)
	s.handle(mux, "POST /workflows/wait", s.handleWorkflowWait)
	s.handle(mux, "GET /workflows/{run_id}", s.handleGetWorkflow)
	s.handle(mux, "POST /workflows/{run_id}/resume", s.handleWorkflowResume)
	s.handle(mux, "POST /workflows/{run_id}/resume-and-continue", s.handleWorkflowResumeAndContinue)

	return mux
}

// Start listens and serves in the background. Callers stop it with
// Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
	}
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	s.listener = nil
	return err
}
