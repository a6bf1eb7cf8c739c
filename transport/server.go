// Package transport is the JSON-RPC-over-HTTP server shared by every
// league agent. It decodes and validates envelopes, enforces
// authentication and per-sender rate limits, and dispatches to
// registered message handlers.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/leagueflow/agent"
	"github.com/BaSui01/leagueflow/internal/metrics"
	"github.com/BaSui01/leagueflow/protocol"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 4 << 20

// Handler processes one inbound message. params is the full JSON-RPC
// params object (envelope plus payload). A nil result is encoded as an
// empty object.
type Handler func(ctx context.Context, env *protocol.Envelope, params json.RawMessage) (any, error)

// Authenticator verifies envelope auth tokens.
type Authenticator interface {
	Verify(token string) (agentID string, err error)
}

// Config tunes the transport server.
type Config struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       int           `yaml:"rate_limit" json:"rate_limit"`
	RateWindow      time.Duration `yaml:"rate_window" json:"rate_window"`
}

// DefaultConfig returns production defaults on an ephemeral port.
func DefaultConfig() Config {
	return Config{
		Addr:            ":0",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimit:       100,
		RateWindow:      time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":0"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 15 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 100
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Minute
	}
	return c
}

// Server hosts an agent's RPC endpoint plus health and metrics routes.
type Server struct {
	config   Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	auth     Authenticator
	limiter  *agent.SenderLimiter
	handlers map[protocol.Kind]Handler

	httpServer *http.Server
	listener   net.Listener
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithAuthenticator enables token checks on auth-required kinds.
func WithAuthenticator(auth Authenticator) ServerOption {
	return func(s *Server) { s.auth = auth }
}

// WithServerMetrics attaches a metrics collector and serves /metrics.
func WithServerMetrics(collector *metrics.Collector) ServerOption {
	return func(s *Server) { s.metrics = collector }
}

// NewServer creates a Server with no handlers registered.
func NewServer(config Config, logger *zap.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()
	s := &Server{
		config:   config,
		logger:   logger,
		limiter:  agent.NewSenderLimiter(config.RateLimit, config.RateWindow),
		handlers: make(map[protocol.Kind]Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers the handler for a message kind. Registering twice
// for the same kind replaces the earlier handler.
func (s *Server) Handle(kind protocol.Kind, h Handler) {
	s.handlers[kind] = h
}

// Start binds the listener and serves in a background goroutine. After
// Start returns, Addr reports the bound address.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rpc server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("rpc server listening", zap.String("addr", s.Addr()))
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Endpoint returns the full RPC URL of this server.
func (s *Server) Endpoint() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	return "http://" + addr + "/rpc"
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"HEALTHY"}`)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeResponse(w, protocol.NewErrorResponse(protocol.RPCParseError, "unreadable body", nil), "", start)
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeResponse(w, protocol.NewErrorResponse(protocol.RPCParseError, "malformed request", nil), "", start)
		return
	}
	if req.Version != protocol.RPCVersion {
		s.writeResponse(w, protocol.NewErrorResponse(protocol.RPCInvalidRequest, "jsonrpc must be 2.0", req.ID), req.Method, start)
		return
	}

	kind, ok := protocol.KindFromMethod(req.Method)
	if !ok {
		s.writeResponse(w, protocol.NewErrorResponse(protocol.RPCMethodNotFound,
			fmt.Sprintf("unknown method %q", req.Method), req.ID), req.Method, start)
		return
	}

	env, err := protocol.ParseEnvelope(req.Params)
	if err != nil {
		s.writeResponse(w, protocol.ErrorResponseFrom(err, req.ID), req.Method, start)
		return
	}
	if env.Kind != kind {
		s.writeResponse(w, protocol.ErrorResponseFrom(
			protocol.NewError(protocol.CodeMissingField,
				fmt.Sprintf("method %q does not match message_type %q", req.Method, env.Kind)),
			req.ID), req.Method, start)
		return
	}

	if !s.limiter.Allow(env.Sender) {
		s.logger.Warn("rate limited", zap.String("sender", env.Sender))
		s.writeResponse(w, protocol.NewErrorResponse(protocol.RPCServerError, "rate limit exceeded", req.ID), req.Method, start)
		return
	}

	if s.auth != nil && agent.RequiresAuth(kind) {
		if _, err := s.auth.Verify(env.AuthToken); err != nil {
			s.logger.Warn("auth rejected",
				zap.String("sender", env.Sender),
				zap.String("method", req.Method),
			)
			s.writeResponse(w, protocol.ErrorResponseFrom(err, req.ID), req.Method, start)
			return
		}
	}

	handler, ok := s.handlers[kind]
	if !ok {
		s.writeResponse(w, protocol.NewErrorResponse(protocol.RPCMethodNotFound,
			fmt.Sprintf("no handler for %q", req.Method), req.ID), req.Method, start)
		return
	}

	result, err := handler(r.Context(), env, req.Params)
	if err != nil {
		s.logger.Warn("handler failed",
			zap.String("method", req.Method),
			zap.String("sender", env.Sender),
			zap.Error(err),
		)
		s.writeResponse(w, protocol.ErrorResponseFrom(err, req.ID), req.Method, start)
		return
	}
	if result == nil {
		result = struct{}{}
	}

	resp, err := protocol.NewResponse(result, req.ID)
	if err != nil {
		s.writeResponse(w, protocol.NewErrorResponse(protocol.RPCInternalError, "unencodable result", req.ID), req.Method, start)
		return
	}
	s.writeResponse(w, resp, req.Method, start)
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *protocol.Response, method string, start time.Time) {
	status := "ok"
	if resp.Error != nil {
		status = "error"
	}
	s.metrics.RecordRequest(method, status, time.Since(start))

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("response write failed", zap.Error(err))
	}
}
