// Package api exposes the HTTP control channel for the flow automation
// daemon: publishing flow definitions, broadcasting, direct sends, and
// inspection of conversations, receipts, and responses.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zapflow/zapflow/internal/flow"
	"github.com/zapflow/zapflow/internal/messaging"
	"github.com/zapflow/zapflow/internal/store"
)

// Constants for API server configuration
const (
	// DefaultAddr is the default listen address for the HTTP server.
	DefaultAddr = ":8080"
	// DefaultBroadcastDelay is the pause between consecutive broadcast sends.
	DefaultBroadcastDelay = 5 * time.Second
	// DefaultShutdownTimeout bounds graceful HTTP shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	BroadcastDelay time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithBroadcastDelay sets the default delay between broadcast sends.
func WithBroadcastDelay(d time.Duration) Option {
	return func(o *Opts) { o.BroadcastDelay = d }
}

// Server wires the HTTP handlers to the conversation engine, the messaging
// service, and the store.
type Server struct {
	addr           string
	broadcastDelay time.Duration
	engine         *flow.Engine
	msgService     messaging.Service
	st             store.Store
	httpServer     *http.Server
}

// NewServer creates an API server around the given collaborators.
func NewServer(engine *flow.Engine, msgService messaging.Service, st store.Store, opts ...Option) *Server {
	cfg := Opts{
		Addr:           DefaultAddr,
		BroadcastDelay: DefaultBroadcastDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Server configured", "addr", cfg.Addr, "broadcastDelay", cfg.BroadcastDelay)
	return &Server{
		addr:           cfg.Addr,
		broadcastDelay: cfg.BroadcastDelay,
		engine:         engine,
		msgService:     msgService,
		st:             st,
	}
}

// routes builds the request multiplexer.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/flow", s.flowHandler)
	mux.HandleFunc("/flows", s.flowsHandler)
	mux.HandleFunc("/broadcast", s.broadcastHandler)
	mux.HandleFunc("/conversations", s.conversationsHandler)
	mux.HandleFunc("/send", s.sendHandler)
	mux.HandleFunc("/receipts", s.receiptsHandler)
	mux.HandleFunc("/responses", s.responsesHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}
	slog.Info("API server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}
