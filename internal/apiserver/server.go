// Package apiserver exposes the controller's external interface (§6):
// client→server commands over POST /commands, server→client pushes over a
// GET /events SSE stream, and /healthz, /readyz. Grounded on
// internal/controlplane/api/{server,handlers}.go's http.NewServeMux
// routing and handleStreamEvents SSE contract, generalized from one run's
// replayable event log to the live, non-replayable SubscriptionBus (C11).
package apiserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labbench/controller/internal/bus"
	"github.com/labbench/controller/internal/health"
	"github.com/labbench/controller/internal/otelobs"
	"github.com/labbench/controller/internal/sequence"
	"github.com/labbench/controller/internal/sessionmanager"
	"github.com/labbench/controller/internal/trigger"
)

// Server wires the session/sequence/trigger managers and bus into an
// http.Server.
type Server struct {
	addr string

	sessions *sessionmanager.Manager
	seqMgr   *sequence.Manager
	trigMgr  *trigger.Manager
	bus      *bus.Bus
	healthr  *health.Reporter
	metrics  *otelobs.Metrics

	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	server   *http.Server
	listener net.Listener
}

// New constructs a Server bound to every component it fronts.
func New(addr string, sessions *sessionmanager.Manager, seqMgr *sequence.Manager, trigMgr *trigger.Manager, b *bus.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:     addr,
		sessions: sessions,
		seqMgr:   seqMgr,
		trigMgr:  trigMgr,
		bus:      b,
		healthr:  health.New(),
		metrics:  otelobs.GetGlobalMetrics(),
		logger:   logger,
	}
}

// Start binds the listener and begins serving in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("apiserver already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/commands", s.handleCommands)
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           mux,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // /events holds connections open indefinitely
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true

	srv := s.server
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("apiserver exited", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully drains in-flight requests, including open SSE
// streams, within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound listen address (useful when addr was ":0" in
// tests).
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the server's base HTTP URL.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.Addr())
}
