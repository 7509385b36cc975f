// Package server exposes a cluster manager over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/constellation/internal/cluster"
	"github.com/thebtf/constellation/internal/events"
)

const (
	// DefaultHTTPTimeout bounds non-streaming requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// MaxRequestBody caps POST bodies.
	MaxRequestBody = 8 << 20
)

// Server serves cluster queries, node insertion and the event stream.
type Server struct {
	startTime time.Time
	manager   *cluster.Manager
	events    *events.Broadcaster
	router    *chi.Mux
	version   string

	insertRate  float64
	insertBurst int
	redact      bool
}

// Option configures a Server.
type Option func(*Server)

// WithInsertRateLimit limits POST /api/nodes per client. A rate of zero
// leaves inserts unlimited.
func WithInsertRateLimit(rate float64, burst int) Option {
	return func(s *Server) {
		s.insertRate = rate
		s.insertBurst = burst
	}
}

// WithRedaction controls whether credentials are redacted from inserted
// nodes. Redaction is on by default.
func WithRedaction(on bool) Option {
	return func(s *Server) {
		s.redact = on
	}
}

// New creates a server over manager. The broadcaster must already be
// registered as a listener of the manager to stream assignments.
func New(manager *cluster.Manager, broadcaster *events.Broadcaster, version string, opts ...Option) *Server {
	s := &Server{
		manager:   manager,
		events:    broadcaster,
		router:    chi.NewRouter(),
		version:   version,
		startTime: time.Now(),
		redact:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(RequestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	// The event stream is long-lived, so it stays outside the timeout group.
	s.router.Get("/api/events", s.events.HandleSSE)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(DefaultHTTPTimeout))
		r.Use(MaxBodySize(MaxRequestBody))
		r.Use(RequireJSONContentType)

		r.Get("/api/clusters", s.handleGetClusters)
		r.Get("/api/nodes/{id}/cluster", s.handleGetNodeCluster)
		r.Get("/api/similarity", s.handleSimilarity)
		r.Get("/api/edges", s.handleGetEdges)
		r.With(RateLimit(s.insertRate, s.insertBurst)).Post("/api/nodes", s.handleInsertNodes)
	})
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
		return fmt.Errorf("shutdown: %w", err)
	}

	log.Info().Msg("HTTP server stopped")
	return nil
}
