// Package serving exposes the session pool, dispatcher and telemetry poller
// over HTTP.
package serving

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"InferenceGovernor/pkg/config"
	"InferenceGovernor/pkg/dispatch"
	"InferenceGovernor/pkg/metrics"
	"InferenceGovernor/pkg/sessions"
	"InferenceGovernor/pkg/telemetry"
)

// Deps holds the components the server routes requests to. Poller and
// Metrics may be nil.
type Deps struct {
	Config     *config.Config
	Pool       *sessions.Pool
	Dispatcher *dispatch.Dispatcher
	Poller     *telemetry.Poller
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Server is the governor's HTTP surface.
type Server struct {
	Router chi.Router
	Hub    *Hub

	cfg        *config.Config
	pool       *sessions.Pool
	dispatcher *dispatch.Dispatcher
	poller     *telemetry.Poller
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// New creates a Server with all routes and middleware configured. Routes
// are served at the root and mirrored under /v1.
func New(d Deps) *Server {
	if d.Config == nil {
		d.Config = config.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	logger := d.Logger.Named("http")

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(MaxBodySize(d.Config.Server.MaxBodyBytes))

	hub := NewHub(logger)
	hub.Start()

	s := &Server{
		Router:     r,
		Hub:        hub,
		cfg:        d.Config,
		pool:       d.Pool,
		dispatcher: d.Dispatcher,
		poller:     d.Poller,
		metrics:    d.Metrics,
		logger:     logger,
	}

	if d.Poller != nil {
		d.Poller.OnSnapshot(func(snap telemetry.Snapshot) {
			hub.Broadcast(TopicTelemetry, snap)
		})
	}

	r.Group(s.registerRoutes)
	r.Route("/v1", s.registerRoutes)
	return s
}

func (s *Server) registerRoutes(r chi.Router) {
	r.Get("/health", s.health)
	r.Get("/config", s.config)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSession)
		r.Get("/", s.listSessions)
		r.Delete("/{id}", s.releaseSession)
	})

	r.Post("/chat", s.chat)

	r.Get("/telemetry", s.telemetry)
	r.Get("/telemetry/stream", s.Hub.ServeWS(TopicTelemetry))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
}

// ServeHTTP lets the server be used directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down within the configured grace period.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.Router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
	}

	grace := s.cfg.Server.ShutdownGrace
	if grace <= 0 {
		grace = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped gracefully")
	return nil
}

// Close disconnects stream subscribers.
func (s *Server) Close() {
	s.Hub.Stop()
}
