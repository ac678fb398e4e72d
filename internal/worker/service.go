// Package worker provides the HTTP orchestration service for maestro.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/maestro/internal/config"
	"github.com/thebtf/maestro/internal/orchestrator/handoff"
	"github.com/thebtf/maestro/internal/orchestrator/session"
	"github.com/thebtf/maestro/internal/quota"
	"github.com/thebtf/maestro/internal/telemetry"
	"github.com/thebtf/maestro/internal/toolregistry"
	"github.com/thebtf/maestro/internal/worker/sse"
)

// Service is the HTTP face of the orchestration layer. Session and step
// writes happen in-process through the manager; the HTTP surface is
// read-only plus the SSE telemetry stream.
type Service struct {
	version string
	config  *config.Config

	registry  *toolregistry.Registry
	sessions  *session.Manager
	broker    *handoff.Broker
	telemetry *telemetry.Sink
	quota     *quota.Sink

	sseBroadcaster *sse.Broadcaster

	router chi.Router
	server *http.Server

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	ready     atomic.Bool
}

// New assembles the worker service around already-wired domain components.
func New(version string, cfg *config.Config, registry *toolregistry.Registry,
	sessions *session.Manager, broker *handoff.Broker,
	telemetrySink *telemetry.Sink, quotaSink *quota.Sink,
	broadcaster *sse.Broadcaster) *Service {

	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:        version,
		config:         cfg,
		registry:       registry,
		sessions:       sessions,
		broker:         broker,
		telemetry:      telemetrySink,
		quota:          quotaSink,
		sseBroadcaster: broadcaster,
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}

	svc.setupRoutes()
	return svc
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)

	// Liveness endpoints stay reachable before the service is ready.
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)
	s.router.Get("/api/version", s.handleVersion)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Get("/api/tools", s.handleListTools)
		r.Get("/api/sessions/{sessionID}", s.handleGetSession)
		r.Get("/api/sessions/{sessionID}/telemetry", s.handleSessionTelemetry)
		r.Get("/api/sessions/{sessionID}/handoffs", s.handleSessionHandoffs)
		r.Get("/api/quota/{userID}", s.handleQuotaStatus)
		r.Get("/api/events/stream", s.sseBroadcaster.HandleSSE)
	})
}

// Start begins serving HTTP on the configured worker port. Blocks until
// the server exits.
func (s *Service) Start() error {
	addr := fmt.Sprintf(":%d", s.config.WorkerPort)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.ready.Store(true)
	log.Info().
		Str("addr", addr).
		Str("version", s.version).
		Msg("Orchestration worker listening")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and releases service resources.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()

	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Router exposes the chi router, mainly for tests.
func (s *Service) Router() chi.Router {
	return s.router
}

// requireReady rejects requests until the service has finished starting.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "starting",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request at debug level with timing.
func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
