// Package admin exposes the administrative HTTP surface: job and item
// listing, job creation, pause/resume, manual retry, item deletion,
// live statistics, and prometheus metrics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sharesync "github.com/steveoberholzer/ShareSync"
	"github.com/steveoberholzer/ShareSync/producer"
	"github.com/steveoberholzer/ShareSync/store"
	"github.com/steveoberholzer/ShareSync/throttle"
)

// Server is the administrative HTTP server.
type Server struct {
	store      store.Store
	producer   *producer.Producer
	controller *throttle.Controller
	registry   *prometheus.Registry
	logger     *slog.Logger

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsRegistry exposes the given registry on /metrics.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// New creates the admin server listening on addr.
func New(addr string, st store.Store, p *producer.Producer, ctrl *throttle.Controller, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		store:      st,
		producer:   p,
		controller: ctrl,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleCreateJob)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Get("/items", s.handleListJobItems)
				r.Get("/logs", s.handleListJobLogs)
				r.Post("/pause", s.handlePauseJob)
				r.Post("/resume", s.handleResumeJob)
				r.Put("/priority", s.handleSetPriority)
			})
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/", s.handleSearchItems)
			r.Route("/{messageID}", func(r chi.Router) {
				r.Get("/", s.handleGetItem)
				r.Post("/retry", s.handleRetryItem)
				r.Delete("/", s.handleDeleteItem)
			})
		})

		r.Get("/stats", s.handleStats)
		r.Get("/throttle", s.handleThrottleStats)
	})

	if s.registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Start runs the HTTP server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("admin server listening", slog.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleThrottleStats(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, s.controller.Stats())
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", slog.String("error", err.Error()))
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, err error) {
	s.respondJSON(w, code, map[string]string{"error": err.Error()})
}

// respondStoreError maps ledger sentinel errors onto HTTP statuses.
func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sharesync.ErrJobNotFound), errors.Is(err, sharesync.ErrItemNotFound):
		s.respondError(w, http.StatusNotFound, err)
	case errors.Is(err, sharesync.ErrJobExists),
		errors.Is(err, sharesync.ErrDuplicateItem),
		errors.Is(err, sharesync.ErrItemActive),
		errors.Is(err, sharesync.ErrItemNotRetryable):
		s.respondError(w, http.StatusConflict, err)
	default:
		s.respondError(w, http.StatusInternalServerError, err)
	}
}
