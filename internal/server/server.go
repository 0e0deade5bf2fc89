package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/gotune/internal/config"
	"github.com/me/gotune/internal/scheduler"
	"github.com/me/gotune/internal/store"
	"github.com/me/gotune/pkg/model"
)

// Server is the gotune REST API server. It exposes one run's controller to
// remote workers and operators.
type Server struct {
	router       chi.Router
	logger       *slog.Logger
	config       config.ServerConfig
	startTime    time.Time
	ctrl         *scheduler.Controller
	run          *model.Run
	store        store.Store             // optional; serves /runs
	checkpointer *scheduler.Checkpointer // optional; serves POST /checkpoint
	workerKeys   *WorkerKeyConfig
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore sets the read-model store behind /runs.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithCheckpointer enables on-demand checkpoints.
func WithCheckpointer(cp *scheduler.Checkpointer) Option {
	return func(s *Server) {
		s.checkpointer = cp
	}
}

// WithRun sets the run record reported by /status.
func WithRun(run *model.Run) Option {
	return func(s *Server) {
		s.run = run
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, ctrl *scheduler.Controller, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		logger:     logger.With("component", "server"),
		config:     cfg,
		startTime:  time.Now(),
		ctrl:       ctrl,
		workerKeys: LoadWorkerKeyConfig(cfg.WorkerKeys),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		// Discovery
		r.Get("/", s.handleDiscovery)

		// Health
		r.Get("/health", s.handleHealth)

		// Run progress
		r.Get("/status", s.handleStatus)

		// Trials
		r.Route("/trials", func(r chi.Router) {
			r.Get("/", s.handleListTrials)
			r.Get("/{id}", s.handleGetTrial)

			// Calls that change the scheduler state.
			r.Group(func(r chi.Router) {
				r.Use(workerAuthMiddleware(s.workerKeys, s.logger))
				r.Post("/request", s.handleRequestTrial)
				r.Post("/{id}/reports", s.handleReport)
				r.Put("/{id}/stop", s.handleStopTrial)
			})
		})

		r.With(workerAuthMiddleware(s.workerKeys, s.logger)).Post("/checkpoint", s.handleCheckpoint)

		// Recorded runs
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Get("/{id}/trials", s.handleListRunTrials)
		})
	})
}
