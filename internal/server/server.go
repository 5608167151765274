// Package server exposes the conquest service over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/r3e-forge/conquest/internal/conquest"
	"github.com/r3e-forge/conquest/internal/metrics"
	"github.com/r3e-forge/conquest/internal/middleware"
	"github.com/r3e-forge/conquest/pkg/logger"
)

// Server wires the HTTP surface: routing, middleware, and lifecycle.
type Server struct {
	svc     *conquest.Service
	log     *logger.Logger
	metrics *metrics.Metrics
	limiter *middleware.RateLimiter
	router  *mux.Router
	http    *http.Server
}

// Config holds the HTTP-facing knobs.
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// New builds the server and its route table. The metrics and limiter
// arguments may be nil; the corresponding middleware is skipped.
func New(cfg Config, svc *conquest.Service, log *logger.Logger, m *metrics.Metrics, limiter *middleware.RateLimiter) *Server {
	s := &Server{
		svc:     svc,
		log:     log,
		metrics: m,
		limiter: limiter,
		router:  mux.NewRouter(),
	}
	s.routes(cfg.AllowedOrigins)
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes(allowedOrigins []string) {
	r := s.router
	r.Use(middleware.Logging(s.log))
	if s.metrics != nil {
		r.Use(middleware.Metrics(s.metrics))
	}
	if len(allowedOrigins) > 0 {
		r.Use(middleware.CORS(allowedOrigins))
	}

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(s.limiter.Handler)
	}

	api.HandleFunc("/attack", s.handleAttack).Methods(http.MethodPost)

	api.HandleFunc("/session", s.handleActiveSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleStartSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/end", s.handleEndSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/reconcile", s.handleReconcileSession).Methods(http.MethodPost)

	api.HandleFunc("/enemies", s.handleCreateEnemy).Methods(http.MethodPost)
	api.HandleFunc("/enemies", s.handleListEnemies).Methods(http.MethodGet)
	api.HandleFunc("/enemies/{id}", s.handleGetEnemy).Methods(http.MethodGet)

	api.HandleFunc("/leaderboard", s.handleLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/stats", s.handleUserStats).Methods(http.MethodGet)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.http.Addr).Info("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
