// Package web serves the read-only status API: which jobs exist, what
// their cursors say, and how recent runs went. Operators point a
// browser or curl at it; nothing here mutates state.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"edcfeed/internal/config"
	"edcfeed/internal/runner"
	"edcfeed/internal/web/middleware"
)

// Server is the HTTP status server.
type Server struct {
	cfg    *config.Config
	runner *runner.Runner
	router *chi.Mux
	server *http.Server
}

// NewServer wires the status routes around a Runner.
func NewServer(cfg *config.Config, r *runner.Runner) *Server {
	s := &Server{
		cfg:    cfg,
		runner: r,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))
	s.router.Use(chimw.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{job}/runs", s.handleJobRuns)
		r.Get("/runs", s.handleRecentRuns)
	})
}

// Start begins listening. It blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Status.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Status.ReadTimeout,
		WriteTimeout: s.cfg.Status.WriteTimeout,
		IdleTimeout:  s.cfg.Status.IdleTimeout,
	}

	slog.Info("status server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// writeJSON encodes v and writes it to w. Encoding errors are logged;
// the headers are already gone by then.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", "error", err)
	}
}

// writeError logs the full error and returns a compact JSON body.
func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err,
		"request_id", chimw.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(status)})
}
