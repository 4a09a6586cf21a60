// Package web serves the read-only snapshot inspection API.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/inseguridad/internal/config"
	"github.com/JonMunkholm/inseguridad/internal/snapshot"
	mw "github.com/JonMunkholm/inseguridad/internal/web/middleware"
)

// Snapshots is the read side of a snapshot store.
type Snapshots interface {
	Latest(ctx context.Context) (snapshot.Info, error)
	List(ctx context.Context) ([]snapshot.Info, error)
	LatestQuality(ctx context.Context) (snapshot.Quality, error)
	Driver() string
}

// Server is the HTTP server for the inspection API.
type Server struct {
	snapshots Snapshots
	metrics   http.Handler
	cfg       config.ServerConfig
	router    *chi.Mux
	server    *http.Server
}

// NewServer creates a Server. metrics may be nil to disable /metrics.
func NewServer(cfg config.ServerConfig, snapshots Snapshots, metrics http.Handler) *Server {
	s := &Server{
		snapshots: snapshots,
		metrics:   metrics,
		cfg:       cfg,
		router:    chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.APIKeys))

		if s.metrics != nil {
			r.Handle("/metrics", s.metrics)
		}
		r.Route("/api", func(r chi.Router) {
			r.Get("/snapshots", s.handleListSnapshots)
			r.Get("/snapshots/latest", s.handleLatestSnapshot)
			r.Get("/schema", s.handleSchema)
		})
	})
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	slog.Info("starting server", "addr", s.server.Addr, "driver", s.snapshots.Driver())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
