// Package web provides the HTTP API for staging ingestion and builds.
package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/salesstage/internal/build"
	"github.com/JonMunkholm/salesstage/internal/config"
	"github.com/JonMunkholm/salesstage/internal/core"
	wm "github.com/JonMunkholm/salesstage/internal/web/middleware"
)

// Ingester is the part of core.Service the handlers use.
type Ingester interface {
	IngestURL(ctx context.Context, rawURL string, req core.IngestRequest) (*core.IngestionResult, error)
	IngestReader(ctx context.Context, name string, r io.Reader, req core.IngestRequest) (*core.IngestionResult, error)
	InspectReader(ctx context.Context, name string, r io.Reader, overrides map[string]string) (*core.Inspection, error)
	Health(ctx context.Context) core.Health
}

// Builds is the part of build.Service the handlers use.
type Builds interface {
	Run(ctx context.Context) (*build.Result, error)
	Get(ctx context.Context, runID string) (*build.Result, error)
	List(ctx context.Context, limit int) ([]*build.Result, error)
}

// Server is the HTTP server.
type Server struct {
	ingester Ingester
	builds   Builds
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
}

// NewServer creates a Server. builds may be nil, which disables the build routes.
func NewServer(ingester Ingester, builds Builds, cfg *config.Config) *Server {
	s := &Server{
		ingester: ingester,
		builds:   builds,
		cfg:      cfg,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(wm.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(wm.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(wm.APIKeyAuth(&s.cfg.Security))
		if s.cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
		}
		if s.cfg.Rate.Enabled {
			heavy := newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute)
			r.Use(heavy.middleware)
		}

		r.Post("/ingest/url", s.handleIngestURL)

		// Upload aliases kept for existing clients.
		r.Post("/ingest/upload", s.handleIngestUpload)
		r.Post("/ingest/file", s.handleIngestUpload)
		r.Post("/upload", s.handleIngestUpload)
		r.Post("/api/ingest/upload", s.handleIngestUpload)

		r.Post("/ingest/inspect", s.handleInspect)

		r.Post("/build/run", s.handleBuildRun)
		r.Post("/dbt/run", s.handleBuildRun)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(wm.APIKeyAuth(&s.cfg.Security))

		r.Get("/build/runs", s.handleListRuns)
		r.Get("/build/runs/{runID}", s.handleGetRun)
		r.Get("/dbt/logs/{runID}", s.handleGetRun)
	})
}

// Start listens on the configured address. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
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

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// JSON only, nothing to load
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		w.Header().Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
