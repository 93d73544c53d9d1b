// Package web serves the JSON management API: scheduling imports and
// reporting job and file status.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/JonMunkholm/snapimport/internal/config"
	"github.com/JonMunkholm/snapimport/internal/core"
	"github.com/JonMunkholm/snapimport/internal/logging"
	"github.com/JonMunkholm/snapimport/internal/web/middleware"
)

// MaxBodySize caps the configuration bag accepted by POST /api/imports.
const MaxBodySize = 1 << 20

// Imports is the part of core.Service the API uses.
type Imports interface {
	Schedule(ctx context.Context, bag map[string]any) (uuid.UUID, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*core.Job, error)
	ListFiles(ctx context.Context, jobID uuid.UUID) ([]core.FileUnit, error)
}

// Health reports process health for /healthz.
type Health struct {
	// Ping checks the store; nil skips the check.
	Ping func(ctx context.Context) error
	// Limiter reports file slots; nil when jobs run under Temporal.
	Limiter func() core.LimiterStatus
	// Supervisor names the job supervisor ("local" or "temporal").
	Supervisor string
}

// Server is the HTTP server for the management API.
type Server struct {
	imports Imports
	health  Health
	cfg     config.ServerConfig
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server.
func NewServer(imports Imports, health Health, cfg config.ServerConfig) *Server {
	s := &Server{
		imports: imports,
		health:  health,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		s.router.Use(chimw.Timeout(s.cfg.RequestTimeout))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.APIKeys))

		r.Post("/imports", s.handleSchedule)
		r.Get("/imports/{id}", s.handleGetJob)
		r.Get("/imports/{id}/files", s.handleListFiles)
	})
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
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

// writeJSON encodes v as JSON with the given status. Encoding errors are
// only logged since the header is already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}

type healthResponse struct {
	Status     string              `json:"status"`
	Supervisor string              `json:"supervisor,omitempty"`
	Store      string              `json:"store,omitempty"`
	Files      *core.LimiterStatus `json:"files,omitempty"`
	Time       time.Time           `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Supervisor: s.health.Supervisor, Time: time.Now().UTC()}
	status := http.StatusOK

	if s.health.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).Warn("store ping failed", "error", err)
			resp.Status = "degraded"
			resp.Store = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Store = "ok"
		}
	}
	if s.health.Limiter != nil {
		st := s.health.Limiter()
		resp.Files = &st
	}
	writeJSON(w, r, status, resp)
}
