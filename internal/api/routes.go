// Package api provides HTTP handlers and routing for the orchestrator service.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
	limiter  *PerIPRateLimiter
}

// NewServer creates a new API server with the given handlers.
func NewServer(h *Handlers) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
	}
	if h.config != nil && h.config.RateLimitRPS > 0 {
		s.limiter = NewPerIPRateLimiter(h.config.RateLimitRPS, h.config.RateLimitBurst)
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	// Health and metrics endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/healthz", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Project management
	api.HandleFunc("/projects", s.handlers.CreateProject).Methods("POST")
	api.HandleFunc("/projects", s.handlers.ListProjects).Methods("GET")
	api.HandleFunc("/projects/{id}", s.handlers.GetProject).Methods("GET")

	// Generation jobs
	api.HandleFunc("/projects/{id}/generate", s.handlers.Generate).Methods("POST")
	api.HandleFunc("/projects/{id}/jobs", s.handlers.ListJobs).Methods("GET")
	api.HandleFunc("/projects/{id}/jobs/{jobID}", s.handlers.GetJob).Methods("GET")
	api.HandleFunc("/projects/{id}/jobs/{jobID}/events", s.handlers.StreamJobEvents).Methods("GET")

	// Artifacts
	api.HandleFunc("/projects/{id}/artifacts/{filename}", s.handlers.GetArtifact).Methods("GET")

	// Workflow templates
	api.HandleFunc("/templates", s.handlers.ListTemplates).Methods("GET")
	api.HandleFunc("/templates/migrate", s.handlers.MigrateTemplates).Methods("POST")
	api.HandleFunc("/templates/{name}", s.handlers.GetTemplate).Methods("GET")
	api.HandleFunc("/templates/{name}", s.handlers.PutTemplate).Methods("PUT")
	api.HandleFunc("/templates/{name}", s.handlers.DeleteTemplate).Methods("DELETE")

	// Preflight requests must match a route for the CORS middleware
	// to run; the middleware answers them before this handler.
	s.router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Apply middleware
	if s.limiter != nil {
		api.Use(s.limiter.Handler)
	}
	s.router.Use(s.handlers.CORSMiddleware)
	s.router.Use(s.handlers.LoggingMiddleware)
	s.router.Use(s.handlers.RecoveryMiddleware)
}
