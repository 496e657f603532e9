// Package core provides the API chassis for the Polly notification service.
// It creates a chi router, enforces cross-cutting concerns (recovery, request
// IDs, logging, CORS, authentication) before requests reach domain handlers,
// and exposes the shared response envelope helpers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"polly/internal/config"
)

// RouteRegistrar mounts a group of domain handler routes onto a router. The
// application entry point populates these; the indirection avoids import
// cycles between core and handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the HTTP dependencies for the Polly API, allowing
// injection during testing and distinct configuration per environment.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	// HealthProbes are checked by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount the user-facing /v1 routes.
	V1RouteRegistrars []RouteRegistrar
	// InternalRouteRegistrars mount the service-token-protected /internal routes.
	InternalRouteRegistrars []RouteRegistrar

	router *chi.Mux
}

// NewServer initializes the server chassis. The caller mounts routes via
// MountRoutes after registering its route registrars.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router. Used by http.ListenAndServe
// locally and by the Lambda proxy adapter in production.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs graceful termination of server-held resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	for _, probe := range s.HealthProbes {
		if closer, ok := probe.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
