package core

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout is the soft deadline applied to request contexts. Set
// below the Lambda hard timeout so handlers can fail cleanly.
const defaultRequestTimeout = 29 * time.Second

// MountRoutes defines the top-level routing hierarchy: global middleware, the
// user-facing /v1 group, the service-token-protected /internal group, and the
// public health check.
//
// Middleware ordering: Recoverer is outermost so it catches everything,
// then the timeout, request ID (so logging can correlate), logging, and CORS.
// Authentication is applied per route group, not globally.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(CORSMiddleware(s.Config.Security.CorsAllowedOrigins))

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.UserAuthMiddleware)
		for _, registrar := range s.V1RouteRegistrars {
			registrar(r)
		}
	})

	s.router.Route("/internal", func(r chi.Router) {
		r.Use(s.ServiceTokenMiddleware)
		for _, registrar := range s.InternalRouteRegistrars {
			registrar(r)
		}
	})

	s.router.Get("/health", s.HandleHealth)
}

// ContextTimeoutMiddleware sets a deadline on the request context so
// downstream handlers observe cancellation before the process is killed.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
