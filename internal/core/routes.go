package core

import (
	"github.com/go-chi/chi/v5/middleware"
)

// MountRoutes registers middleware and every ops route.
//
// RequestID runs first so both the panic envelope and the request log carry
// the ID.
func (s *Server) MountRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(RequestLogger(s.Logger))
	s.router.Use(s.Recoverer)

	s.router.Get("/healthz", s.HandleLiveness)
	s.router.Get("/readyz", s.HandleHealth)
	if s.MetricsHandler != nil {
		s.router.Method("GET", "/metrics", s.MetricsHandler)
	}

	s.router.Get("/jobs", s.HandleListJobs)
	s.router.Post("/jobs/{name}/run", s.HandleRunJob)
	s.router.Get("/accounts/{accountID}/events", s.HandleListEvents)
}
