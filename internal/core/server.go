// Package core provides the ops HTTP surface of the lifecycle worker: health
// and readiness probes, the Prometheus scrape endpoint, job status with a
// manual trigger, and a read-only view of an account's subscription ledger.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"feedbackgate/internal/scheduler"
	"feedbackgate/internal/types"
)

// JobController is the scheduler surface the ops server exposes.
// *scheduler.Scheduler satisfies it.
type JobController interface {
	Snapshot() []scheduler.RunRecord
	RunNow(ctx context.Context, name string, now time.Time) (types.JobSummary, error)
}

// EventReader reads the subscription ledger. *db.Store satisfies it.
type EventReader interface {
	ListEventsByAccount(ctx context.Context, accountID string, limit int) ([]types.SubscriptionEvent, error)
}

// Server holds the ops endpoints' dependencies.
type Server struct {
	Jobs         JobController
	Events       EventReader
	HealthProbes []HealthProbe
	// MetricsHandler serves /metrics. Nil when the metrics backend is not
	// Prometheus.
	MetricsHandler http.Handler
	Logger         *slog.Logger
	Build          string

	now    func() time.Time
	router *chi.Mux
}

// NewServer validates the required dependencies and mounts the routes.
func NewServer(jobs JobController, events EventReader, logger *slog.Logger) (*Server, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job controller must not be nil")
	}
	if events == nil {
		return nil, fmt.Errorf("event reader must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Jobs:   jobs,
		Events: events,
		Logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		router: chi.NewRouter(),
	}
	return s, nil
}

// Handler returns the router. MountRoutes must have been called.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the chi.Mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// HTTPServer wraps the handler in an http.Server with conservative timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
