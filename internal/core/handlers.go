package core

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"feedbackgate/internal/types"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// HandleListJobs returns every registered job with its last run.
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, APIResponse{Data: s.Jobs.Snapshot()})
}

// HandleRunJob triggers a job immediately. An optional reference_time query
// parameter (RFC 3339) overrides "now" for backfills. The run is bound to the
// server's lifetime, not the request: a dropped connection does not abort it.
// A run may take up to the job's max duration, so the server's WriteTimeout
// is lifted for this response.
func (s *Server) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	now := s.now()
	if raw := r.URL.Query().Get("reference_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			Error(w, r, types.NewAppErrorWithDetails(errCodeValidation,
				"reference_time must be RFC 3339", err,
				map[string]any{"reference_time": raw}))
			return
		}
		now = t.UTC()
	}

	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.Logger.WarnContext(r.Context(), "cannot clear write deadline for job run", "job", name, "error", err)
	}

	summary, err := s.Jobs.RunNow(context.WithoutCancel(r.Context()), name, now)
	if err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: summary})
}

// HandleListEvents returns the newest ledger events for an account.
func (s *Server) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEventLimit {
			Error(w, r, types.NewAppErrorWithDetails(errCodeValidation,
				"limit must be between 1 and 500", err,
				map[string]any{"limit": raw}))
			return
		}
		limit = n
	}

	events, err := s.Events.ListEventsByAccount(r.Context(), accountID, limit)
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "failed to list subscription events",
			"account_id", accountID,
			"error", err,
		)
		Error(w, r, err)
		return
	}
	if events == nil {
		events = []types.SubscriptionEvent{}
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: events})
}
