package db

import (
	"context"
	"time"

	"feedbackgate/internal/types"
)

// Error text longer than this is cut before it is stored.
const maxHistoryError = 2000

// JobHistoryRepository writes one job_history row per scheduled run.
type JobHistoryRepository struct {
	db DBTX
}

func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start opens a row in status running and returns its id.
func (r *JobHistoryRepository) Start(ctx context.Context, job, runID string, startedAt time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_name, run_id, started_at, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		job, runID, startedAt.UTC(), string(types.JobStatusRunning),
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "opening job history row", err)
	}
	return id, nil
}

// Finish closes a running row with the outcome counts. Closing a row twice
// is an error.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status types.JobStatus, summary types.JobSummary, jobErr error) error {
	var errText *string
	if jobErr != nil {
		msg := jobErr.Error()
		if len(msg) > maxHistoryError {
			msg = msg[:maxHistoryError]
		}
		errText = &msg
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		    SET finished_at = now(), status = $2,
		        processed = $3, succeeded = $4, failed = $5, skipped = $6,
		        error = $7
		  WHERE id = $1 AND status = 'running'`,
		id, string(status), summary.Processed, summary.Succeeded, summary.Failed, summary.Skipped, errText,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "closing job history row", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected, "no running job history row", nil,
			map[string]any{"history_id": id})
	}
	return nil
}
