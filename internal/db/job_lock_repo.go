package db

import (
	"context"
	"time"

	"feedbackgate/internal/types"
)

// JobLockRepository is the Postgres run lock: one job_locks row per job name.
// Expiry is judged by the database clock so workers with skewed clocks agree
// on when an abandoned lock can be taken over.
type JobLockRepository struct {
	db DBTX
}

func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire takes the lock for job unless a live holder has it. A row whose
// expires_at has passed belongs to a crashed run and is taken over.
func (r *JobLockRepository) Acquire(ctx context.Context, job, holder string, ttl time.Duration) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks AS l (job_name, holder, acquired_at, expires_at)
		 VALUES ($1, $2, now(), now() + make_interval(secs => $3))
		 ON CONFLICT (job_name) DO UPDATE
		    SET holder = EXCLUDED.holder,
		        acquired_at = EXCLUDED.acquired_at,
		        expires_at = EXCLUDED.expires_at
		  WHERE l.expires_at <= now()`,
		job, holder, ttl.Seconds(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "acquiring job lock", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release drops the lock only while holder still owns it, so a run that
// overstayed its TTL cannot free a lock someone else has since taken.
func (r *JobLockRepository) Release(ctx context.Context, job, holder string) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE job_name = $1 AND holder = $2`, job, holder,
	); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "releasing job lock", err)
	}
	return nil
}
