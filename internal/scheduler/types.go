// Package scheduler drives the lifecycle jobs.
//
// The long-running worker registers each job with a cron expression and lets
// the Scheduler fire it on an injected Clock. The Lambda entrypoint receives a
// TaskPayload from an EventBridge rule instead and calls RunNow directly. Both
// paths share the same guards: a per-job in-process single-flight, an optional
// distributed lock, a hard run deadline and job history.
package scheduler

import (
	"context"
	"errors"
	"time"

	"feedbackgate/internal/types"
)

// TaskType names a schedulable job. Values match the lifecycle job names.
type TaskType string

const (
	TaskTrialReminders TaskType = "trial_reminders"
	TaskTrialExpiry    TaskType = "trial_expiry"
	TaskBillingSync    TaskType = "billing_sync"
)

// TaskPayload is the JSON payload sent by EventBridge to the lifecycle Lambda.
//
//	{
//	  "task": "trial_expiry",
//	  "reference_time": "2026-02-06T03:00:00Z"  // optional
//	}
type TaskPayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual invocation and backfilling.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// ErrJobRunning is returned when a run is requested while the same job is
// already running, in this process or (with a JobLocker) anywhere else.
var ErrJobRunning = errors.New("job already running")

// Job is one schedulable unit. The lifecycle jobs satisfy it.
type Job interface {
	Run(ctx context.Context, now time.Time) (types.JobSummary, error)
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context, now time.Time) (types.JobSummary, error)

func (f JobFunc) Run(ctx context.Context, now time.Time) (types.JobSummary, error) {
	return f(ctx, now)
}

// JobLocker is a distributed mutual-exclusion lock keyed by job name.
// *db.JobLockRepository and *lock.RedisLocker satisfy it.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobHistorian records job runs. *db.JobHistoryRepository satisfies it.
type JobHistorian interface {
	Start(ctx context.Context, job, runID string, startedAt time.Time) (int64, error)
	Finish(ctx context.Context, id int64, status types.JobStatus, summary types.JobSummary, jobErr error) error
}

// Metrics observes completed runs.
type Metrics interface {
	RecordJobRun(ctx context.Context, job string, status types.JobStatus, duration time.Duration, summary types.JobSummary)
}

type nopMetrics struct{}

func (nopMetrics) RecordJobRun(context.Context, string, types.JobStatus, time.Duration, types.JobSummary) {
}

// RunRecord is the last observed run of a job, as served on the ops endpoint.
type RunRecord struct {
	Job       string            `json:"job"`
	Schedule  string            `json:"schedule,omitempty"`
	Running   bool              `json:"running"`
	NextRun   *time.Time        `json:"next_run,omitempty"`
	RunID     string            `json:"last_run_id,omitempty"`
	Status    types.JobStatus   `json:"last_status,omitempty"`
	Error     string            `json:"last_error,omitempty"`
	Summary   *types.JobSummary `json:"last_summary,omitempty"`
	Completed *time.Time        `json:"last_completed_at,omitempty"`
}
