package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"feedbackgate/internal/types"
)

// Config wires a Scheduler. Locker, Historian and Metrics are optional.
type Config struct {
	Clock     Clock
	Locker    JobLocker
	Historian JobHistorian
	Metrics   Metrics
	Logger    *slog.Logger

	// WorkerID identifies this process as lock owner. Defaults to a UUID.
	WorkerID string

	// MaxRunDuration is the hard deadline for one run and the lock TTL.
	MaxRunDuration time.Duration
}

type registeredJob struct {
	name     string
	spec     string
	schedule cron.Schedule // nil for jobs only run on demand
	job      Job
	running  atomic.Bool
	next     time.Time
}

// Scheduler fires registered jobs on their cron cadence. A job never
// overlaps itself: a trigger that arrives while the previous run is still in
// flight is dropped and logged.
type Scheduler struct {
	clock     Clock
	locker    JobLocker
	historian JobHistorian
	metrics   Metrics
	logger    *slog.Logger
	workerID  string
	maxRun    time.Duration
	newRunID  func() string

	mu      sync.Mutex
	jobs    map[string]*registeredJob
	order   []string
	records map[string]RunRecord

	inflight sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}
	if cfg.MaxRunDuration <= 0 {
		cfg.MaxRunDuration = 30 * time.Minute
	}
	return &Scheduler{
		clock:     cfg.Clock,
		locker:    cfg.Locker,
		historian: cfg.Historian,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		workerID:  cfg.WorkerID,
		maxRun:    cfg.MaxRunDuration,
		newRunID:  uuid.NewString,
		jobs:      make(map[string]*registeredJob),
		records:   make(map[string]RunRecord),
	}
}

// Register adds a job. spec is a standard five-field cron expression
// evaluated in UTC; an empty spec registers the job for RunNow only.
func (s *Scheduler) Register(name, spec string, job Job) error {
	var sched cron.Schedule
	if spec != "" {
		parsed, err := cron.ParseStandard(spec)
		if err != nil {
			return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
		}
		sched = parsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %s already registered", name)
	}
	s.jobs[name] = &registeredJob{name: name, spec: spec, schedule: sched, job: job}
	s.order = append(s.order, name)
	return nil
}

// Start runs the trigger loop until ctx is cancelled, then waits for
// in-flight runs to return. Runs receive a context detached from ctx
// cancellation but still bounded by MaxRunDuration.
func (s *Scheduler) Start(ctx context.Context) error {
	now := s.clock.Now()
	s.mu.Lock()
	for _, j := range s.jobs {
		if j.schedule != nil {
			j.next = j.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "scheduler started", "worker_id", s.workerID, "jobs", len(s.order))

	for {
		wake, ok := s.nextWake()
		if !ok {
			<-ctx.Done()
			break
		}

		wait := wake.Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			s.inflight.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case fired := <-s.clock.After(wait):
			s.fireDue(context.WithoutCancel(ctx), fired.UTC())
		}
	}

	s.inflight.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) nextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var earliest time.Time
	for _, j := range s.jobs {
		if j.schedule == nil {
			continue
		}
		if earliest.IsZero() || j.next.Before(earliest) {
			earliest = j.next
		}
	}
	return earliest, !earliest.IsZero()
}

// fireDue starts every job whose next trigger is at or before now and
// advances its schedule.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*registeredJob
	for _, name := range s.order {
		j := s.jobs[name]
		if j.schedule == nil || j.next.After(now) {
			continue
		}
		due = append(due, j)
		j.next = j.schedule.Next(now)
	}
	s.mu.Unlock()

	for _, j := range due {
		if j.running.Load() {
			s.logger.WarnContext(ctx, "skipping trigger; previous run still in progress", "job", j.name)
			continue
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			_, err := s.run(ctx, j, now)
			if errors.Is(err, ErrJobRunning) {
				s.logger.WarnContext(ctx, "skipping trigger; previous run still in progress", "job", j.name)
			}
		}()
	}
}

// RunNow runs the named job once at the given reference time, subject to the
// same guards as scheduled runs.
func (s *Scheduler) RunNow(ctx context.Context, name string, now time.Time) (types.JobSummary, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return types.JobSummary{}, types.NewAppError(types.ErrCodeNotFoundJob, fmt.Sprintf("unknown job %q", name), nil)
	}
	return s.run(ctx, j, now.UTC())
}

func (s *Scheduler) run(ctx context.Context, j *registeredJob, now time.Time) (types.JobSummary, error) {
	if !j.running.CompareAndSwap(false, true) {
		return types.JobSummary{Job: j.name}, jobRunningError(j.name, "in_process")
	}
	defer j.running.Store(false)

	runID := s.newRunID()
	log := s.logger.With("job", j.name, "run_id", runID)
	ctx = types.WithRunID(ctx, runID)
	ctx = types.WithLogger(ctx, log)

	// The deadline starts before the lease so the lease, whose TTL is the
	// same maxRun, always outlives it.
	runCtx, cancel := context.WithTimeout(ctx, s.maxRun)
	defer cancel()

	if s.locker != nil {
		acquired, err := s.locker.Acquire(runCtx, j.name, s.workerID, s.maxRun)
		if err != nil {
			log.ErrorContext(ctx, "failed to acquire job lock", "error", err)
			return types.JobSummary{Job: j.name}, fmt.Errorf("acquiring job lock %s: %w", j.name, err)
		}
		if !acquired {
			log.InfoContext(ctx, "job lock held by another worker")
			return types.JobSummary{Job: j.name}, jobRunningError(j.name, "lock_held")
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), j.name, s.workerID); err != nil {
				log.WarnContext(ctx, "failed to release job lock", "error", err)
			}
		}()
	}

	var historyID int64
	if s.historian != nil {
		id, err := s.historian.Start(runCtx, j.name, runID, s.clock.Now())
		if err != nil {
			// Non-fatal: run without a history row.
			log.ErrorContext(ctx, "failed to start job history", "error", err)
		}
		historyID = id
	}

	log.InfoContext(ctx, "job run started", "reference_time", now.Format(time.RFC3339))
	started := s.clock.Now()
	summary, runErr := s.safeRun(runCtx, j, now)
	summary.Job = j.name
	summary.Duration = s.clock.Now().Sub(started)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && runErr == nil {
		runErr = types.NewAppError(types.ErrCodeUpstreamTimeout, "job exceeded max run duration", runCtx.Err())
	}

	status := types.JobStatusSuccess
	if runErr != nil {
		status = types.JobStatusFailed
	}

	if historyID != 0 {
		if err := s.historian.Finish(context.WithoutCancel(ctx), historyID, status, summary, runErr); err != nil {
			log.ErrorContext(ctx, "failed to finish job history", "history_id", historyID, "error", err)
		}
	}

	s.metrics.RecordJobRun(ctx, j.name, status, summary.Duration, summary)
	s.record(j.name, runID, status, runErr, summary)

	if runErr != nil {
		log.ErrorContext(ctx, "job run failed",
			"error", runErr,
			"processed", summary.Processed,
			"duration", summary.Duration,
		)
		return summary, fmt.Errorf("job %s: %w", j.name, runErr)
	}

	log.InfoContext(ctx, "job run finished",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration,
	)
	return summary, nil
}

// safeRun converts a panic in job code into a failed run.
func (s *Scheduler) safeRun(ctx context.Context, j *registeredJob, now time.Time) (summary types.JobSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("job panicked: %v", r), nil)
		}
	}()
	return j.job.Run(ctx, now)
}

func (s *Scheduler) record(name, runID string, status types.JobStatus, runErr error, summary types.JobSummary) {
	completed := s.clock.Now()
	rec := RunRecord{
		Job:       name,
		RunID:     runID,
		Status:    status,
		Summary:   &summary,
		Completed: &completed,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	s.mu.Lock()
	s.records[name] = rec
	s.mu.Unlock()
}

// Snapshot returns the state of every registered job in registration order.
func (s *Scheduler) Snapshot() []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunRecord, 0, len(s.order))
	for _, name := range s.order {
		j := s.jobs[name]
		rec := s.records[name]
		rec.Job = name
		rec.Schedule = j.spec
		rec.Running = j.running.Load()
		if !j.next.IsZero() {
			next := j.next
			rec.NextRun = &next
		}
		out = append(out, rec)
	}
	return out
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := append([]string(nil), s.order...)
	sort.Strings(names)
	return names
}

func jobRunningError(name, where string) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeConflictJobRunning,
		fmt.Sprintf("job %s is already running", name),
		ErrJobRunning,
		map[string]any{"job": name, "guard": where},
	)
}
