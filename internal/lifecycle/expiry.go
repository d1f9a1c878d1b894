package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedbackgate/internal/types"
)

// TrialExpiryJob expires trialing accounts whose trial end has passed and
// cascades the deactivation.
//
// An account whose status write fails stays trialing with a past
// trial_ends_at, so the next hourly run picks it up again. An account that
// was expired but whose cascade did not finish is re-driven by the next run
// from the ledger.
type TrialExpiryJob struct {
	store       Store
	deactivator Deactivation
	metrics     Metrics
	logger      *slog.Logger
}

// NewTrialExpiryJob creates a TrialExpiryJob.
func NewTrialExpiryJob(store Store, deactivator Deactivation, metrics Metrics, logger *slog.Logger) *TrialExpiryJob {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrialExpiryJob{
		store:       store,
		deactivator: deactivator,
		metrics:     metrics,
		logger:      logger,
	}
}

// Run expires every trial that ended before now.
func (j *TrialExpiryJob) Run(ctx context.Context, now time.Time) (types.JobSummary, error) {
	log := types.LoggerFromContext(ctx, j.logger)
	summary := types.JobSummary{Job: JobTrialExpiry, StartedAt: now}

	accounts, err := j.store.ListExpiredTrialAccounts(ctx, now)
	if err != nil {
		return summary, fmt.Errorf("list expired trials: %w", err)
	}

	attempted := make(map[string]bool, len(accounts))
	for _, account := range accounts {
		summary.Processed++
		attempted[account.ID] = true
		switch err := j.expire(ctx, log, account); {
		case errors.Is(err, errSkipped):
			summary.Skipped++
		case err != nil:
			summary.Failed++
		default:
			summary.Succeeded++
		}
	}

	redrivePending(ctx, log, j.store, j.deactivator, types.ReasonTrialExpired, attempted, &summary)

	log.InfoContext(ctx, "trial expiry run complete",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"retried", summary.Retried,
	)
	return summary, nil
}

func (j *TrialExpiryJob) expire(ctx context.Context, log *slog.Logger, account types.Account) error {
	log = log.With("account_id", account.ID)

	t, err := Next(account.Status, types.TriggerTrialElapsed)
	if err != nil {
		log.WarnContext(ctx, "account not eligible for trial expiry", "status", string(account.Status), "error", err)
		return errSkipped
	}

	applied, err := j.store.UpdateSubscriptionStatus(ctx, account.ID, t.From, t.To, nil)
	if err != nil {
		// Still trialing; retried next run.
		log.ErrorContext(ctx, "failed to expire trial", "error", err)
		return err
	}
	if !applied {
		log.InfoContext(ctx, "account status changed concurrently; skipping expiry")
		return errSkipped
	}
	j.metrics.RecordStatusTransition(ctx, t.From, t.To)

	payload := map[string]any{"from": string(t.From)}
	if account.TrialEndsAt != nil {
		payload["trial_ends_at"] = account.TrialEndsAt.UTC().Format(time.RFC3339)
	}
	if err := j.store.AppendEvent(ctx, account.ID, types.EventTrialExpired, payload); err != nil {
		log.ErrorContext(ctx, "failed to append trial_expired event", "error", err)
	}

	reason, ok := t.Deactivates()
	if !ok {
		return nil
	}
	if _, err := j.deactivator.Deactivate(ctx, account.ID, reason); err != nil {
		log.ErrorContext(ctx, "deactivation incomplete after trial expiry", "error", err)
		return err
	}
	return nil
}
