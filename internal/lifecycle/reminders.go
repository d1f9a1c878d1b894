package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedbackgate/internal/types"
)

// TrialReminderDispatcher sends one reminder per threshold per trialing
// account.
//
// Thresholds are days-before-trial-end ordered largest first. The stored
// trial_reminder_level is the 1-based index of the last threshold sent, so
// with thresholds 7,3,1 an account moves through levels 1, 2 and 3. An
// account is due for threshold i when it has exactly thresholds[i-1] days
// left and its level is below i.
type TrialReminderDispatcher struct {
	store         ReminderStore
	notifier      Notifier
	thresholds    []int
	notifyTimeout time.Duration
	metrics       Metrics
	logger        *slog.Logger
}

// NewTrialReminderDispatcher creates a TrialReminderDispatcher. thresholds
// must be strictly decreasing; config validation enforces this.
func NewTrialReminderDispatcher(
	store ReminderStore,
	notifier Notifier,
	thresholds []int,
	notifyTimeout time.Duration,
	metrics Metrics,
	logger *slog.Logger,
) *TrialReminderDispatcher {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifyTimeout <= 0 {
		notifyTimeout = 10 * time.Second
	}
	return &TrialReminderDispatcher{
		store:         store,
		notifier:      notifier,
		thresholds:    append([]int(nil), thresholds...),
		notifyTimeout: notifyTimeout,
		metrics:       metrics,
		logger:        logger,
	}
}

// MaxLevel is the highest trial_reminder_level the dispatcher can record.
func (d *TrialReminderDispatcher) MaxLevel() int {
	return len(d.thresholds)
}

// Run dispatches every reminder due at now. Send failures are logged and the
// account keeps its level, so the next daily run retries it while the
// remaining-days condition still holds. Run returns an error only when a
// candidate listing query fails.
func (d *TrialReminderDispatcher) Run(ctx context.Context, now time.Time) (types.JobSummary, error) {
	log := types.LoggerFromContext(ctx, d.logger)
	summary := types.JobSummary{Job: JobTrialReminders, StartedAt: now}
	var listErrs []error

	for i, days := range d.thresholds {
		level := i + 1

		accounts, err := d.store.ListTrialingAccountsExpiringIn(ctx, now, days)
		if err != nil {
			log.ErrorContext(ctx, "failed to list trialing accounts",
				"days_remaining", days,
				"error", err,
			)
			listErrs = append(listErrs, fmt.Errorf("list accounts %d days out: %w", days, err))
			continue
		}

		for _, account := range accounts {
			summary.Processed++
			if account.TrialReminderLevel >= level {
				summary.Skipped++
				continue
			}
			if err := d.remind(ctx, log, account, days, level); err != nil {
				summary.Failed++
				continue
			}
			summary.Succeeded++
		}
	}

	log.InfoContext(ctx, "trial reminder run complete",
		"processed", summary.Processed,
		"sent", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)

	return summary, errors.Join(listErrs...)
}

// remind sends one reminder and records the level. If the level write loses
// a race (another writer already raised it) the reminder still counts as
// sent.
func (d *TrialReminderDispatcher) remind(ctx context.Context, log *slog.Logger, account types.Account, days, level int) error {
	log = log.With("account_id", account.ID, "days_remaining", days, "level", level)

	if account.Email == "" {
		log.WarnContext(ctx, "trialing account has no email; skipping reminder")
		d.metrics.RecordNotification(ctx, types.EmailKindTrialReminder, types.OutcomeSkipped)
		return errors.New("account has no email")
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.notifyTimeout)
	err := d.notifier.SendTrialReminder(sendCtx, account.Email, account.Name, days)
	cancel()
	if err != nil {
		// Level untouched; retried next run.
		log.ErrorContext(ctx, "failed to send trial reminder", "error", err)
		d.metrics.RecordNotification(ctx, types.EmailKindTrialReminder, types.OutcomeFailure)
		return err
	}
	d.metrics.RecordNotification(ctx, types.EmailKindTrialReminder, types.OutcomeSuccess)

	applied, err := d.store.MarkReminderSent(ctx, account.ID, level)
	if err != nil {
		log.ErrorContext(ctx, "reminder sent but level update failed", "error", err)
		return err
	}
	if !applied {
		log.WarnContext(ctx, "reminder level already recorded by another writer")
		return nil
	}

	if err := d.store.AppendEvent(ctx, account.ID, types.EventTrialReminderSent, map[string]any{
		"level":          level,
		"days_remaining": days,
	}); err != nil {
		log.WarnContext(ctx, "failed to append reminder event", "error", err)
	}
	return nil
}
