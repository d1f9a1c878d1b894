package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"feedbackgate/internal/external"
	"feedbackgate/internal/types"
)

// errSkipped marks a unit of work that was intentionally not processed.
var errSkipped = errors.New("skipped")

// BillingReconciler polls the billing provider for every account with an
// external subscription and applies the provider's status through the state
// machine.
//
// Provider status mapping:
//
//	active, current -> active
//	canceled        -> canceled
//	past_due        -> past_due
//	unpaid          -> expired
//	anything else   -> unchanged
type BillingReconciler struct {
	store       Store
	billing     external.BillingProvider
	deactivator Deactivation
	reactivator Reactivation
	callTimeout time.Duration
	metrics     Metrics
	logger      *slog.Logger
}

// BillingReconcilerConfig tunes the reconciler.
type BillingReconcilerConfig struct {
	// CallTimeout bounds each provider request.
	CallTimeout time.Duration
	Metrics     Metrics
	Logger      *slog.Logger
}

// NewBillingReconciler creates a BillingReconciler.
func NewBillingReconciler(
	store Store,
	billing external.BillingProvider,
	deactivator Deactivation,
	reactivator Reactivation,
	cfg BillingReconcilerConfig,
) *BillingReconciler {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 20 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BillingReconciler{
		store:       store,
		billing:     billing,
		deactivator: deactivator,
		reactivator: reactivator,
		callTimeout: cfg.CallTimeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Run reconciles every account with an external subscription reference.
// Provider and persistence errors are isolated per account; the account is
// retried on the next run. Afterwards, canceled and unpaid accounts whose
// deactivation did not finish in an earlier run are deactivated again.
func (r *BillingReconciler) Run(ctx context.Context, now time.Time) (types.JobSummary, error) {
	log := types.LoggerFromContext(ctx, r.logger)
	summary := types.JobSummary{Job: JobBillingSync, StartedAt: now}

	accounts, err := r.store.ListAccountsWithExternalRef(ctx)
	if err != nil {
		return summary, fmt.Errorf("list accounts with external subscription: %w", err)
	}

	attempted := map[string]bool{}
	for _, account := range accounts {
		summary.Processed++
		switch err := r.reconcile(ctx, log, account, attempted); {
		case errors.Is(err, errSkipped):
			summary.Skipped++
		case err != nil:
			summary.Failed++
		default:
			summary.Succeeded++
		}
	}

	for _, reason := range []types.DeactivationReason{types.ReasonSubscriptionCanceled, types.ReasonPaymentFailed} {
		redrivePending(ctx, log, r.store, r.deactivator, reason, attempted, &summary)
	}

	log.InfoContext(ctx, "billing reconciliation run complete",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"retried", summary.Retried,
	)
	return summary, nil
}

func (r *BillingReconciler) reconcile(ctx context.Context, log *slog.Logger, account types.Account, attempted map[string]bool) error {
	log = log.With("account_id", account.ID)

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	sub, err := r.billing.GetSubscription(callCtx, account.ExternalSubscriptionRef)
	cancel()
	if err != nil {
		log.ErrorContext(ctx, "failed to fetch provider subscription",
			"error_code", string(types.CodeOf(err)),
			"error", err,
		)
		return err
	}

	trigger, ok := TriggerForProviderStatus(sub.Status)
	if !ok {
		log.DebugContext(ctx, "provider status leaves account unchanged", "provider_status", sub.Status)
		return errSkipped
	}

	t, err := Next(account.Status, trigger)
	if err != nil {
		log.WarnContext(ctx, "provider status not applicable to account",
			"status", string(account.Status),
			"provider_status", sub.Status,
			"error", err,
		)
		return errSkipped
	}

	var periodEnd *time.Time
	if !sub.CurrentPeriodEnd.IsZero() {
		pe := sub.CurrentPeriodEnd.UTC()
		periodEnd = &pe
	}

	if t.IsNoop() {
		if periodEnd == nil || (account.TrialEndsAt != nil && account.TrialEndsAt.Equal(*periodEnd)) {
			return nil
		}
		if _, err := r.store.UpdateSubscriptionStatus(ctx, account.ID, t.From, t.To, periodEnd); err != nil {
			log.ErrorContext(ctx, "failed to refresh billing period end", "error", err)
			return err
		}
		return nil
	}

	applied, err := r.store.UpdateSubscriptionStatus(ctx, account.ID, t.From, t.To, periodEnd)
	if err != nil {
		log.ErrorContext(ctx, "failed to apply provider status", "error", err)
		return err
	}
	if !applied {
		log.InfoContext(ctx, "account status changed concurrently; skipping reconciliation")
		return errSkipped
	}
	r.metrics.RecordStatusTransition(ctx, t.From, t.To)

	log.InfoContext(ctx, "subscription status reconciled",
		"from", string(t.From),
		"to", string(t.To),
		"provider_status", sub.Status,
	)

	if err := r.store.AppendEvent(ctx, account.ID, types.EventBillingStatusChanged, map[string]any{
		"from":            string(t.From),
		"to":              string(t.To),
		"provider_status": sub.Status,
	}); err != nil {
		log.ErrorContext(ctx, "failed to append billing_status_changed event", "error", err)
	}

	if reason, ok := t.Deactivates(); ok {
		attempted[account.ID] = true
		if _, err := r.deactivator.Deactivate(ctx, account.ID, reason); err != nil {
			log.ErrorContext(ctx, "deactivation incomplete after billing change", "error", err)
			return err
		}
		return nil
	}

	if t.Reactivates() {
		if err := r.reactivator.Reactivate(ctx, account.ID); err != nil {
			log.ErrorContext(ctx, "reactivation incomplete after billing change", "error", err)
			return err
		}
	}
	return nil
}
