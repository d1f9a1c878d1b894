// Package lifecycle implements the subscription lifecycle core: the account
// state machine, the trial reminder dispatcher, the trial expiry job, the
// billing reconciler, and the deactivation and reactivation cascades.
//
// Every job processes accounts independently. A failure for one account is
// logged and counted; the account stays eligible and is retried on the next
// scheduled run.
package lifecycle

import (
	"context"
	"time"

	"feedbackgate/internal/types"
)

// Job names used for scheduling, locks, history and metrics.
const (
	JobTrialReminders = "trial_reminders"
	JobTrialExpiry    = "trial_expiry"
	JobBillingSync    = "billing_sync"
)

// AccountStore is the account side of the subscription store.
type AccountStore interface {
	// ListTrialingAccountsExpiringIn returns trialing accounts with exactly
	// `days` calendar days (UTC) of trial left relative to now.
	ListTrialingAccountsExpiringIn(ctx context.Context, now time.Time, days int) ([]types.Account, error)

	// ListExpiredTrialAccounts returns trialing accounts whose trial_ends_at
	// is before now.
	ListExpiredTrialAccounts(ctx context.Context, now time.Time) ([]types.Account, error)

	// ListAccountsWithExternalRef returns accounts tied to a billing
	// provider subscription.
	ListAccountsWithExternalRef(ctx context.Context) ([]types.Account, error)

	// ListAccountsPendingDeactivation returns accounts whose latest
	// transition was recorded for reason but whose deactivation cascade has
	// not completed since.
	ListAccountsPendingDeactivation(ctx context.Context, reason types.DeactivationReason) ([]types.Account, error)

	GetAccount(ctx context.Context, accountID string) (types.Account, error)

	// UpdateSubscriptionStatus is a compare-and-swap on the current status.
	// A nil periodEnd keeps trial_ends_at. Returns false when the stored
	// status no longer equals from.
	UpdateSubscriptionStatus(ctx context.Context, accountID string, from, to types.AccountStatus, periodEnd *time.Time) (bool, error)

	// MarkReminderSent raises trial_reminder_level to level. Returns false if
	// the stored level was already >= level or the account left trialing.
	MarkReminderSent(ctx context.Context, accountID string, level int) (bool, error)
}

// InstanceStore is the messaging instance side of the subscription store.
type InstanceStore interface {
	ListInstancesByAccount(ctx context.Context, accountID string) ([]types.MessagingInstance, error)
	UpdateInstanceStatus(ctx context.Context, instanceID, accountID string, status types.InstanceStatus) error
}

// PageStore flips client page visibility.
type PageStore interface {
	// SetPagesActiveByAccount sets active on every page of the account and
	// returns the number of rows that changed.
	SetPagesActiveByAccount(ctx context.Context, accountID string, active bool) (int64, error)
}

// EventStore appends to the subscription ledger.
type EventStore interface {
	AppendEvent(ctx context.Context, accountID, eventType string, payload map[string]any) error
}

// ReminderStore is what the reminder dispatcher needs.
type ReminderStore interface {
	AccountStore
	EventStore
}

// Store is the full subscription store accessor. *db.Store satisfies it.
type Store interface {
	AccountStore
	InstanceStore
	PageStore
	EventStore
}

// Notifier sends the lifecycle emails. *notify.Notifier satisfies it.
type Notifier interface {
	SendTrialReminder(ctx context.Context, email, name string, daysRemaining int) error
	SendServicesDeactivated(ctx context.Context, email, name string, reason types.DeactivationReason) error
}

// Deactivation runs the deactivation cascade for one account.
type Deactivation interface {
	Deactivate(ctx context.Context, accountID string, reason types.DeactivationReason) (types.DeactivationResult, error)
}

// Reactivation runs the reactivation cascade for one account.
type Reactivation interface {
	Reactivate(ctx context.Context, accountID string) error
}

// Metrics records per-unit outcomes of the cascades and jobs.
type Metrics interface {
	RecordInstanceDisconnect(ctx context.Context, outcome types.Outcome)
	RecordNotification(ctx context.Context, kind string, outcome types.Outcome)
	RecordStatusTransition(ctx context.Context, from, to types.AccountStatus)
}

// NopMetrics discards every observation.
type NopMetrics struct{}

func (NopMetrics) RecordInstanceDisconnect(context.Context, types.Outcome)                          {}
func (NopMetrics) RecordNotification(context.Context, string, types.Outcome)                        {}
func (NopMetrics) RecordStatusTransition(context.Context, types.AccountStatus, types.AccountStatus) {}
