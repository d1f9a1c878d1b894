package types

import "fmt"

// AccountStatus is the subscription state of a tenant account. The set is
// closed: values read from storage or the billing provider are parsed into
// one of these constants and anything else is rejected.
type AccountStatus string

const (
	AccountStatusFree     AccountStatus = "free"
	AccountStatusTrialing AccountStatus = "trialing"
	AccountStatusActive   AccountStatus = "active"
	AccountStatusPastDue  AccountStatus = "past_due"
	AccountStatusCanceled AccountStatus = "canceled"
	AccountStatusExpired  AccountStatus = "expired"
)

// allAccountStatuses lists every valid AccountStatus in declaration order.
var allAccountStatuses = []AccountStatus{
	AccountStatusFree,
	AccountStatusTrialing,
	AccountStatusActive,
	AccountStatusPastDue,
	AccountStatusCanceled,
	AccountStatusExpired,
}

// ParseAccountStatus converts a stored string into an AccountStatus.
func ParseAccountStatus(s string) (AccountStatus, error) {
	for _, st := range allAccountStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown account status %q", s)
}

// IsDeactivated reports whether the status means the account has lost
// entitlement and its resources should be deactivated.
func (s AccountStatus) IsDeactivated() bool {
	return s == AccountStatusCanceled || s == AccountStatusExpired
}

// InstanceStatus is the connection state of a messaging gateway instance.
type InstanceStatus string

const (
	InstanceStatusPending      InstanceStatus = "pending"
	InstanceStatusConnecting   InstanceStatus = "connecting"
	InstanceStatusOpen         InstanceStatus = "open"
	InstanceStatusDisconnected InstanceStatus = "disconnected"
	InstanceStatusExpired      InstanceStatus = "expired"
)

// ParseInstanceStatus converts a stored string into an InstanceStatus.
// The gateway reports a live session as either "open" or "connected"; both
// normalize to InstanceStatusOpen.
func ParseInstanceStatus(s string) (InstanceStatus, error) {
	switch s {
	case "pending":
		return InstanceStatusPending, nil
	case "connecting":
		return InstanceStatusConnecting, nil
	case "open", "connected":
		return InstanceStatusOpen, nil
	case "disconnected":
		return InstanceStatusDisconnected, nil
	case "expired":
		return InstanceStatusExpired, nil
	default:
		return "", fmt.Errorf("unknown instance status %q", s)
	}
}

// IsTerminal reports whether the instance is already in a deactivated state.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusDisconnected || s == InstanceStatusExpired
}

// DeactivationReason identifies why an account lost entitlement. It is part
// of the ledger event type ("resources_deactivated_<reason>").
type DeactivationReason string

const (
	ReasonTrialExpired         DeactivationReason = "trial_expired"
	ReasonSubscriptionCanceled DeactivationReason = "subscription_canceled"
	ReasonPaymentFailed        DeactivationReason = "payment_failed"
)

// Subscription event types written to the append-only ledger.
const (
	EventTrialExpired         = "trial_expired"
	EventResourcesReactivated = "resources_reactivated"
	EventBillingStatusChanged = "billing_status_changed"
	EventTrialReminderSent    = "trial_reminder_sent"
	eventDeactivatedPrefix    = "resources_deactivated_"
)

// DeactivatedEventType returns the ledger event type for a deactivation
// performed for the given reason.
func DeactivatedEventType(reason DeactivationReason) string {
	return eventDeactivatedPrefix + string(reason)
}

// TransitionTrigger is an input to the account state machine.
type TransitionTrigger string

const (
	TriggerTrialElapsed     TransitionTrigger = "trial_elapsed"
	TriggerStartTrial       TransitionTrigger = "start_trial"
	TriggerProviderActive   TransitionTrigger = "provider_active"
	TriggerProviderPastDue  TransitionTrigger = "provider_past_due"
	TriggerProviderCanceled TransitionTrigger = "provider_canceled"
	TriggerProviderUnpaid   TransitionTrigger = "provider_unpaid"
)

// JobStatus is the outcome recorded for a scheduled job run.
type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
	JobStatusSkipped JobStatus = "skipped"
)

// Outcome is the recorded result of a best-effort side effect.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)
