package types

import "time"

// Account is the subscription view of a tenant. Only the fields the
// lifecycle jobs read or write are mapped; the rest of the accounts table
// belongs to the CRUD surface.
type Account struct {
	ID                      string        `json:"id" db:"id"`
	Email                   string        `json:"email" db:"email"`
	Name                    string        `json:"name" db:"name"`
	Status                  AccountStatus `json:"status" db:"subscription_status"`
	Plan                    string        `json:"plan" db:"plan"`
	TrialEndsAt             *time.Time    `json:"trial_ends_at,omitempty" db:"trial_ends_at"`
	ExternalSubscriptionRef string        `json:"-" db:"external_subscription_ref"` // Empty if NULL in DB
	TrialReminderLevel      int           `json:"trial_reminder_level" db:"trial_reminder_level"`
}

// HasExternalSubscription reports whether the account is tied to a billing
// provider subscription.
func (a Account) HasExternalSubscription() bool {
	return a.ExternalSubscriptionRef != ""
}

// MessagingInstance is one connection to the external messaging gateway.
type MessagingInstance struct {
	ID        string         `json:"id" db:"id"`
	AccountID string         `json:"account_id" db:"account_id"`
	Name      string         `json:"name" db:"instance_name"`
	Token     SecretString   `json:"-" db:"token"`
	Status    InstanceStatus `json:"status" db:"status"`
}

// HasLiveSession reports whether the instance holds a credential and the
// gateway considers its session open. Only such instances get a remote
// disconnect call during deactivation.
func (i MessagingInstance) HasLiveSession() bool {
	return i.Token.IsSet() && i.Status == InstanceStatusOpen
}

// SubscriptionEvent is one row of the append-only subscription ledger.
type SubscriptionEvent struct {
	ID        int64        `json:"id" db:"id"`
	AccountID string       `json:"account_id" db:"account_id"`
	Type      string       `json:"event_type" db:"event_type"`
	Payload   EventPayload `json:"payload" db:"payload"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
}

// ProviderSubscription is the billing provider's view of a subscription,
// reduced to the fields reconciliation needs. Status is the provider's raw
// status string; mapping to AccountStatus happens in the reconciler.
type ProviderSubscription struct {
	Ref              string    `json:"id"`
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
}

// DeactivationResult is the tally returned by a deactivation cascade.
type DeactivationResult struct {
	InstancesDisconnected int `json:"instances_disconnected"`
	InstancesFailed       int `json:"instances_failed"`
	TotalInstances        int `json:"total_instances"`
}

// JobSummary is returned by every scheduled job run for observability.
type JobSummary struct {
	Job       string        `json:"job"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Retried   int           `json:"retried"` // unfinished deactivations re-run, included in Processed
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// SendInput defines the contract for email transmission. TemplateID and
// TemplateData are used by template-aware providers; Subject and BodyText
// are the plain-text rendition used by the rest.
type SendInput struct {
	Kind         string         `json:"kind,omitempty"`
	To           string         `json:"to"`
	From         SenderIdentity `json:"from"`
	Subject      string         `json:"subject"`
	BodyText     string         `json:"body_text"`
	TemplateID   string         `json:"template_id,omitempty"`
	TemplateData map[string]any `json:"template_data,omitempty"`
	ReferenceID  string         `json:"reference_id,omitempty"`
}

// SenderIdentity defines the sender for outgoing emails.
type SenderIdentity struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}
