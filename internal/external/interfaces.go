package external

import (
	"context"

	"feedbackgate/internal/types"
)

// ---------------------------------------------------------------------------
// Billing Integration (Stripe)
// ---------------------------------------------------------------------------

// BillingProvider abstracts the read side of the billing provider used by
// reconciliation.
type BillingProvider interface {
	// GetSubscription returns the provider's current view of the subscription
	// identified by ref.
	GetSubscription(ctx context.Context, ref string) (types.ProviderSubscription, error)
}

// ---------------------------------------------------------------------------
// Messaging Gateway
// ---------------------------------------------------------------------------

// MessagingGateway abstracts the external messaging gateway that hosts
// account instances.
type MessagingGateway interface {
	// Disconnect terminates the instance's live session. Returns nil when the
	// gateway reports the session closed or the instance unknown.
	Disconnect(ctx context.Context, instanceName string, token types.SecretString) error
}

// ---------------------------------------------------------------------------
// Email Integration
// ---------------------------------------------------------------------------

// EmailProvider abstracts interactions with the email delivery service.
type EmailProvider interface {
	// Send transmits an email. Returns the provider's message ID for tracking
	// and correlation (may be empty for providers that do not assign one).
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
