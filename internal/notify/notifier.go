// Package notify sends the lifecycle emails: trial reminders and the
// "services deactivated" notice. Delivery goes through any
// external.EmailProvider (SendGrid, SMTP, stub) or the SQS email queue.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"feedbackgate/internal/external"
	"feedbackgate/internal/types"
)

// Templates holds provider template IDs per email kind. An empty ID sends the
// plain-text rendition.
type Templates struct {
	TrialReminder       string
	ServicesDeactivated string
}

// Config configures a Notifier.
type Config struct {
	From      types.SenderIdentity
	Templates Templates
	Logger    *slog.Logger
}

// Notifier implements the lifecycle notification sender on top of an
// EmailProvider.
type Notifier struct {
	provider  external.EmailProvider
	from      types.SenderIdentity
	templates Templates
	logger    *slog.Logger
	newID     func() string
}

// New creates a Notifier that delivers through provider.
func New(provider external.EmailProvider, cfg Config) *Notifier {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		provider:  provider,
		from:      cfg.From,
		templates: cfg.Templates,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// SendTrialReminder tells the account owner their trial ends in daysRemaining
// days.
func (n *Notifier) SendTrialReminder(ctx context.Context, email, name string, daysRemaining int) error {
	input := types.SendInput{
		Kind:       types.EmailKindTrialReminder,
		To:         email,
		From:       n.from,
		Subject:    trialReminderSubject(daysRemaining),
		BodyText:   trialReminderBody(name, daysRemaining),
		TemplateID: n.templates.TrialReminder,
		TemplateData: map[string]any{
			"name":           name,
			"days_remaining": daysRemaining,
		},
	}
	return n.send(ctx, input)
}

// SendServicesDeactivated tells the account owner their messaging instances
// and client pages were switched off, and why.
func (n *Notifier) SendServicesDeactivated(ctx context.Context, email, name string, reason types.DeactivationReason) error {
	input := types.SendInput{
		Kind:       types.EmailKindServicesDeactivated,
		To:         email,
		From:       n.from,
		Subject:    "Your FeedbackGate services have been paused",
		BodyText:   servicesDeactivatedBody(name, reason),
		TemplateID: n.templates.ServicesDeactivated,
		TemplateData: map[string]any{
			"name":   name,
			"reason": string(reason),
		},
	}
	return n.send(ctx, input)
}

func (n *Notifier) send(ctx context.Context, input types.SendInput) error {
	if input.To == "" {
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			fmt.Sprintf("%s: recipient address is empty", input.Kind),
			nil,
		)
	}
	input.ReferenceID = n.newID()

	msgID, err := n.provider.Send(ctx, input)
	if err != nil {
		return fmt.Errorf("send %s: %w", input.Kind, err)
	}

	n.logger.InfoContext(ctx, "lifecycle email sent",
		"kind", input.Kind,
		"reference_id", input.ReferenceID,
		"provider_message_id", msgID,
	)
	return nil
}
