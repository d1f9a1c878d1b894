package types

// EmailQueueMessage is the SQS payload handed to the email worker when
// EMAIL_PROVIDER=sqs. The worker owns rendering and delivery; this process
// only guarantees the message was enqueued.
type EmailQueueMessage struct {
	// Identity
	ReferenceID string `json:"reference_id"`

	// Routing
	Kind       string `json:"kind"`
	To         string `json:"to"`
	FromName   string `json:"from_name"`
	FromEmail  string `json:"from_email"`
	TemplateID string `json:"template_id,omitempty"`

	// Plain-text rendition for workers without template support.
	Subject  string `json:"subject"`
	BodyText string `json:"body_text"`

	// Template variables.
	Payload map[string]any `json:"payload,omitempty"`
}

// Email kinds carried in EmailQueueMessage.Kind.
const (
	EmailKindTrialReminder       = "trial_reminder"
	EmailKindServicesDeactivated = "services_deactivated"
)
