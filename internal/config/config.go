// Package config defines the configuration of the subscription lifecycle
// worker. Configuration is loaded once at process start and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format aborts startup.
package config

import (
	"time"

	"feedbackgate/internal/types"
)

// SecretString is an alias for types.SecretString so callers can build
// configs without importing types.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subset they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"lifecycle-worker"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Database      DatabaseConfig
	Lifecycle     LifecycleConfig
	Billing       BillingConfig
	Gateway       GatewayConfig
	Email         EmailConfig
	Lock          LockConfig
	AWS           AWSConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// LifecycleConfig holds the job schedule and cascade tuning.
type LifecycleConfig struct {
	// Days-before-trial-end at which reminders are sent, in send order.
	TrialReminderDays []int `envconfig:"TRIAL_REMINDER_DAYS" default:"7,3,1" validate:"required,min=1,dive,min=0"`

	// Standard 5-field cron expressions, evaluated in UTC.
	ScheduleTrialReminders string `envconfig:"SCHEDULE_TRIAL_REMINDERS" default:"0 9 * * *" validate:"required"`
	ScheduleTrialExpiry    string `envconfig:"SCHEDULE_TRIAL_EXPIRY" default:"0 * * * *" validate:"required"`
	ScheduleBillingSync    string `envconfig:"SCHEDULE_BILLING_SYNC" default:"30 3 * * *" validate:"required"`

	JobMaxDuration        time.Duration `envconfig:"JOB_MAX_DURATION" default:"30m" validate:"min=1s"`
	DisconnectConcurrency int           `envconfig:"DISCONNECT_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	NotificationTimeout   time.Duration `envconfig:"NOTIFICATION_TIMEOUT" default:"10s" validate:"min=1ms"`
}

// BillingConfig holds the billing provider (Stripe) credentials.
type BillingConfig struct {
	StripeSecretKey SecretString  `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	APIBase         string        `envconfig:"STRIPE_API_BASE" default:"https://api.stripe.com" validate:"url"`
	Timeout         time.Duration `envconfig:"BILLING_TIMEOUT" default:"20s"`
}

// GatewayConfig holds the messaging gateway endpoint.
type GatewayConfig struct {
	BaseURL string        `envconfig:"GATEWAY_BASE_URL" validate:"required,url"`
	Timeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`
}

// EmailConfig holds email delivery provider credentials and sender identity.
type EmailConfig struct {
	Provider       string       `envconfig:"EMAIL_PROVIDER" default:"sendgrid" validate:"oneof=sendgrid smtp sqs stub"`
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required_if=Provider sendgrid"`

	SMTPHost     string       `envconfig:"SMTP_HOST" validate:"required_if=Provider smtp"`
	SMTPPort     int          `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername string       `envconfig:"SMTP_USERNAME"`
	SMTPPassword SecretString `envconfig:"SMTP_PASSWORD"`

	QueueURL string `envconfig:"EMAIL_QUEUE_URL" validate:"required_if=Provider sqs"`

	FromAddress string        `envconfig:"EMAIL_FROM_ADDRESS" default:"billing@feedbackgate.io" validate:"email"`
	FromName    string        `envconfig:"EMAIL_FROM_NAME" default:"FeedbackGate"`
	Timeout     time.Duration `envconfig:"EMAIL_TIMEOUT" default:"10s"`

	// Provider template IDs. Empty means the plain-text rendition is used.
	TemplateTrialReminder       string `envconfig:"EMAIL_TEMPLATE_TRIAL_REMINDER"`
	TemplateServicesDeactivated string `envconfig:"EMAIL_TEMPLATE_SERVICES_DEACTIVATED"`
}

// LockConfig selects the distributed run lock backend.
type LockConfig struct {
	Backend  string       `envconfig:"LOCK_BACKEND" default:"postgres" validate:"oneof=postgres redis"`
	RedisURL SecretString `envconfig:"REDIS_URL" validate:"required_if=Backend redis"`
}

// AWSConfig holds AWS regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"FeedbackGate"`
	OpsAddr         string `envconfig:"OPS_ADDR" default:":9090"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
