package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// ConfigError is returned by LoadConfig. Problems lists every offending
// variable when validation fails, so one restart shows all of them.
type ConfigError struct {
	Type     ConfigErrorType
	Message  string
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Type, e.Message)
	if len(e.Problems) > 0 {
		b.WriteString(" (" + strings.Join(e.Problems, "; ") + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LoadConfig reads the worker configuration from the environment, falling back
// to a .env file in the working directory for variables that are unset.
// time.Local is forced to UTC first; schedules and trial windows are UTC.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "cannot parse environment", Err: err}
	}
	cfg.Build = NewBuildInfo()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envName reports a field by its environment variable so validation messages
// point at what the operator has to change.
func envName(f reflect.StructField) string {
	if name := f.Tag.Get("envconfig"); name != "" {
		return name
	}
	return f.Name
}

// Validate checks the struct tags and then the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(envName)

	var problems []string
	var verrs validator.ValidationErrors
	if err := v.Struct(c); err != nil {
		if !errors.As(err, &verrs) {
			return &ConfigError{Type: ErrValidation, Message: "cannot validate configuration", Err: err}
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	// A reminder level is the threshold index, so the list must shrink toward
	// the trial end.
	days := c.Lifecycle.TrialReminderDays
	for i := 1; i < len(days); i++ {
		if days[i] >= days[i-1] {
			problems = append(problems, fmt.Sprintf("TRIAL_REMINDER_DAYS must be strictly descending, got %v", days))
			break
		}
	}

	if c.Database.MinConns > c.Database.MaxConns {
		problems = append(problems,
			fmt.Sprintf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Database.MinConns, c.Database.MaxConns))
	}

	for name, spec := range map[string]string{
		"SCHEDULE_TRIAL_REMINDERS": c.Lifecycle.ScheduleTrialReminders,
		"SCHEDULE_TRIAL_EXPIRY":    c.Lifecycle.ScheduleTrialExpiry,
		"SCHEDULE_BILLING_SYNC":    c.Lifecycle.ScheduleBillingSync,
	} {
		if spec == "" {
			continue // reported by the required tag
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return &ConfigError{Type: ErrValidation, Message: "invalid configuration", Problems: problems}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "required_if":
		return fmt.Sprintf("%s is required when %s", fe.Field(), strings.Replace(fe.Param(), " ", "=", 1))
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Field(), fe.Param(), fmt.Sprint(fe.Value()))
	case "url", "email":
		return fmt.Sprintf("%s is not a valid %s", fe.Field(), fe.Tag())
	default:
		return fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
}
