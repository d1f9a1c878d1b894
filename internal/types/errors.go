package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these instead of literal strings.
const (
	// Not Found
	ErrCodeNotFoundAccount  ErrorCode = "not_found_account"
	ErrCodeNotFoundInstance ErrorCode = "not_found_instance"
	ErrCodeNotFoundJob      ErrorCode = "not_found_job"

	// Conflict
	ErrCodeConflictTransition ErrorCode = "conflict_invalid_transition"
	ErrCodeConflictJobRunning ErrorCode = "conflict_job_running"

	// Internal
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"

	// Upstream
	ErrCodeUpstreamBilling       ErrorCode = "upstream_billing_unavailable"
	ErrCodeUpstreamGateway       ErrorCode = "upstream_gateway_unavailable"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamTimeout       ErrorCode = "upstream_timeout"

	// Email-specific
	ErrCodeEmailBlocked ErrorCode = "email_blocked"
)

// Sentinel errors for conditions callers branch on with errors.Is.
var (
	// ErrInvalidTransition is returned by the state machine when a trigger is
	// not allowed from the current status.
	ErrInvalidTransition = errors.New("transition not permitted")

	// ErrJobRunning is returned when a job is triggered while a previous run
	// of the same job has not finished.
	ErrJobRunning = errors.New("job already running")
)

// IsUpstream reports whether the code represents a failure of an external
// collaborator (billing provider, messaging gateway, email provider).
func (c ErrorCode) IsUpstream() bool {
	switch c {
	case ErrCodeUpstreamBilling, ErrCodeUpstreamGateway, ErrCodeUpstreamEmailProvider,
		ErrCodeUpstreamUnavailable, ErrCodeUpstreamRateLimited, ErrCodeUpstreamTimeout:
		return true
	default:
		return false
	}
}

// AppError is the standard application error type used throughout the
// platform. It carries a stable code for metrics and log filtering, and
// wraps the underlying cause for errors.Is/errors.As.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// CodeOf extracts the ErrorCode from an error chain. Returns
// ErrCodeInternalUnexpected when the chain holds no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternalUnexpected
}
