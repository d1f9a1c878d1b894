package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"

	"feedbackgate/internal/types"
)

// APIResponse wraps a successful payload as {"data": ...}.
type APIResponse struct {
	Data any `json:"data"`
}

// APIErrorResponse wraps a failure as {"error": {...}}.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// errCodeValidation only exists on the ops surface: bad query parameters.
const errCodeValidation types.ErrorCode = "validation_invalid_parameter"

var statusByCode = map[types.ErrorCode]int{
	types.ErrCodeNotFoundAccount:     http.StatusNotFound,
	types.ErrCodeNotFoundInstance:    http.StatusNotFound,
	types.ErrCodeNotFoundJob:         http.StatusNotFound,
	types.ErrCodeConflictJobRunning:  http.StatusConflict,
	types.ErrCodeConflictTransition:  http.StatusConflict,
	errCodeValidation:                http.StatusBadRequest,
	types.ErrCodeUpstreamTimeout:     http.StatusGatewayTimeout,
	types.ErrCodeUpstreamRateLimited: http.StatusTooManyRequests,
}

// JSON encodes data before touching the response so an encoding failure can
// still be reported as a clean 500.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(APIErrorResponse{Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "failed to encode response",
			RequestID: middleware.GetReqID(r.Context()),
		}})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error renders err. An AppError keeps its code, message and details; an
// upstream Retry-After hint is echoed as a header. Any other error is hidden
// behind internal_unexpected_error.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	detail := ErrorDetail{
		Code:      string(types.ErrCodeInternalUnexpected),
		Message:   "an unexpected error occurred",
		RequestID: middleware.GetReqID(r.Context()),
	}
	status := http.StatusInternalServerError

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		detail.Code, detail.Message, detail.Details = string(appErr.Code), appErr.Message, appErr.Details
		status = statusFor(appErr.Code)
		if secs, ok := appErr.Details["retry_after_seconds"].(int); ok && secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
	JSON(w, r, status, APIErrorResponse{Error: detail})
}

func statusFor(code types.ErrorCode) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	if code.IsUpstream() {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
