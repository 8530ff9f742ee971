package errors

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Stable application error codes surfaced to the desktop shell
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodePINRequired       = "PIN_REQUIRED"
	CodePINExpired        = "PIN_EXPIRED"
	CodePINMismatch       = "PIN_MISMATCH"
	CodeInvalidRecipient  = "INVALID_RECIPIENT"
	CodeMailDelivery      = "MAIL_DELIVERY_FAILED"
	CodeRetryLocked       = "RETRY_LOCKED"
	CodeRetryInFlight     = "RETRY_IN_FLIGHT"
	CodeDeviceBlocked     = "DEVICE_BLOCKED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeInternal          = "INTERNAL_SERVER_ERROR"
)

// Predefined error responses for common scenarios
var (
	ErrInvalidRequest = New(http.StatusBadRequest, CodeInvalidRequest, "Invalid request format")

	// ErrPINRequired is returned when a credential change arrives without a
	// verification code for the account email.
	ErrPINRequired = New(http.StatusPreconditionRequired, CodePINRequired, "A verification code is required. Request one for the account email first")

	// ErrPINExpired is the terminal expiry condition, distinct from a mismatch
	ErrPINExpired = New(http.StatusGone, CodePINExpired, "The verification code has expired. Request a new one")

	ErrPINMismatch = New(http.StatusUnprocessableEntity, CodePINMismatch, "The verification code does not match")

	ErrInvalidRecipient = New(http.StatusBadRequest, CodeInvalidRecipient, "No valid email address is configured for the account")

	// ErrRetryLocked is the terminal lockout condition; the shell shows the
	// "contact owner" screen rather than the ordinary retry-failed message.
	ErrRetryLocked = New(http.StatusLocked, CodeRetryLocked, "Too many validation attempts. Contact the application owner")

	ErrRetryInFlight = New(http.StatusConflict, CodeRetryInFlight, "A validation attempt is already in progress")

	ErrDeviceBlocked = New(http.StatusForbidden, CodeDeviceBlocked, "This device has been blocked by the license authority")

	ErrRateLimitExceeded = New(http.StatusTooManyRequests, CodeRateLimitExceeded, "Rate limit exceeded")

	ErrInternalServer = New(http.StatusInternalServerError, CodeInternal, "Internal server error")
)

// ValidationError represents a single field validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrValidation creates a validation error with field details
func ErrValidation(field, message string) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeValidationFailed, "Request validation failed", ValidationError{
		Field:   field,
		Message: message,
	})
}

// InvalidRequestWithError creates an invalid request error with details
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, CodeInvalidRequest, "Invalid request format", err.Error())
}

// MailDeliveryError wraps a mail collaborator failure
func MailDeliveryError(err error) *APIError {
	return NewWithDetails(http.StatusBadGateway, CodeMailDelivery, "Failed to deliver the verification code", err.Error())
}

// InternalError creates an internal error with a formatted message
func InternalError(format string, args ...interface{}) *APIError {
	return New(http.StatusInternalServerError, CodeInternal, fmt.Sprintf(format, args...))
}

// ErrorResponse represents the standard error envelope
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// NewErrorResponse creates a new error response envelope
func NewErrorResponse(err *APIError) *ErrorResponse {
	return &ErrorResponse{Success: false, Error: err}
}

// Render implements the render.Renderer interface
func (e *ErrorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return e.Error.Render(w, r)
}
