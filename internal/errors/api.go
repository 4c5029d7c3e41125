package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/go-chi/render"

	"aichemist/internal/license"
)

// APIError is the structured error body every endpoint returns on failure.
// ErrorCode mirrors the licensing error codes so the UI can switch on them.
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string { return e.Message }

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates an APIError
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message}
}

// NewWithDetails creates an APIError carrying extra context
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message, Details: details}
}

// Predefined errors for request-shape failures.
var (
	ErrInvalidRequest    = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrRateLimitExceeded = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many activation attempts, slow down")
	ErrInternalServer    = New(http.StatusInternalServerError, license.CodeInternal, "Internal server error")
)

// InvalidRequestWithError attaches the bind failure to the standard 400
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// statusForCode maps the stable licensing codes onto HTTP statuses
func statusForCode(code string) int {
	switch code {
	case license.CodeInvalidFormat, license.CodeMalformedPayload:
		return http.StatusBadRequest
	case license.CodeInvalidSignature:
		return http.StatusUnprocessableEntity
	case license.CodeActivationLimitReached:
		return http.StatusConflict
	case license.CodeLicenseNotFound:
		return http.StatusNotFound
	case license.CodeLicenseRevoked, license.CodeLicenseExpired,
		license.CodeFeatureNotLicensed, license.CodeConverterNotFree:
		return http.StatusForbidden
	case license.CodeNotActivated:
		return http.StatusConflict
	case license.CodeTrialLimit, license.CodeFileTooLarge:
		return http.StatusPaymentRequired
	case license.CodeNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FromLicenseError converts an engine error to its API shape. Unknown errors
// collapse to a generic 500 so internals never leak to the shell.
func FromLicenseError(err error) *APIError {
	code := license.CodeOf(err)
	if code == license.CodeInternal {
		return ErrInternalServer
	}
	message := err.Error()
	var le *license.Error
	if stderrors.As(err, &le) {
		message = le.Message
	}
	return New(statusForCode(code), code, message)
}

// RenderError writes an error response, falling back to plain 500
func RenderError(w http.ResponseWriter, r *http.Request, apiErr *APIError) {
	if err := render.Render(w, r, apiErr); err != nil {
		http.Error(w, apiErr.Message, http.StatusInternalServerError)
	}
}
