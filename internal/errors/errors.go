// Package errors shapes engine failures into structured API error
// responses. Business-rule kinds map to stable HTTP status codes so
// clients can branch without parsing message text.
package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/go-chi/render"

	"poscore/internal/entitlement"
)

// APIError represents a structured API error response.
type APIError struct {
	StatusCode int    `json:"status_code"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render.
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError.
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message}
}

// NewWithDetails creates a new APIError with additional details.
func NewWithDetails(statusCode int, errorCode, message string, details any) *APIError {
	return &APIError{StatusCode: statusCode, ErrorCode: errorCode, Message: message, Details: details}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidRequest = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrUnauthorized   = New(http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	ErrForbidden      = New(http.StatusForbidden, "FORBIDDEN", "Access denied")
	ErrNotFound       = New(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
	ErrRateLimited    = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests; try again later")
)

// kindStatus maps engine error kinds to HTTP status codes.
var kindStatus = map[entitlement.Kind]int{
	entitlement.KindNotFound:         http.StatusNotFound,
	entitlement.KindInvalidState:     http.StatusUnprocessableEntity,
	entitlement.KindCreditsExhausted: http.StatusPaymentRequired,
	entitlement.KindConflict:         http.StatusConflict,
	entitlement.KindUnauthorized:     http.StatusForbidden,
	entitlement.KindExpired:          http.StatusForbidden,
	entitlement.KindValidation:       http.StatusBadRequest,
}

// FromEngine converts an engine failure to its API representation.
// Unclassified errors (storage down and the like) become opaque 500s;
// their detail stays in the server log, not the response.
func FromEngine(err error) *APIError {
	kind := entitlement.KindOf(err)
	if kind == "" {
		return ErrInternalServer
	}
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	var engErr *entitlement.Error
	message := err.Error()
	if stderrors.As(err, &engErr) {
		message = engErr.Message
	}
	apiErr := New(status, string(kind), message)
	if engErr != nil && engErr.Op != "" {
		apiErr.Details = map[string]string{"operation": engErr.Op}
	}
	return apiErr
}

// InvalidRequestWithError creates an invalid request error with details.
func InvalidRequestWithError(err error) *APIError {
	return NewWithDetails(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format", err.Error())
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// NewErrorResponse wraps an APIError in the standard envelope.
func NewErrorResponse(err *APIError) *ErrorResponse {
	return &ErrorResponse{Success: false, Error: err}
}

// Render implements the render.Renderer interface.
func (e *ErrorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return e.Error.Render(w, r)
}
