package apierror

import (
	"encoding/json"
	"net/http"
	"time"
)

// Error represents a rejected request. It marshals to the public error shape
// {success:false, message}; Code is for logs and metrics only.
type Error struct {
	StatusCode int
	Code       string
	Message    string

	// ResetAt is set on rate-limit rejections.
	ResetAt *time.Time
}

// New creates an error with an explicit status and code.
func New(statusCode int, code, message string) *Error {
	return &Error{StatusCode: statusCode, Code: code, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// MarshalJSON renders the public error body.
func (e *Error) MarshalJSON() ([]byte, error) {
	body := map[string]interface{}{
		"success": false,
		"message": e.Message,
	}
	if e.ResetAt != nil {
		body["rateLimitRemaining"] = 0
		body["rateLimitReset"] = e.ResetAt.UTC()
	}
	return json.Marshal(body)
}

// ToJSON converts the error to JSON bytes.
func (e *Error) ToJSON() []byte {
	data, _ := e.MarshalJSON()
	return data
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(code, message string) *Error {
	return New(http.StatusBadRequest, code, message)
}

// Forbidden creates a 403 Forbidden error.
func Forbidden(code, message string) *Error {
	if message == "" {
		message = "Access denied"
	}
	return New(http.StatusForbidden, code, message)
}

// TooManyRequests creates a 429 error carrying the quota reset instant.
func TooManyRequests(message string, resetAt time.Time) *Error {
	e := New(http.StatusTooManyRequests, "RATE_LIMITED", message)
	e.ResetAt = &resetAt
	return e
}

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return New(http.StatusNotFound, "NOT_FOUND", message)
}

// MethodNotAllowed creates a 405 error.
func MethodNotAllowed() *Error {
	return New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
}

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return New(http.StatusInternalServerError, "INTERNAL_ERROR", message)
}
