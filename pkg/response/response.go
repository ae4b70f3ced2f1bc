package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ppmt-amp-api/pkg/apierror"
)

// Envelope is the body of every successful catalog response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	// Data is always a non-nil slice on success so it renders as [] when empty.
	Data interface{} `json:"data,omitempty"`

	RateLimitRemaining *int       `json:"rateLimitRemaining,omitempty"`
	RateLimitReset     *time.Time `json:"rateLimitReset,omitempty"`
}

// Warm is the keepalive body.
type Warm struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Success builds a catalog envelope with quota information.
func Success(message string, data interface{}, remaining int, reset time.Time) Envelope {
	reset = reset.UTC()
	return Envelope{
		Success:            true,
		Message:            message,
		Data:               data,
		RateLimitRemaining: &remaining,
		RateLimitReset:     &reset,
	}
}

// JSON sends body as JSON with the given status code.
func JSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// Error sends an error response.
func Error(w http.ResponseWriter, err error) {
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		// Default to internal server error
		apiErr = apierror.InternalError("")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	w.Write(apiErr.ToJSON())
}

// OK sends a 200 OK response.
func OK(w http.ResponseWriter, body interface{}) {
	JSON(w, http.StatusOK, body)
}
