// Package remote talks to the backend holding the server copy of work records
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when the server has no matching record
	ErrNotFound = errors.New("record not found on server")

	// ErrSessionExpired is returned before any request when the session token has expired
	ErrSessionExpired = errors.New("unauthorized: session token expired")
)

// APIError represents an error response from the backend
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Code       string `json:"code,omitempty"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d: %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether repeating the request may succeed
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// IsAuth reports whether the error is an authentication failure
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
