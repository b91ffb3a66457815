package tidal

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a Tidal API error response.
type Error struct {
	Status  int    // HTTP status code
	Code    string // Tidal error code, when present
	Message string // Error message from Tidal
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tidal: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("tidal: %d: %s", e.Status, e.Message)
}

// NotFound reports whether the error means the requested resource does not
// exist. Callers record these as negative cache facts rather than retrying.
func (e *Error) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// Temporary reports whether the request may succeed if retried.
func (e *Error) Temporary() bool {
	switch e.Status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Predefined errors for common cases.
var (
	// ErrNotFound is returned when a catalogue item or search produced no
	// result.
	ErrNotFound = errors.New("tidal: not found")

	// ErrNoAccessToken is returned when an operation requires a user token
	// but none was provided.
	ErrNoAccessToken = errors.New("tidal: access token required")
)

// IsNotFound reports whether err represents a definitive absence: either
// ErrNotFound or an API 404.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.NotFound()
}
