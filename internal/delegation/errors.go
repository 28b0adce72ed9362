package delegation

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotConfigured is returned when the client lacks a base URL or organization.
var ErrNotConfigured = errors.New("delegation client is not configured")

// APIError is a non-2xx response from the remote agent API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote agent returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("remote agent returned %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the request may succeed if retried.
func (e *APIError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsTransient reports whether err is worth retrying. Transport failures
// (no response at all) are transient; 4xx API errors other than 429 are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var transport *transportError
	return errors.As(err, &transport)
}

// IsNotFound reports whether err is a 404 from the remote agent.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// transportError marks failures where no HTTP response was received.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return fmt.Sprintf("request failed: %v", e.err) }
func (e *transportError) Unwrap() error { return e.err }
