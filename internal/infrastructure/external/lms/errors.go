package lms

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNoCredentials is returned when neither the caller nor the configuration
// supplies credentials.
var ErrNoCredentials = errors.New("no LMS credentials configured")

// StatusError is a non-2xx response from the LMS.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unauthorized reports a 401.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// Rejected reports a client error that is not about timing: the request will
// fail the same way if repeated.
func (e *StatusError) Rejected() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	return e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

// ServerSide reports a 5xx, 408 or 429, the statuses that say nothing about the request itself.
func (e *StatusError) ServerSide() bool {
	return !e.Rejected()
}

// TransportError is a failure to complete an HTTP exchange: dial, TLS, timeout,
// or reading the body.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AsStatus extracts a StatusError from err.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
