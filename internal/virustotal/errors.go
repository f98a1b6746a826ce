// ABOUTME: Typed errors for the analysis service client
// ABOUTME: Classifies connection, rate limit, and service failures with HTTP status codes

package virustotal

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for machine-readable classification.
const (
	CodeConnection = "connection_error"
	CodeService    = "service_error"
	CodeDecode     = "decode_error"
)

// ErrEmptyAnalysisID is returned when a submission succeeds without an id.
var ErrEmptyAnalysisID = errors.New("response did not contain an analysis id")

// APIError is returned for every failed call to the analysis service.
type APIError struct {
	// Code is one of the Code* constants.
	Code string

	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int

	// RemoteCode is the service's own error code (e.g. "QuotaExceededError").
	RemoteCode string

	Message string
	Cause   error
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.RemoteCode != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.RemoteCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP status carried by err, or zero.
func StatusCode(err error) int {
	var e *APIError
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// IsConnectionError reports whether err is or wraps a connection error.
func IsConnectionError(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Code == CodeConnection
}

// IsServiceError reports whether err is or wraps a non-2xx response.
func IsServiceError(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Code == CodeService
}

// IsRateLimited reports whether the service rejected the call for quota reasons.
func IsRateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}

// IsRetryable reports whether an error should count against the circuit
// breaker. Client errors other than 429 are the caller's fault.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *APIError
	if !errors.As(err, &e) {
		return true
	}
	if e.Code != CodeService {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}
