package transport

import (
	"errors"
	"fmt"
)

// Common errors returned by the transport.
var (
	// ErrBanSuspected is returned when the consecutive-429 threshold is
	// reached; the current request's retries are aborted and the operator
	// should let the client cool down.
	ErrBanSuspected = errors.New("temporary ban suspected")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// HTTPStatusError represents a non-2xx response from the service.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("service returned status %d (%s)", e.StatusCode, e.Status)
}

// StatusFromError extracts the HTTP status code carried by err, or zero when
// no response was received.
func StatusFromError(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
