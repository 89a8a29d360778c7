package normalize

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// FailureKind classifies a failed operation for the stable exit-code
// taxonomy.
type FailureKind string

const (
	FailureUnknown      FailureKind = "unknown"
	FailureTimeout      FailureKind = "timeout"
	FailureConnectivity FailureKind = "connectivity"
	FailureHTTPStatus   FailureKind = "http_status"
	FailureRateLimited  FailureKind = "rate_limited"
	FailureParse        FailureKind = "parse"
)

// Classify maps an error and/or HTTP status code to a failure kind.
// statusCode is zero when no HTTP response was received.
func Classify(err error, statusCode int) FailureKind {
	if statusCode == http.StatusTooManyRequests {
		return FailureRateLimited
	}
	if statusCode >= 400 {
		return FailureHTTPStatus
	}

	if err == nil {
		return FailureUnknown
	}
	if errors.Is(err, ErrParse) {
		return FailureParse
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureConnectivity
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureConnectivity
	}
	return FailureUnknown
}

// ExitCode maps the failure kind to the stable exit-code taxonomy:
// 1 generic error, 2 timeout, 3 rate limited.
func (k FailureKind) ExitCode() int {
	switch k {
	case FailureTimeout:
		return 2
	case FailureRateLimited:
		return 3
	default:
		return 1
	}
}
