package transport

import (
	"errors"
	"time"

	"github.com/statwerk/istat-client/pkg/normalize"
)

// ExitCode is the stable exit-code taxonomy surfaced to callers and, via the
// CLI, to the operating system.
type ExitCode int

const (
	ExitSuccess      ExitCode = 0
	ExitGenericError ExitCode = 1
	ExitTimeout      ExitCode = 2
	ExitRateLimited  ExitCode = 3
)

// ApiResult is returned from every orchestrator-level operation. Expected
// failure modes never escape as raw errors from the public API; they are
// folded into the result.
type ApiResult struct {
	Success   bool
	Data      *normalize.Table
	ExitCode  ExitCode
	Message   string
	Checksum  string
	IsTimeout bool
	Timestamp time.Time
}

// SuccessResult builds a successful result for the given canonical table.
func SuccessResult(data *normalize.Table, checksum, message string) ApiResult {
	return ApiResult{
		Success:   true,
		Data:      data,
		ExitCode:  ExitSuccess,
		Message:   message,
		Checksum:  checksum,
		Timestamp: time.Now(),
	}
}

// FailureResult folds an error into the result taxonomy.
func FailureResult(err error) ApiResult {
	result := ApiResult{
		Success:   false,
		ExitCode:  ExitGenericError,
		Message:   err.Error(),
		Timestamp: time.Now(),
	}

	if errors.Is(err, ErrBanSuspected) {
		result.ExitCode = ExitRateLimited
		return result
	}

	kind := normalize.Classify(err, StatusFromError(err))
	result.ExitCode = ExitCode(kind.ExitCode())
	result.IsTimeout = kind == normalize.FailureTimeout
	return result
}
