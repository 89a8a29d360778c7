package protocol

import "fmt"

// ValidationError describes an invalid caller-supplied parameter. Validation
// errors are raised before any network call and are never retried.
type ValidationError struct {
	Param  string
	Value  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Param, e.Value, e.Reason)
}

func validationErr(param, value, reason string) *ValidationError {
	return &ValidationError{Param: param, Value: value, Reason: reason}
}
