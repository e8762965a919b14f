// Package errors carries CLI exit codes.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Generic exit codes for errors that carry no specific code.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// ExitError is an error that also selects the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

// NewExitError wraps err with an exit code and a user-facing message.
func NewExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit code carried by err. Errors without one map
// to ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if stderrors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}
