package remote

import (
	"errors"
	"fmt"
)

// Sentinel errors for remote operations.
var (
	// ErrConnect indicates the channel could not be established.
	ErrConnect = errors.New("remote connection failed")

	// ErrAuth indicates the remote host rejected our credentials.
	// It is a ConnectFailure: errors.Is(err, ErrConnect) holds.
	ErrAuth = fmt.Errorf("%w: authentication failed", ErrConnect)

	// ErrTimeout indicates the operation exceeded its caller-specified bound.
	ErrTimeout = errors.New("remote operation timed out")

	// ErrDisconnected indicates an established channel dropped mid-operation.
	ErrDisconnected = errors.New("remote connection lost")
)

// Error wraps a transport failure with the operation context needed to
// diagnose it without rerunning.
type Error struct {
	// Op is the transport operation (e.g., "run", "copy", "dial").
	Op string

	// Host is the remote address, user@host.
	Host string

	// Command is the rendered command line, if applicable.
	Command string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	op := e.Op
	if e.Host != "" {
		op += " " + e.Host
	}
	if e.Command != "" {
		return fmt.Sprintf("%s: %q: %v", op, e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v", op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// CommandError reports a remote command that ran but exited non-zero where
// success was required.
type CommandError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("remote command %q exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// RequireSuccess converts a non-zero Result into a *CommandError.
func RequireSuccess(cmd Command, res *Result) error {
	if res.OK() {
		return nil
	}
	ce := &CommandError{Command: cmd.String(), ExitCode: -1}
	if res != nil {
		ce.ExitCode = res.ExitCode
		ce.Stdout = res.Stdout
		ce.Stderr = res.Stderr
	}
	return ce
}

// IsConnect returns true if the error indicates a connection failure,
// including authentication failures.
func IsConnect(err error) bool {
	return errors.Is(err, ErrConnect)
}

// IsAuth returns true if the error indicates an authentication failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsTimeout returns true if the error indicates the operation timed out.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsDisconnected returns true if the error indicates a dropped connection.
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrDisconnected)
}

// IsCommandFailure returns true if the error is a non-zero remote exit.
func IsCommandFailure(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}
