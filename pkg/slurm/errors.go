package slurm

import (
	"errors"
	"fmt"
)

// Sentinel errors for scheduler interactions.
var (
	// ErrNotFound indicates neither status source knows the job id.
	// It is terminal: the outcome cannot be determined, which is not the
	// same as the job having failed.
	ErrNotFound = errors.New("job not found in live queue or accounting")

	// ErrSubmissionParse indicates sbatch accepted the script but replied in
	// an unexpected shape.
	ErrSubmissionParse = errors.New("unexpected submission output")

	// ErrInvalidJobID indicates a malformed job id.
	ErrInvalidJobID = errors.New("invalid job id")

	// ErrMalformedOutput indicates a status query returned unparsable output.
	ErrMalformedOutput = errors.New("malformed scheduler output")
)

// SubmissionParseError carries the raw sbatch output for diagnosis.
type SubmissionParseError struct {
	Output string
}

// Error implements the error interface.
func (e *SubmissionParseError) Error() string {
	return fmt.Sprintf("%v: %q", ErrSubmissionParse, e.Output)
}

// Unwrap returns ErrSubmissionParse.
func (e *SubmissionParseError) Unwrap() error {
	return ErrSubmissionParse
}

// ParseError carries unparsable status output.
type ParseError struct {
	// Source is the feed that produced the output.
	Source Source

	// Output is the raw command output.
	Output string

	// Detail describes what was wrong.
	Detail string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%v (%s): %s: %q", ErrMalformedOutput, e.Source, e.Detail, e.Output)
}

// Unwrap returns ErrMalformedOutput.
func (e *ParseError) Unwrap() error {
	return ErrMalformedOutput
}

// IsNotFound returns true if the job is unknown to the scheduler.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsSubmissionParse returns true if sbatch output could not be parsed.
func IsSubmissionParse(err error) bool {
	return errors.Is(err, ErrSubmissionParse)
}
