// Package output provides JSONL output for job lifecycle events.
//
// Output is structured as typed record envelopes containing job records,
// status observations, watch progress and errors. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: hpcjobs.<type>.v<version>
const (
	// TypeJob identifies stored job records.
	TypeJob = "hpcjobs.job.v1"

	// TypeSubmission identifies successful submissions.
	TypeSubmission = "hpcjobs.submission.v1"

	// TypeStatus identifies reconciled status observations.
	TypeStatus = "hpcjobs.status.v1"

	// TypeProgress identifies watch poll updates.
	TypeProgress = "hpcjobs.progress.v1"

	// TypeError identifies error records.
	TypeError = "hpcjobs.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "hpcjobs.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "hpcjobs.status.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID correlates all records of one invocation.
	RunID string `json:"run_id"`

	// Host is the remote cluster, user@host.
	Host string `json:"host,omitempty"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is a stored job with its derived status.
type JobRecord struct {
	JobID       string         `json:"job_id"`
	Tool        string         `json:"tool"`
	Dataset     string         `json:"dataset"`
	Participant string         `json:"participant"`
	SubmitTime  time.Time      `json:"submit_time"`
	State       string         `json:"state"`
	Status      string         `json:"status"`
	ExitCode    *int           `json:"exit_code,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	StartTime   string         `json:"start_time,omitempty"`
	EndTime     string         `json:"end_time,omitempty"`
	ElapsedTime string         `json:"elapsed_time,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SubmissionRecord is the data payload for a successful submission.
type SubmissionRecord struct {
	JobID        string `json:"job_id"`
	SubmissionID string `json:"submission_id,omitempty"`
	JobName      string `json:"job_name"`
	RemoteDir    string `json:"remote_dir"`
	RemoteScript string `json:"remote_script"`
	LogPath      string `json:"log_path,omitempty"`
}

// StatusRecord is the data payload for one reconciled status.
type StatusRecord struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Source    string `json:"source"`
	State     string `json:"state"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
	Elapsed   string `json:"elapsed_time,omitempty"`

	// Retained is set when a stored final status was kept over a
	// contradicting live observation.
	Retained bool `json:"retained,omitempty"`
}

// ProgressRecord is the data payload for a watch poll.
type ProgressRecord struct {
	JobID  string `json:"job_id"`
	Poll   int    `json:"poll"`
	Status string `json:"status"`
	State  string `json:"state,omitempty"`

	// Error is set when the poll failed; the watch continues.
	Error string `json:"error,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing a whole batch,
// allowing partial results when some queries fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// JobID is the job related to this error, if applicable.
	JobID string `json:"job_id,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeConnect         = "CONNECT_FAILED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeSubmissionParse = "SUBMISSION_PARSE"
	ErrCodeInvalid         = "INVALID_DESCRIPTOR"
	ErrCodeRemoteCommand   = "REMOTE_COMMAND"
	ErrCodeInternal        = "INTERNAL"
)

// SummaryRecord is the data payload for a batch summary.
type SummaryRecord struct {
	// Jobs is the number of jobs queried.
	Jobs int `json:"jobs"`

	// ByStatus counts jobs per canonical status.
	ByStatus map[string]int `json:"by_status"`

	// Errors is the number of failed queries.
	Errors int `json:"errors"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
