// Package slurm holds the SLURM vocabulary used by hpcjobs: raw scheduler
// states, the canonical status derived from them, the remote commands that
// query and submit jobs, and the parsers for their output.
//
// Everything in this package is pure. Remote I/O lives in pkg/submit and
// pkg/reconcile.
package slurm

import "strings"

// RawState is the scheduler's fine-grained job state.
//
// NOTE: These values are persisted verbatim in the job store.
type RawState string

const (
	StatePending     RawState = "PENDING"
	StateConfiguring RawState = "CONFIGURING"
	StateRunning     RawState = "RUNNING"
	StateStageOut    RawState = "STAGE_OUT"
	StateCompleted   RawState = "COMPLETED"
	StateFailed      RawState = "FAILED"
	StateTimeout     RawState = "TIMEOUT"
	StateCancelled   RawState = "CANCELLED"
	StateCancelledP  RawState = "CANCELLED+"
	StateOutOfMemory RawState = "OUT_OF_MEMORY"
	StateNodeFail    RawState = "NODE_FAIL"
	StateUnknown     RawState = "UNKNOWN"

	// StateNotFound is reported when neither status source knows the job.
	// It is never written to the store.
	StateNotFound RawState = "NOT_FOUND"
)

// NormalizeState upper-cases a scheduler state and drops trailing
// annotations such as the "by <uid>" that sacct appends to CANCELLED.
func NormalizeState(s string) RawState {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return StateUnknown
	}
	return RawState(fields[0])
}

// Status is the canonical, coarse job status.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusTimedOut  Status = "TimedOut"
	StatusCancelled Status = "Cancelled"
	StatusError     Status = "Error"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether the job is still in the live queue.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Description returns a human-readable label.
func (s Status) Description() string {
	switch s {
	case StatusCompleted:
		return "Completed successfully"
	case StatusTimedOut:
		return "Timed out"
	case "":
		return "Unknown"
	default:
		return string(s)
	}
}

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}
