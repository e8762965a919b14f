package output

import (
	"errors"

	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/reconcile"
	"github.com/ln2t/hpcjobs/pkg/remote"
	"github.com/ln2t/hpcjobs/pkg/script"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

// NewJobRecord converts a stored job.
func NewJobRecord(j jobstore.JobInfo, m slurm.Markers) *JobRecord {
	return &JobRecord{
		JobID:       j.JobID,
		Tool:        j.Tool,
		Dataset:     j.Dataset,
		Participant: j.Participant,
		SubmitTime:  j.SubmitTime,
		State:       string(j.State),
		Status:      j.Status(m).String(),
		ExitCode:    j.ExitCode,
		Reason:      j.Reason,
		StartTime:   j.StartTime,
		EndTime:     j.EndTime,
		ElapsedTime: j.ElapsedTime,
		Metadata:    j.Metadata,
	}
}

// NewStatusRecord converts a reconciled status.
func NewStatusRecord(status slurm.Status, d reconcile.Detail) *StatusRecord {
	return &StatusRecord{
		JobID:     d.JobID,
		Status:    status.String(),
		Source:    string(d.Source),
		State:     string(d.State),
		ExitCode:  d.ExitCode,
		Reason:    d.Reason,
		StartTime: d.StartTime,
		EndTime:   d.EndTime,
		Elapsed:   d.Elapsed,
		Retained:  d.Retained,
	}
}

// NewErrorRecord classifies err.
func NewErrorRecord(jobID string, err error) *ErrorRecord {
	rec := &ErrorRecord{Code: ErrorCode(err), Message: err.Error(), JobID: jobID}

	var pe *slurm.SubmissionParseError
	var ce *remote.CommandError
	switch {
	case errors.As(err, &pe):
		rec.Details = map[string]string{"output": pe.Output}
	case errors.As(err, &ce):
		rec.Details = map[string]any{"command": ce.Command, "exit_code": ce.ExitCode, "stderr": ce.Stderr}
	}
	return rec
}

// ErrorCode maps an error to its machine-readable code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, script.ErrInvalidDescriptor), errors.Is(err, slurm.ErrInvalidJobID):
		return ErrCodeInvalid
	case remote.IsConnect(err):
		return ErrCodeConnect
	case remote.IsTimeout(err):
		return ErrCodeTimeout
	case slurm.IsNotFound(err):
		return ErrCodeNotFound
	case slurm.IsSubmissionParse(err):
		return ErrCodeSubmissionParse
	case remote.IsCommandFailure(err), remote.IsDisconnected(err), errors.Is(err, slurm.ErrMalformedOutput):
		return ErrCodeRemoteCommand
	default:
		return ErrCodeInternal
	}
}
