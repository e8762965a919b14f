package jobstore

import (
	"time"

	"github.com/ln2t/hpcjobs/pkg/slurm"
)

// JobInfo is the durable record of one submitted job.
//
// NOTE: The JSON field names are the on-disk contract of hpc_jobs.json.
// Extend additively; never rename.
type JobInfo struct {
	JobID       string `json:"job_id"`
	Tool        string `json:"tool"`
	Dataset     string `json:"dataset"`
	Participant string `json:"participant"`

	SubmitTime time.Time `json:"submit_time"`

	// State is the scheduler's raw state. Only the reconciler changes it
	// after submission.
	State slurm.RawState `json:"state"`

	ExitCode    *int   `json:"exit_code,omitempty"`
	Reason      string `json:"reason,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	ElapsedTime string `json:"elapsed_time,omitempty"`

	// Metadata is opaque extension data owned by the caller.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Status derives the canonical status of the stored observation.
func (j JobInfo) Status(m slurm.Markers) slurm.Status {
	return slurm.Derive(j.State, j.ExitCode, j.Reason, m)
}

// MetadataString returns a string metadata value, or "" when absent.
func (j JobInfo) MetadataString(key string) string {
	if v, ok := j.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// Metadata keys recorded by the submitter.
const (
	MetaSubmissionID = "submission_id"
	MetaJobName      = "job_name"
	MetaRemoteDir    = "remote_dir"
	MetaRemoteScript = "remote_script"
)
