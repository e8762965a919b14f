package slurm

import (
	"fmt"
	"regexp"

	"github.com/ln2t/hpcjobs/pkg/remote"
)

// ProbeToken is echoed by the liveness probe.
const ProbeToken = "connected"

// Field separators. The query format strings and the parsers must agree.
const (
	liveSeparator       = "|"
	historicalSeparator = "|"
)

const (
	liveFormat       = "--format=%i|%T|%S|%e"
	historicalFormat = "--format=JobID,State,ExitCode,Reason,Start,End,Elapsed"
)

var jobIDPattern = regexp.MustCompile(`^[0-9]+(_[0-9]+)?$`)

// ValidateJobID rejects ids that SLURM could never have assigned.
func ValidateJobID(jobID string) error {
	if !jobIDPattern.MatchString(jobID) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	return nil
}

// ProbeCommand is the lightweight liveness check run before submission.
func ProbeCommand() remote.Command {
	return remote.NewCommand("echo", ProbeToken)
}

// MkdirCommand creates a remote directory and its parents.
func MkdirCommand(dir string) remote.Command {
	return remote.NewCommand("mkdir", "-p", dir)
}

// SubmitCommand submits script from inside dir.
func SubmitCommand(dir, script string) remote.Command {
	return remote.NewCommand("sbatch", script).InDir(dir)
}

// LiveQueryCommand lists the job in the live queue, one pipe-delimited line
// per job: id|state|start|end.
func LiveQueryCommand(jobID string) remote.Command {
	return remote.NewCommand("squeue", "-j", jobID, "--noheader", liveFormat)
}

// HistoricalQueryCommand lists the job and its steps from accounting, one
// pipe-delimited line each: id|state|exit[:signal]|reason|start|end|elapsed.
func HistoricalQueryCommand(jobID string) remote.Command {
	return remote.NewCommand("sacct", "-j", jobID, historicalFormat, "--parsable2", "--noheader")
}

// CancelCommand cancels a job. It is never issued implicitly; only an
// explicit user request reaches it.
func CancelCommand(jobID string) remote.Command {
	return remote.NewCommand("scancel", jobID)
}
