package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

var statusSymbols = map[slurm.Status]string{
	slurm.StatusPending:   "⏳",
	slurm.StatusRunning:   "▶️",
	slurm.StatusCompleted: "✅",
	slurm.StatusFailed:    "❌",
	slurm.StatusTimedOut:  "⏱️",
	slurm.StatusCancelled: "⛔",
	slurm.StatusError:     "⚠️",
}

// StatusSymbol returns the marker shown next to a status.
func StatusSymbol(s slurm.Status) string {
	if sym, ok := statusSymbols[s]; ok {
		return sym
	}
	return "❓"
}

// FormatReport renders a human-readable status report for one job.
// Empty optional fields are left out.
func FormatReport(j jobstore.JobInfo, status slurm.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Job %s - %s\n", StatusSymbol(status), j.JobID, status.Description())
	fmt.Fprintf(&b, "  Tool: %s\n", j.Tool)
	fmt.Fprintf(&b, "  Dataset: %s\n", j.Dataset)
	fmt.Fprintf(&b, "  Participant: %s\n", j.Participant)
	if !j.SubmitTime.IsZero() {
		fmt.Fprintf(&b, "  Submitted: %s\n", j.SubmitTime.Local().Format(time.DateTime))
	}

	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "  %s: %s\n", label, value)
		}
	}
	line("State", string(j.State))
	line("Started", j.StartTime)
	line("Ended", j.EndTime)
	line("Duration", j.ElapsedTime)
	if j.ExitCode != nil {
		fmt.Fprintf(&b, "  Exit Code: %d\n", *j.ExitCode)
	}
	line("Reason", j.Reason)
	line("Log", logPath(j))
	return b.String()
}

func logPath(j jobstore.JobInfo) string {
	dir := j.MetadataString(jobstore.MetaRemoteDir)
	name := j.MetadataString(jobstore.MetaJobName)
	if dir == "" || name == "" || j.JobID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s_%s.out", strings.TrimRight(dir, "/"), name, j.JobID)
}

// FormatTable renders one line per job for list views.
func FormatTable(jobs []jobstore.JobInfo, m slurm.Markers) string {
	if len(jobs) == 0 {
		return "No jobs recorded.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-10s %-16s %-12s %-14s %-12s %s\n",
		"JOB ID", "STATUS", "TOOL", "DATASET", "PARTICIPANT", "STATE", "SUBMITTED")
	for _, j := range jobs {
		submitted := ""
		if !j.SubmitTime.IsZero() {
			submitted = j.SubmitTime.Local().Format(time.DateTime)
		}
		fmt.Fprintf(&b, "%-12s %-10s %-16s %-12s %-14s %-12s %s\n",
			j.JobID, j.Status(m), j.Tool, j.Dataset, j.Participant, j.State, submitted)
	}
	return b.String()
}
