package cmd

import (
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/internal/config"
	"github.com/ln2t/hpcjobs/internal/observability"
	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/monitor"
	"github.com/ln2t/hpcjobs/pkg/output"
	"github.com/ln2t/hpcjobs/pkg/remote"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

var watchCmd = &cobra.Command{
	Use:   "watch <job_id>",
	Short: "Poll a job until it finishes",
	Long: `Poll a job's status at a fixed interval until it leaves the queue.

Ctrl-C stops watching; the job keeps running on the cluster.

Examples:
  hpcjobs watch 55821
  hpcjobs watch 55821 --interval 30s --json`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	watchInterval time.Duration
	watchJSON     bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Poll interval (default slurm.poll_interval)")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Output JSONL records")
}

func runWatch(cmd *cobra.Command, args []string) error {
	c := currentConfig()
	jobID := args[0]
	if err := slurm.ValidateJobID(jobID); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job id", err)
	}
	interval := watchInterval
	if interval <= 0 {
		interval = c.Slurm.PollInterval
	}

	t, err := newTransport(c)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()

	return watchJob(cmd, c, t, openStore(c), jobID, interval, watchJSON)
}

// watchJob polls until the job ends or the command context is cancelled.
func watchJob(cmd *cobra.Command, c *config.Config, t remote.Transport, store *jobstore.Store, jobID string, interval time.Duration, jsonOut bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	r := newReconciler(c, t, store)

	var reporter monitor.ReporterFunc
	if jsonOut {
		w := newJSONWriter(c, out)
		defer func() { _ = w.Close() }()
		reporter = func(e monitor.Event) {
			rec := &output.ProgressRecord{JobID: e.JobID, Poll: e.Poll, Status: e.Status.String(), State: string(e.Detail.State)}
			if e.Err != nil {
				rec.Error = e.Err.Error()
			}
			_ = w.WriteProgress(ctx, rec)
		}
	} else {
		reporter = func(e monitor.Event) {
			stamp := time.Now().Format(time.TimeOnly)
			if e.Err != nil {
				_, _ = fmt.Fprintf(out, "[%s] poll %d: query failed: %v\n", stamp, e.Poll, e.Err)
				return
			}
			_, _ = fmt.Fprintf(out, "[%s] poll %d: %s %s\n", stamp, e.Poll, output.StatusSymbol(e.Status), e.Status)
		}
	}

	m := monitor.New(retrying(c, r), reporter, observability.CLILogger.Named("monitor"))
	outcome, err := m.Watch(ctx, jobID, interval)
	if err != nil {
		return fail("Watch failed", err, zap.String("job_id", jobID))
	}

	if outcome.Detached {
		_, _ = fmt.Fprintf(out, "Stopped watching job %s after %d polls; last status %s. The job is still on the cluster.\n",
			jobID, outcome.Polls, outcome.Status)
		return nil
	}
	if jsonOut {
		return nil
	}

	info, ok := store.Get(jobID)
	if !ok {
		info = jobstore.JobInfo{JobID: jobID, State: outcome.Detail.State}
	}
	_, _ = fmt.Fprint(out, output.FormatReport(info, outcome.Status))
	return nil
}
