package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/internal/config"
	"github.com/ln2t/hpcjobs/internal/observability"
	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/output"
	"github.com/ln2t/hpcjobs/pkg/reconcile"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id...]",
	Short: "Query the current status of jobs",
	Long: `Query SLURM for the status of one or more jobs and record the result.

The live queue (squeue) is consulted first; jobs that have left it are
looked up in accounting (sacct). A final status already on record is never
overwritten by a contradicting observation.

With --all, every recorded job that has not reached a final status is
refreshed, several at a time.

Examples:
  hpcjobs status 55821
  hpcjobs status 55821 55822 55823
  hpcjobs status --all --json`,
	RunE: runStatus,
}

var (
	statusAll  bool
	statusJSON bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "Refresh every recorded job that is not final")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output JSONL records")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := currentConfig()

	if statusAll && len(args) > 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("--all cannot be combined with job ids"))
	}
	if !statusAll && len(args) == 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", fmt.Errorf("give at least one job id, or --all"))
	}
	for _, id := range args {
		if err := slurm.ValidateJobID(id); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid job id", err)
		}
	}

	store := openStore(c)
	ids := args
	if statusAll {
		ids = pendingJobIDs(store, c.Markers())
		if len(ids) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No unfinished jobs recorded.")
			return nil
		}
	}

	t, err := newTransport(c)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()
	r := newReconciler(c, t, store)

	start := time.Now()
	var results []reconcile.Result
	if len(ids) == 1 {
		status, detail, err := retrying(c, r).Query(ctx, ids[0])
		results = []reconcile.Result{{JobID: ids[0], Status: status, Detail: detail, Err: err}}
	} else {
		results = r.QueryAll(ctx, ids, reconcile.BatchOptions{Workers: c.Workers, RateLimit: c.RateLimit})
	}

	if statusJSON {
		if err := writeStatusRecords(ctx, c, cmd.OutOrStdout(), results, time.Since(start)); err != nil {
			return err
		}
	} else {
		printStatusReports(cmd.OutOrStdout(), store, results)
	}
	return statusExit(ctx, results)
}

// pendingJobIDs returns recorded jobs whose stored status is not final.
func pendingJobIDs(store *jobstore.Store, m slurm.Markers) []string {
	var ids []string
	for _, j := range store.All() {
		if !j.Status(m).Terminal() {
			ids = append(ids, j.JobID)
		}
	}
	return ids
}

// reportInfo returns the stored record for a result, or one built from the
// observation when the write-back failed.
func reportInfo(store *jobstore.Store, res reconcile.Result) jobstore.JobInfo {
	if info, ok := store.Get(res.JobID); ok {
		return info
	}
	d := res.Detail
	return jobstore.JobInfo{
		JobID:       res.JobID,
		State:       d.State,
		ExitCode:    d.ExitCode,
		Reason:      d.Reason,
		StartTime:   d.StartTime,
		EndTime:     d.EndTime,
		ElapsedTime: d.Elapsed,
	}
}

func printStatusReports(w io.Writer, store *jobstore.Store, results []reconcile.Result) {
	for i, res := range results {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		if res.Err != nil {
			if slurm.IsNotFound(res.Err) {
				_, _ = fmt.Fprintf(w, "%s Job %s - not found in queue or accounting\n", output.StatusSymbol(slurm.StatusError), res.JobID)
				continue
			}
			_, _ = fmt.Fprintf(w, "%s Job %s - query failed: %v\n", output.StatusSymbol(""), res.JobID, res.Err)
			continue
		}
		_, _ = fmt.Fprint(w, output.FormatReport(reportInfo(store, res), res.Status))
		if res.Detail.Retained {
			_, _ = fmt.Fprintf(w, "  Note: scheduler reported %s; recorded final status kept\n", res.Detail.State)
		}
	}
}

func writeStatusRecords(ctx context.Context, c *config.Config, out io.Writer, results []reconcile.Result, elapsed time.Duration) error {
	w := newJSONWriter(c, out)
	defer func() { _ = w.Close() }()

	summary := &output.SummaryRecord{Jobs: len(results), ByStatus: map[string]int{}}
	for _, res := range results {
		if res.Err != nil {
			summary.Errors++
			if err := w.WriteError(ctx, output.NewErrorRecord(res.JobID, res.Err)); err != nil {
				return err
			}
			continue
		}
		summary.ByStatus[res.Status.String()]++
		if err := w.WriteStatus(ctx, output.NewStatusRecord(res.Status, res.Detail)); err != nil {
			return err
		}
	}
	if len(results) > 1 {
		summary.Duration = elapsed
		summary.DurationHuman = elapsed.Round(time.Millisecond).String()
		return w.WriteSummary(ctx, summary)
	}
	return nil
}

// statusExit picks the exit code from the first failed query.
func statusExit(ctx context.Context, results []reconcile.Result) error {
	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "Status query cancelled", ctx.Err())
	}
	failed := 0
	var first reconcile.Result
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		if failed == 0 {
			first = res
		}
		failed++
		observability.CLILogger.Debug("Status query failed", zap.String("job_id", res.JobID), zap.Error(res.Err))
	}
	if failed == 0 {
		return nil
	}
	msg := fmt.Sprintf("Status query failed for job %s", first.JobID)
	if failed > 1 {
		msg = fmt.Sprintf("Status query failed for %d of %d jobs", failed, len(results))
	}
	return exitError(exitCodeFor(first.Err), msg, first.Err)
}
