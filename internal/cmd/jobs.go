package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/output"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect recorded jobs",
	Long: `Inspect the local job store without contacting the cluster.

Statuses shown here are the last ones recorded; run 'hpcjobs status' to
refresh them.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs, newest first",
	Long: `List recorded jobs, newest first.

Examples:
  hpcjobs jobs list
  hpcjobs jobs list --tool freesurfer --dataset ds001
  hpcjobs jobs list --match-tool 'fmri*' --json`,
	Args: cobra.NoArgs,
	RunE: runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show one recorded job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var (
	jobsTool         string
	jobsDataset      string
	jobsMatchTool    string
	jobsMatchDataset string
	jobsJSON         bool
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)

	jobsListCmd.Flags().StringVar(&jobsTool, "tool", "", "Only jobs of this tool")
	jobsListCmd.Flags().StringVar(&jobsDataset, "dataset", "", "Only jobs of this dataset")
	jobsListCmd.Flags().StringVar(&jobsMatchTool, "match-tool", "", "Glob pattern on tool")
	jobsListCmd.Flags().StringVar(&jobsMatchDataset, "match-dataset", "", "Glob pattern on dataset")
	jobsListCmd.Flags().BoolVar(&jobsJSON, "json", false, "Output JSONL records")
	jobsShowCmd.Flags().BoolVar(&jobsJSON, "json", false, "Output as JSON")
}

// listJobs applies the exact filters first, then the glob filters.
func listJobs(store *jobstore.Store) ([]jobstore.JobInfo, error) {
	var jobs []jobstore.JobInfo
	switch {
	case jobsTool != "":
		jobs = store.ByTool(jobsTool)
	case jobsDataset != "":
		jobs = store.ByDataset(jobsDataset)
	default:
		jobs = store.All()
	}
	if jobsTool != "" && jobsDataset != "" {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Dataset == jobsDataset {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	if jobsMatchTool == "" && jobsMatchDataset == "" {
		return jobs, nil
	}

	matched, err := store.Match(jobsMatchTool, jobsMatchDataset)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(matched))
	for _, j := range matched {
		keep[j.JobID] = true
	}
	out := make([]jobstore.JobInfo, 0, len(jobs))
	for _, j := range jobs {
		if keep[j.JobID] {
			out = append(out, j)
		}
	}
	return out, nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	c := currentConfig()
	store := openStore(c)

	jobs, err := listJobs(store)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid filter", err)
	}

	if !jobsJSON {
		_, err := fmt.Fprint(cmd.OutOrStdout(), output.FormatTable(jobs, c.Markers()))
		return err
	}
	w := newJSONWriter(c, cmd.OutOrStdout())
	defer func() { _ = w.Close() }()
	for _, j := range jobs {
		if err := w.WriteJob(cmd.Context(), output.NewJobRecord(j, c.Markers())); err != nil {
			return err
		}
	}
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	c := currentConfig()
	jobID := args[0]
	if err := slurm.ValidateJobID(jobID); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job id", err)
	}

	info, ok := openStore(c).Get(jobID)
	if !ok {
		return exitError(foundry.ExitFileNotFound, "Job not recorded", fmt.Errorf("job %s is not in the job store", jobID))
	}

	if jobsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(output.NewJobRecord(info, c.Markers()))
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), output.FormatReport(info, info.Status(c.Markers())))
	return err
}
