package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/internal/observability"
	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/output"
	"github.com/ln2t/hpcjobs/pkg/script"
	"github.com/ln2t/hpcjobs/pkg/submit"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job to the cluster",
	Long: `Render a SLURM batch script for one tool/dataset/participant, copy it
to the cluster and submit it with sbatch.

The job is described either by a YAML or JSON descriptor file or by flags.
Flags override the matching descriptor fields.

Examples:
  hpcjobs submit --descriptor freesurfer.yaml
  hpcjobs submit --tool fmriprep --dataset ds001 --participant 01 \
      --time 8:00:00 --memory 32G --gpus 1 \
      --command "apptainer run fmriprep.sif /data /out participant"
  hpcjobs submit --descriptor freesurfer.yaml --dry-run
  hpcjobs submit --descriptor freesurfer.yaml --watch`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

var (
	submitDescriptor  string
	submitTool        string
	submitDataset     string
	submitParticipant string
	submitCommand     string
	submitTime        string
	submitMemory      string
	submitPartition   string
	submitGPUs        int
	submitCPUs        int
	submitModules     []string
	submitEnv         map[string]string
	submitDryRun      bool
	submitWatch       bool
	submitJSON        bool
)

func init() {
	rootCmd.AddCommand(submitCmd)

	f := submitCmd.Flags()
	f.StringVarP(&submitDescriptor, "descriptor", "d", "", "Job descriptor file (YAML or JSON)")
	f.StringVar(&submitTool, "tool", "", "Tool name")
	f.StringVar(&submitDataset, "dataset", "", "Dataset name")
	f.StringVar(&submitParticipant, "participant", "", "Participant label")
	f.StringVar(&submitCommand, "command", "", "Workload command line")
	f.StringVar(&submitTime, "time", "", "Wall-time limit, e.g. 4:00:00")
	f.StringVar(&submitMemory, "memory", "", "Memory request, e.g. 16G")
	f.StringVar(&submitPartition, "partition", "", "SLURM partition")
	f.IntVar(&submitGPUs, "gpus", 0, "GPU count")
	f.IntVar(&submitCPUs, "cpus", 0, "CPUs per task")
	f.StringSliceVar(&submitModules, "module", nil, "Environment module to load (repeatable)")
	f.StringToStringVar(&submitEnv, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	f.BoolVar(&submitDryRun, "dry-run", false, "Print the batch script without submitting")
	f.BoolVar(&submitWatch, "watch", false, "Watch the job until it finishes")
	f.BoolVar(&submitJSON, "json", false, "Output JSONL records")
}

// buildDescriptor merges the descriptor file, if any, with flags that were
// set explicitly.
func buildDescriptor(cmd *cobra.Command) (*script.Descriptor, error) {
	d := &script.Descriptor{}
	if submitDescriptor != "" {
		loaded, err := script.Load(submitDescriptor)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, exitError(foundry.ExitFileNotFound, "Descriptor not found", err)
			}
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid descriptor", err)
		}
		d = loaded
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("tool", func() { d.Tool = submitTool })
	set("dataset", func() { d.Dataset = submitDataset })
	set("participant", func() { d.Participant = submitParticipant })
	set("command", func() { d.Command = submitCommand })
	set("time", func() { d.Resources.Time = submitTime })
	set("memory", func() { d.Resources.Memory = submitMemory })
	set("partition", func() { d.Resources.Partition = submitPartition })
	set("gpus", func() { d.Resources.GPUs = submitGPUs })
	set("cpus", func() { d.Resources.CPUs = submitCPUs })
	set("module", func() { d.Modules = submitModules })
	set("env", func() { d.Env = submitEnv })

	if err := d.Validate(); err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid descriptor", err)
	}
	return d, nil
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c := currentConfig()

	d, err := buildDescriptor(cmd)
	if err != nil {
		return err
	}

	if submitDryRun {
		_, err := io.WriteString(cmd.OutOrStdout(), script.Render(*d))
		return err
	}

	t, err := newTransport(c)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()

	store := openStore(c)
	s := newSubmitter(c, t, store)

	jobID, err := s.Submit(ctx, *d)
	if err != nil {
		var se *submit.StoreError
		if errors.As(err, &se) {
			observability.CLILogger.Error("Job is queued but could not be recorded",
				zap.String("job_id", se.JobID), zap.String("store", store.Path()))
			return exitError(foundry.ExitFileWriteError, fmt.Sprintf("Job %s submitted but not recorded", se.JobID), err)
		}
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Submission cancelled", err)
		}
		if submitJSON {
			_ = newJSONWriter(c, cmd.OutOrStdout()).WriteError(ctx, output.NewErrorRecord("", err))
		}
		return fail("Submission failed", err, zap.String("tool", d.Tool), zap.String("participant", d.Participant))
	}

	info, _ := store.Get(jobID)
	if submitJSON {
		w := newJSONWriter(c, cmd.OutOrStdout())
		defer func() { _ = w.Close() }()
		if err := w.WriteSubmission(ctx, &output.SubmissionRecord{
			JobID:        jobID,
			SubmissionID: info.MetadataString(jobstore.MetaSubmissionID),
			JobName:      d.JobName(),
			RemoteDir:    s.RemoteDir(*d),
			RemoteScript: info.MetadataString(jobstore.MetaRemoteScript),
			LogPath:      s.LogPath(*d, jobID),
		}); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Submitted job %s (%s)\n", jobID, d.JobName())
		_, _ = fmt.Fprintf(out, "  Check status: %s status %s\n", rootCmd.Name(), jobID)
		_, _ = fmt.Fprintf(out, "  Log file:     %s\n", s.LogPath(*d, jobID))
	}

	if !submitWatch {
		return nil
	}
	return watchJob(cmd, c, t, store, jobID, c.Slurm.PollInterval, submitJSON)
}
