package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/pkg/slurm"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Cancel a job on the cluster",
	Long: `Ask SLURM to cancel a job with scancel.

The recorded status changes on the next 'hpcjobs status' query.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	c := currentConfig()
	jobID := args[0]
	if err := slurm.ValidateJobID(jobID); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job id", err)
	}

	t, err := newTransport(c)
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()

	if err := newSubmitter(c, t, openStore(c)).Cancel(cmd.Context(), jobID); err != nil {
		return fail("Cancel failed", err, zap.String("job_id", jobID))
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s\n", jobID)
	return nil
}
