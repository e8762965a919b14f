package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		name := rootCmd.Name()
		if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
			name = id.BinaryName
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s, %s %s/%s)\n",
			name, versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate,
			runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
