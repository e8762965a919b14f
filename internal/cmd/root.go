// Package cmd implements the hpcjobs command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/internal/config"
	apperrors "github.com/ln2t/hpcjobs/internal/errors"
	"github.com/ln2t/hpcjobs/internal/observability"
)

// VersionInfo is the build identity injected by main.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// AppIdentity names the binary, its env prefix and config directory.
type AppIdentity = config.AppIdentity

var (
	versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}
	appIdentity *AppIdentity

	cfgFile string
	verbose bool
	cfg     *config.Config
)

// flagKeys maps persistent flags to config keys. A flag set on the command
// line becomes a runtime override.
var flagKeys = map[string]string{
	"log-level":   "logging.level",
	"store":       "store.path",
	"remote-host": "remote.host",
	"remote-user": "remote.user",
	"key-file":    "remote.key_file",
	"proxy-jump":  "remote.proxy_jump",
}

var rootCmd = &cobra.Command{
	Use:   "hpcjobs",
	Short: "Submit and track SLURM jobs over SSH",
	Long: `hpcjobs renders SLURM batch scripts for containerised analysis tools,
submits them to a remote cluster over SSH, and keeps a local record of every
job it submitted.

Status queries consult the live queue (squeue) first and fall back to
accounting (sacct), then write the result back to the local job store.

Examples:
  hpcjobs submit --descriptor freesurfer.yaml
  hpcjobs status 55821
  hpcjobs watch 55821 --interval 30s
  hpcjobs jobs list --tool freesurfer`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initApp,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default $XDG_CONFIG_HOME/hpcjobs/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("store", "", "Job store file (default: app data dir)")
	pf.String("remote-host", "", "Cluster login host")
	pf.String("remote-user", "", "Cluster user name")
	pf.String("key-file", "", "SSH private key")
	pf.String("proxy-jump", "", "Bastion hop, [user@]host[:port]")
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return apperrors.ExitOK
	}
	if errors.Is(err, context.Canceled) && apperrors.ExitCode(err) == apperrors.ExitFailure {
		err = exitError(foundry.ExitSignalInt, "Interrupted", err)
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	return apperrors.ExitCode(err)
}

// SetVersionInfo records build metadata for version output.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity set during startup, or nil.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

// setDefaults registers every config default on the global viper
// instance so flag bindings resolve against them.
func setDefaults() {
	for key, value := range config.Defaults() {
		viper.SetDefault(key, value)
	}
}

func initApp(cmd *cobra.Command, _ []string) error {
	if appIdentity == nil {
		id := config.DefaultIdentity
		appIdentity = &id
	}
	config.SetIdentity(*appIdentity)
	observability.InitCLILogger(appIdentity.BinaryName, verbose)

	setDefaults()
	overrides := map[string]any{}
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if err := viper.BindPFlag(key, f); err != nil {
			bindErr = err
			return
		}
		if f.Changed {
			overrides[key] = viper.Get(key)
		}
	})
	if bindErr != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid flags", bindErr)
	}

	config.SetConfigFile(cfgFile)
	loaded, err := config.Load(cmd.Context(), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Cannot load configuration", err)
	}
	if err := loaded.Validate(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	cfg = loaded

	if !verbose {
		if err := observability.Configure(appIdentity.BinaryName, cfg.Logging.Level, observability.ProfileConsole); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
		}
	}
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("remote", cfg.Remote.User+"@"+cfg.Remote.Host),
		zap.String("jobs_dir", cfg.Slurm.JobsDir))
	return nil
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return apperrors.NewExitError(code, message, err)
}
