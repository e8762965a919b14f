package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/internal/config"
	apperrors "github.com/ln2t/hpcjobs/internal/errors"
	"github.com/ln2t/hpcjobs/internal/observability"
	"github.com/ln2t/hpcjobs/pkg/remote"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

var doctorProbe bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the local setup and suggest fixes for common issues.

Examples:
  hpcjobs doctor           # Local checks only
  hpcjobs doctor --probe   # Also connect to the cluster`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorProbe, "probe", false, "Connect to the cluster and check SLURM is reachable")
}

// doctorCheck is one diagnostic. run returns a short detail for the
// success line, or an error.
type doctorCheck struct {
	name string
	run  func(ctx context.Context) (string, error)
	// fatal checks stop the remaining ones from running.
	fatal bool
}

func doctorChecks(c *config.Config, probe bool) []doctorCheck {
	checks := []doctorCheck{
		{name: "Go version", run: func(context.Context) (string, error) {
			v := runtime.Version()
			if v < "go1.23" {
				return v, fmt.Errorf("%s (recommended: go1.23+)", v)
			}
			return v, nil
		}},
		{name: "configuration", run: func(context.Context) (string, error) {
			if err := c.Validate(); err != nil {
				return "", err
			}
			return "valid", nil
		}},
		{name: "remote settings", fatal: probe, run: func(context.Context) (string, error) {
			id, err := c.RemoteIdentity()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}},
		{name: "SSH key", run: func(context.Context) (string, error) {
			if c.Remote.KeyFile == "" {
				return "", errors.New("remote.key_file is not set")
			}
			path := remote.ExpandLocalHome(c.Remote.KeyFile)
			fi, err := os.Stat(path)
			if err != nil {
				return "", fmt.Errorf("cannot read %s: %w", path, err)
			}
			if fi.Mode().Perm()&0o077 != 0 {
				return path, fmt.Errorf("%s is accessible by other users (mode %o); run chmod 600", path, fi.Mode().Perm())
			}
			return path, nil
		}},
		{name: "job store", run: func(context.Context) (string, error) {
			path := storePath(c)
			dir := filepath.Dir(path)
			if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
				return "", fmt.Errorf("%s is not a directory", dir)
			}
			if f, err := os.Open(path); err == nil {
				_ = f.Close()
			} else if !errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("cannot read %s: %w", path, err)
			}
			return path, nil
		}},
	}
	if probe {
		checks = append(checks, doctorCheck{name: "cluster connectivity", run: func(ctx context.Context) (string, error) {
			return probeCluster(ctx, c)
		}})
	}
	return checks
}

// probeCluster connects once and asks SLURM for its version.
func probeCluster(ctx context.Context, c *config.Config) (string, error) {
	t, err := newTransport(c)
	if err != nil {
		return "", err
	}
	defer func() { _ = t.Close() }()

	res, err := t.Run(ctx, slurm.ProbeCommand(), c.Slurm.ProbeTimeout)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Stdout) != slurm.ProbeToken {
		return "", fmt.Errorf("unexpected probe reply: %q", strings.TrimSpace(res.Stdout+res.Stderr))
	}

	version := remote.NewCommand("sinfo", "--version")
	res, err = t.Run(ctx, version, c.Slurm.ProbeTimeout)
	if err != nil {
		return "", err
	}
	if err := remote.RequireSuccess(version, res); err != nil {
		return "", fmt.Errorf("SLURM tools not found on %s: %w", c.Remote.Host, err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	c := currentConfig()
	log := observability.CLILogger

	bannerName := "doctor"
	if identity := GetAppIdentity(); identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	log.Info("=== " + bannerName + " ===")
	log.Info("")

	checks := doctorChecks(c, doctorProbe)
	failed := 0
	for i, check := range checks {
		prefix := fmt.Sprintf("[%d/%d] Checking %s...", i+1, len(checks), check.name)
		detail, err := check.run(cmd.Context())
		if err == nil {
			log.Info(prefix+" ✅ "+detail, zap.String("check", check.name))
			continue
		}
		failed++
		log.Error(prefix+" ❌", zap.String("check", check.name), zap.Error(err))
		if check.fatal {
			break
		}
	}

	log.Info("")
	if failed > 0 {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(apperrors.ExitFailure, fmt.Sprintf("%d diagnostic check(s) failed", failed), nil)
	}
	log.Info(fmt.Sprintf("✅ All checks passed! Your %s setup is healthy.", bannerName))
	return nil
}
