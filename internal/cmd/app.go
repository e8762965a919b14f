package cmd

import (
	"errors"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/internal/config"
	"github.com/ln2t/hpcjobs/internal/observability"
	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/output"
	"github.com/ln2t/hpcjobs/pkg/reconcile"
	"github.com/ln2t/hpcjobs/pkg/remote"
	"github.com/ln2t/hpcjobs/pkg/retry"
	"github.com/ln2t/hpcjobs/pkg/script"
	"github.com/ln2t/hpcjobs/pkg/slurm"
	"github.com/ln2t/hpcjobs/pkg/submit"
)

// newTransport is replaced in tests.
var newTransport = func(c *config.Config) (remote.Transport, error) {
	id, err := c.RemoteIdentity()
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Remote cluster not configured", err)
	}
	t, err := remote.NewSSHTransport(id, observability.CLILogger.Named("ssh"))
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid SSH settings", err)
	}
	return t, nil
}

func currentConfig() *config.Config {
	if cfg != nil {
		return cfg
	}
	if c := config.GetConfig(); c != nil {
		return c
	}
	return &config.Config{}
}

func storePath(c *config.Config) string {
	if c.Store.Path != "" {
		return remote.ExpandLocalHome(c.Store.Path)
	}
	name := config.DefaultIdentity.ConfigName
	if id := GetAppIdentity(); id != nil && id.ConfigName != "" {
		name = id.ConfigName
	}
	return jobstore.DefaultPath(name)
}

func openStore(c *config.Config) *jobstore.Store {
	return jobstore.New(storePath(c), observability.CLILogger.Named("store"))
}

func newSubmitter(c *config.Config, t remote.Transport, store *jobstore.Store) *submit.Submitter {
	return submit.New(t, store, submit.Options{
		JobsDir:       c.Slurm.JobsDir,
		ProbeTimeout:  c.Slurm.ProbeTimeout,
		SubmitTimeout: c.Slurm.SubmitTimeout,
		CopyTimeout:   c.Slurm.CopyTimeout,
	}, observability.CLILogger.Named("submit"))
}

func newReconciler(c *config.Config, t remote.Transport, store *jobstore.Store) *reconcile.Reconciler {
	return reconcile.New(t, store, reconcile.Options{
		StatusTimeout: c.Slurm.StatusTimeout,
		Markers:       c.Markers(),
	}, observability.CLILogger.Named("reconcile"))
}

// retrying wraps r with the configured retry policy.
func retrying(c *config.Config, r *reconcile.Reconciler) *retry.Querier {
	return &retry.Querier{
		Next: r,
		Policy: retry.Policy{
			MaxAttempts: c.Retry.MaxAttempts,
			BaseDelay:   c.Retry.BaseDelay,
			MaxDelay:    c.Retry.MaxDelay,
		},
		Logger: observability.CLILogger.Named("retry"),
	}
}

func newJSONWriter(c *config.Config, w io.Writer) *output.JSONLWriter {
	host := ""
	if c.Remote.Host != "" {
		host = c.Remote.User + "@" + c.Remote.Host
	}
	return output.NewJSONLWriter(w, uuid.New().String(), host)
}

// exitCodeFor maps a domain error to a process exit code.
func exitCodeFor(err error) int {
	var se *submit.StoreError
	switch {
	case errors.Is(err, script.ErrInvalidDescriptor),
		errors.Is(err, slurm.ErrInvalidJobID),
		errors.Is(err, jobstore.ErrInvalidPattern),
		errors.Is(err, config.ErrRemoteNotConfigured):
		return foundry.ExitInvalidArgument
	case errors.As(err, &se):
		return foundry.ExitFileWriteError
	case errors.Is(err, os.ErrNotExist):
		return foundry.ExitFileNotFound
	case remote.IsConnect(err), remote.IsTimeout(err), remote.IsDisconnected(err),
		remote.IsCommandFailure(err), slurm.IsSubmissionParse(err), errors.Is(err, slurm.ErrMalformedOutput):
		return foundry.ExitExternalServiceUnavailable
	case slurm.IsNotFound(err):
		return foundry.ExitFileNotFound
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}

// fail logs err and converts it to an exit error.
func fail(message string, err error, fields ...zap.Field) error {
	observability.CLILogger.Error(message, append(fields, zap.Error(err))...)
	return exitError(exitCodeFor(err), message, err)
}
