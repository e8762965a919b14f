// Package submit renders, uploads and submits batch scripts.
package submit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/remote"
	"github.com/ln2t/hpcjobs/pkg/script"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

// Default timeouts.
const (
	DefaultProbeTimeout  = 15 * time.Second
	DefaultSubmitTimeout = 60 * time.Second
	DefaultCopyTimeout   = 60 * time.Second
	DefaultJobsDir       = "~/hpcjobs"
)

// Options configures a Submitter.
type Options struct {
	// JobsDir is the remote root for job directories. Scripts land in
	// <JobsDir>/<dataset>/<tool>.
	JobsDir string

	ProbeTimeout  time.Duration
	SubmitTimeout time.Duration
	CopyTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.JobsDir) == "" {
		o.JobsDir = DefaultJobsDir
	}
	o.JobsDir = strings.TrimRight(o.JobsDir, "/")
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = DefaultSubmitTimeout
	}
	if o.CopyTimeout <= 0 {
		o.CopyTimeout = DefaultCopyTimeout
	}
	return o
}

// Submitter submits descriptors to SLURM and records them in the store.
type Submitter struct {
	transport remote.Transport
	store     *jobstore.Store
	opts      Options
	logger    *zap.Logger

	now func() time.Time
}

// New creates a Submitter.
func New(transport remote.Transport, store *jobstore.Store, opts Options, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		transport: transport,
		store:     store,
		opts:      opts.withDefaults(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RemoteDir returns the remote directory the script for d is copied to.
func (s *Submitter) RemoteDir(d script.Descriptor) string {
	return path.Join(s.opts.JobsDir, d.Dataset, d.Tool)
}

// LogPath returns the remote stdout log of a submitted job.
func (s *Submitter) LogPath(d script.Descriptor, jobID string) string {
	return path.Join(s.RemoteDir(d), fmt.Sprintf("%s_%s.out", d.JobName(), jobID))
}

// Render validates d and returns its script without touching the remote.
func (s *Submitter) Render(d script.Descriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	return script.Render(d), nil
}

// Submit validates, uploads and submits d, then records the new job.
//
// The store is written only after sbatch has returned a job id, so a
// failure at any step leaves no partial record behind. A failed probe
// aborts before any remote state is touched.
func (s *Submitter) Submit(ctx context.Context, d script.Descriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}

	submissionID := uuid.New().String()
	log := s.logger.With(
		zap.String("submission_id", submissionID),
		zap.String("tool", d.Tool),
		zap.String("dataset", d.Dataset),
		zap.String("participant", d.Participant),
	)

	if err := s.probe(ctx); err != nil {
		log.Warn("Remote probe failed", zap.Error(err))
		return "", err
	}

	text := script.Render(d)
	dir := s.RemoteDir(d)
	remoteScript := path.Join(dir, d.ScriptName())

	mkdir := slurm.MkdirCommand(dir)
	res, err := s.transport.Run(ctx, mkdir, s.opts.SubmitTimeout)
	if err != nil {
		return "", fmt.Errorf("create remote job directory: %w", err)
	}
	if err := remote.RequireSuccess(mkdir, res); err != nil {
		return "", fmt.Errorf("create remote job directory: %w", err)
	}

	if err := s.upload(ctx, text, remoteScript); err != nil {
		return "", err
	}
	log.Debug("Script uploaded", zap.String("remote_script", remoteScript))

	sbatch := slurm.SubmitCommand(dir, d.ScriptName())
	res, err = s.transport.Run(ctx, sbatch, s.opts.SubmitTimeout)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	if err := remote.RequireSuccess(sbatch, res); err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	jobID, err := slurm.ParseSubmitted(res.Stdout)
	if err != nil {
		log.Error("Unexpected sbatch output", zap.String("stdout", res.Stdout), zap.String("stderr", res.Stderr))
		return "", err
	}

	info := jobstore.JobInfo{
		JobID:       jobID,
		Tool:        d.Tool,
		Dataset:     d.Dataset,
		Participant: d.Participant,
		SubmitTime:  s.now(),
		State:       slurm.StateUnknown,
		Metadata:    metadata(d, submissionID, dir, remoteScript),
	}
	if err := s.store.Put(info); err != nil {
		// The job is queued remotely; report the id with the error.
		log.Error("Job submitted but not recorded", zap.String("job_id", jobID), zap.Error(err))
		return jobID, &StoreError{JobID: jobID, Err: err}
	}

	log.Info("Job submitted", zap.String("job_id", jobID), zap.String("remote_dir", dir))
	return jobID, nil
}

// Cancel asks the scheduler to cancel jobID. The store is left alone; the
// next status query records the CANCELLED state.
func (s *Submitter) Cancel(ctx context.Context, jobID string) error {
	if err := slurm.ValidateJobID(jobID); err != nil {
		return err
	}
	cmd := slurm.CancelCommand(jobID)
	res, err := s.transport.Run(ctx, cmd, s.opts.SubmitTimeout)
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if err := remote.RequireSuccess(cmd, res); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	s.logger.Info("Job cancellation requested", zap.String("job_id", jobID))
	return nil
}

func (s *Submitter) probe(ctx context.Context) error {
	cmd := slurm.ProbeCommand()
	res, err := s.transport.Run(ctx, cmd, s.opts.ProbeTimeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		if remote.IsConnect(err) {
			return err
		}
		return &remote.Error{Op: "probe", Command: cmd.String(), Err: fmt.Errorf("%w: %w", remote.ErrConnect, err)}
	}
	if !res.OK() || strings.TrimSpace(res.Stdout) != slurm.ProbeToken {
		return &remote.Error{
			Op:      "probe",
			Command: cmd.String(),
			Err:     fmt.Errorf("%w: unexpected probe reply (exit %d): %q", remote.ErrConnect, res.ExitCode, strings.TrimSpace(res.Stdout+res.Stderr)),
		}
	}
	return nil
}

func (s *Submitter) upload(ctx context.Context, text, remotePath string) error {
	tmp, err := os.CreateTemp("", "hpcjobs-*.sh")
	if err != nil {
		return fmt.Errorf("create local script: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write local script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close local script: %w", err)
	}

	copyCtx, cancel := context.WithTimeout(ctx, s.opts.CopyTimeout)
	defer cancel()
	if err := s.transport.Copy(copyCtx, tmpName, remotePath); err != nil {
		return fmt.Errorf("copy script to %s: %w", remotePath, err)
	}
	return nil
}

func metadata(d script.Descriptor, submissionID, dir, remoteScript string) map[string]any {
	md := make(map[string]any, len(d.Metadata)+4)
	for k, v := range d.Metadata {
		md[k] = v
	}
	md[jobstore.MetaSubmissionID] = submissionID
	md[jobstore.MetaJobName] = d.JobName()
	md[jobstore.MetaRemoteDir] = dir
	md[jobstore.MetaRemoteScript] = remoteScript
	return md
}

// StoreError reports a job that was submitted but could not be recorded.
type StoreError struct {
	JobID string
	Err   error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("job %s submitted but not recorded: %v", e.JobID, e.Err)
}

// Unwrap returns the underlying store error.
func (e *StoreError) Unwrap() error {
	return e.Err
}
