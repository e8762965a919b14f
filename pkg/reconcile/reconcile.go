// Package reconcile resolves a job's canonical status from the live queue
// and accounting, and records each observation in the job store.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/remote"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

// DefaultStatusTimeout bounds each status command.
const DefaultStatusTimeout = 10 * time.Second

// Detail is the observation behind a status.
type Detail struct {
	JobID     string         `json:"job_id"`
	Source    slurm.Source   `json:"source"`
	State     slurm.RawState `json:"state"`
	ExitCode  *int           `json:"exit_code,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	StartTime string         `json:"start_time,omitempty"`
	EndTime   string         `json:"end_time,omitempty"`
	Elapsed   string         `json:"elapsed_time,omitempty"`

	// Retained is set when a live observation contradicted a stored
	// terminal status and the stored status was kept.
	Retained bool `json:"retained,omitempty"`
}

// Options configures a Reconciler.
type Options struct {
	StatusTimeout time.Duration
	Markers       slurm.Markers
}

// Reconciler queries SLURM for job status.
type Reconciler struct {
	transport remote.Transport
	store     *jobstore.Store
	timeout   time.Duration
	markers   slurm.Markers
	logger    *zap.Logger
}

// New creates a Reconciler. Empty marker sets fall back to the defaults.
func New(transport remote.Transport, store *jobstore.Store, opts Options, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = DefaultStatusTimeout
	}
	defaults := slurm.DefaultMarkers()
	if len(opts.Markers.TimeLimit) == 0 {
		opts.Markers.TimeLimit = defaults.TimeLimit
	}
	if len(opts.Markers.OutOfMemory) == 0 {
		opts.Markers.OutOfMemory = defaults.OutOfMemory
	}
	return &Reconciler{
		transport: transport,
		store:     store,
		timeout:   opts.StatusTimeout,
		markers:   opts.Markers,
		logger:    logger,
	}
}

// Markers returns the end-reason markers in use.
func (r *Reconciler) Markers() slurm.Markers {
	return r.markers
}

// Query returns the canonical status of jobID and writes the observation
// back to the store.
//
// The live queue is consulted first and wins whenever it lists the job.
// Accounting is only queried for jobs absent from the live queue. A job
// unknown to both yields StatusError with state NOT_FOUND and an error
// matching slurm.ErrNotFound; nothing is written in that case.
func (r *Reconciler) Query(ctx context.Context, jobID string) (slurm.Status, Detail, error) {
	detail := Detail{JobID: jobID, Source: slurm.SourceNone, State: slurm.StateUnknown}
	if err := slurm.ValidateJobID(jobID); err != nil {
		return slurm.StatusError, detail, err
	}

	live, err := r.queryLive(ctx, jobID)
	if err != nil {
		return slurm.StatusError, detail, err
	}

	var hist *slurm.HistoricalEntry
	if live == nil {
		hist, err = r.queryHistorical(ctx, jobID)
		if err != nil {
			return slurm.StatusError, detail, err
		}
	}

	obs := slurm.Reconcile(live, hist, r.markers)
	detail = detailOf(jobID, obs)
	if obs.NotFound() {
		r.logger.Debug("Job unknown to scheduler", zap.String("job_id", jobID))
		return slurm.StatusError, detail, fmt.Errorf("job %s: %w", jobID, slurm.ErrNotFound)
	}

	return r.record(jobID, obs, detail)
}

func (r *Reconciler) queryLive(ctx context.Context, jobID string) (*slurm.LiveEntry, error) {
	cmd := slurm.LiveQueryCommand(jobID)
	res, err := r.transport.Run(ctx, cmd, r.timeout)
	if err != nil {
		return nil, fmt.Errorf("query live queue: %w", err)
	}
	// squeue exits non-zero for ids that have left the queue.
	if !res.OK() {
		r.logger.Debug("Live queue has no entry",
			zap.String("job_id", jobID), zap.Int("exit_code", res.ExitCode), zap.String("stderr", res.Stderr))
		return nil, nil
	}
	return slurm.ParseLive(jobID, res.Stdout)
}

func (r *Reconciler) queryHistorical(ctx context.Context, jobID string) (*slurm.HistoricalEntry, error) {
	cmd := slurm.HistoricalQueryCommand(jobID)
	res, err := r.transport.Run(ctx, cmd, r.timeout)
	if err != nil {
		return nil, fmt.Errorf("query accounting: %w", err)
	}
	if err := remote.RequireSuccess(cmd, res); err != nil {
		return nil, fmt.Errorf("query accounting: %w", err)
	}
	return slurm.ParseHistorical(res.Stdout)
}

// record writes obs back. A stored terminal status is never reverted to an
// active one.
func (r *Reconciler) record(jobID string, obs slurm.Observation, detail Detail) (slurm.Status, Detail, error) {
	status := obs.Status
	stored, err := r.store.Update(jobID, func(info *jobstore.JobInfo, found bool) bool {
		if found && obs.Status.Active() {
			if prev := info.Status(r.markers); prev.Terminal() {
				r.logger.Warn("Live queue contradicts terminal status, keeping stored status",
					zap.String("job_id", jobID),
					zap.String("stored_status", prev.String()),
					zap.String("live_state", string(obs.State)))
				status = prev
				return false
			}
		}
		apply(info, obs)
		return true
	})
	if status != obs.Status {
		detail = detailOf(jobID, slurm.Observation{
			Source:    obs.Source,
			State:     stored.State,
			ExitCode:  stored.ExitCode,
			Reason:    stored.Reason,
			StartTime: stored.StartTime,
			EndTime:   stored.EndTime,
			Elapsed:   stored.ElapsedTime,
		})
		detail.Retained = true
	}
	if err != nil {
		return status, detail, fmt.Errorf("record status of job %s: %w", jobID, err)
	}
	return status, detail, nil
}

func apply(info *jobstore.JobInfo, obs slurm.Observation) {
	info.State = obs.State
	if obs.Source == slurm.SourceHistorical {
		info.ExitCode = obs.ExitCode
		info.Reason = obs.Reason
		info.ElapsedTime = obs.Elapsed
	}
	if obs.StartTime != "" {
		info.StartTime = obs.StartTime
	}
	if obs.EndTime != "" {
		info.EndTime = obs.EndTime
	}
}

func detailOf(jobID string, obs slurm.Observation) Detail {
	return Detail{
		JobID:     jobID,
		Source:    obs.Source,
		State:     obs.State,
		ExitCode:  obs.ExitCode,
		Reason:    obs.Reason,
		StartTime: obs.StartTime,
		EndTime:   obs.EndTime,
		Elapsed:   obs.Elapsed,
	}
}
