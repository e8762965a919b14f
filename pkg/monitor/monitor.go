// Package monitor polls a job until it reaches a final status.
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/pkg/reconcile"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

// DefaultInterval is the default poll interval.
const DefaultInterval = 60 * time.Second

// Querier resolves the current status of a job.
// *reconcile.Reconciler and retry.Querier implement it.
type Querier interface {
	Query(ctx context.Context, jobID string) (slurm.Status, reconcile.Detail, error)
}

// Event is one poll result.
type Event struct {
	JobID  string
	Poll   int
	Status slurm.Status
	Detail reconcile.Detail

	// Err is set when the query failed. The watch continues.
	Err error
}

// Reporter receives poll events.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event)

// Report implements Reporter.
func (f ReporterFunc) Report(e Event) { f(e) }

// Outcome is how a watch ended.
type Outcome struct {
	JobID  string
	Status slurm.Status
	Detail reconcile.Detail
	Polls  int

	// Detached is set when the watch was cancelled locally. The remote job
	// is untouched and Status is the last status observed.
	Detached bool
}

// Monitor watches jobs.
type Monitor struct {
	querier  Querier
	reporter Reporter
	logger   *zap.Logger
}

// New creates a Monitor. reporter may be nil.
func New(q Querier, reporter Reporter, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = ReporterFunc(func(Event) {})
	}
	return &Monitor{querier: q, reporter: reporter, logger: logger}
}

// Watch polls jobID every interval until it leaves Pending/Running.
//
// A job unknown to the scheduler ends the watch with StatusError and the
// slurm.ErrNotFound error. Any other query error is reported and polling
// continues. Cancelling ctx stops polling and returns a detached outcome
// with a nil error; the remote job is never cancelled.
func (m *Monitor) Watch(ctx context.Context, jobID string, interval time.Duration) (Outcome, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	out := Outcome{JobID: jobID}
	log := m.logger.With(zap.String("job_id", jobID))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.detach(log, out), nil
		case <-timer.C:
		}

		status, detail, err := m.querier.Query(ctx, jobID)
		out.Polls++

		switch {
		case err != nil && slurm.IsNotFound(err):
			out.Status = slurm.StatusError
			out.Detail = detail
			m.reporter.Report(Event{JobID: jobID, Poll: out.Polls, Status: status, Detail: detail, Err: err})
			log.Warn("Job left all scheduler views", zap.Error(err))
			return out, err
		case err != nil:
			if ctx.Err() != nil {
				return m.detach(log, out), nil
			}
			m.reporter.Report(Event{JobID: jobID, Poll: out.Polls, Status: out.Status, Detail: out.Detail, Err: err})
			log.Warn("Status query failed, will retry", zap.Error(err), zap.Duration("interval", interval))
		default:
			out.Status = status
			out.Detail = detail
			m.reporter.Report(Event{JobID: jobID, Poll: out.Polls, Status: status, Detail: detail})
			if !status.Active() {
				log.Info("Job finished", zap.String("status", status.String()), zap.Int("polls", out.Polls))
				return out, nil
			}
		}

		timer.Reset(interval)
	}
}

func (m *Monitor) detach(log *zap.Logger, out Outcome) Outcome {
	out.Detached = true
	log.Info("Watch detached, job left running", zap.String("last_status", out.Status.String()))
	return out
}
