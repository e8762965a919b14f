// Package retry wraps control operations in a bounded retry with
// exponential backoff. Nothing in the core retries on its own; callers opt
// in by wrapping.
package retry

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ln2t/hpcjobs/pkg/reconcile"
	"github.com/ln2t/hpcjobs/pkg/remote"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

// Policy bounds retries.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Each further retry
	// doubles it.
	BaseDelay time.Duration

	// MaxDelay caps a single delay.
	MaxDelay time.Duration
}

// DefaultPolicy makes one attempt.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 1, BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Minute}
}

// Backoff returns the delay after the given failed attempt (1-based):
// BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Retryable reports whether err is a transient transport failure worth
// another attempt: a timeout or a dropped connection. Connection failures,
// parse failures and unknown jobs are final.
func Retryable(err error) bool {
	if err == nil || remote.IsConnect(err) {
		return false
	}
	return remote.IsTimeout(err) || remote.IsDisconnected(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, attempts
// run out, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, logger *zap.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !Retryable(err) || attempt == attempts {
			return err
		}

		delay := p.Backoff(attempt)
		logger.Warn("Transient remote failure, retrying",
			zap.Int("attempt", attempt), zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay), zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// Querier retries status queries. It satisfies monitor.Querier.
type Querier struct {
	Next interface {
		Query(ctx context.Context, jobID string) (slurm.Status, reconcile.Detail, error)
	}
	Policy Policy
	Logger *zap.Logger
}

// Query implements monitor.Querier.
func (q *Querier) Query(ctx context.Context, jobID string) (slurm.Status, reconcile.Detail, error) {
	var (
		status slurm.Status
		detail reconcile.Detail
	)
	logger := q.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	err := Do(ctx, q.Policy, logger.With(zap.String("job_id", jobID)), func(ctx context.Context) error {
		var err error
		status, detail, err = q.Next.Query(ctx, jobID)
		return err
	})
	return status, detail, err
}
