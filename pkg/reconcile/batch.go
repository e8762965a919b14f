package reconcile

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/ln2t/hpcjobs/pkg/slurm"
)

// DefaultWorkers is the number of concurrent status queries.
const DefaultWorkers = 4

// BatchOptions bounds a QueryAll run.
type BatchOptions struct {
	// Workers is the maximum number of in-flight queries.
	Workers int

	// RateLimit is the maximum number of queries started per second.
	// Zero means unlimited.
	RateLimit float64
}

// Result is the outcome of one query in a batch.
type Result struct {
	JobID  string
	Status slurm.Status
	Detail Detail
	Err    error
}

// QueryAll queries every job concurrently. Results are returned in the
// order of ids. Jobs not started before ctx is done report ctx.Err().
func (r *Reconciler) QueryAll(ctx context.Context, ids []string, opts BatchOptions) []Result {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	results := make([]Result, len(ids))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, id := range ids {
		results[i] = Result{JobID: id, Status: slurm.StatusError}

		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			for k := i; k < len(ids); k++ {
				results[k] = Result{JobID: ids[k], Status: slurm.StatusError, Err: ctx.Err()}
			}
			break
		}

		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()

			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					results[i].Err = err
					return
				}
			}
			status, detail, err := r.Query(ctx, id)
			results[i] = Result{JobID: id, Status: status, Detail: detail, Err: err}
		}(i, id)
	}

	wg.Wait()
	return results
}
