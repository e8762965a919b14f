package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/reconcile"
	"github.com/ln2t/hpcjobs/pkg/remote"
	"github.com/ln2t/hpcjobs/pkg/remote/remotetest"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

type step struct {
	status slurm.Status
	err    error
}

// scripted answers queries from a fixed sequence; the last step repeats.
type scripted struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (s *scripted) Query(ctx context.Context, jobID string) (slurm.Status, reconcile.Detail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	st := s.steps[i]
	return st.status, reconcile.Detail{JobID: jobID}, st.err
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Report(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestWatch(t *testing.T) {
	tests := []struct {
		name       string
		steps      []step
		wantStatus slurm.Status
		wantPolls  int
		wantErr    error
	}{
		{
			name:       "pending then running then completed",
			steps:      []step{{status: slurm.StatusPending}, {status: slurm.StatusRunning}, {status: slurm.StatusCompleted}},
			wantStatus: slurm.StatusCompleted,
			wantPolls:  3,
		},
		{
			name:       "already finished",
			steps:      []step{{status: slurm.StatusTimedOut}},
			wantStatus: slurm.StatusTimedOut,
			wantPolls:  1,
		},
		{
			name: "transient errors do not end the watch",
			steps: []step{
				{status: slurm.StatusRunning},
				{status: slurm.StatusError, err: fmt.Errorf("query live queue: %w", remote.ErrTimeout)},
				{status: slurm.StatusError, err: remote.ErrDisconnected},
				{status: slurm.StatusFailed},
			},
			wantStatus: slurm.StatusFailed,
			wantPolls:  4,
		},
		{
			name:       "not found ends the watch",
			steps:      []step{{status: slurm.StatusRunning}, {status: slurm.StatusError, err: fmt.Errorf("job 1: %w", slurm.ErrNotFound)}},
			wantStatus: slurm.StatusError,
			wantPolls:  2,
			wantErr:    slurm.ErrNotFound,
		},
		{
			name:       "error status without error ends the watch",
			steps:      []step{{status: slurm.StatusError}},
			wantStatus: slurm.StatusError,
			wantPolls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			m := New(&scripted{steps: tt.steps}, rec, nil)

			out, err := m.Watch(context.Background(), "1", time.Millisecond)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantPolls, out.Polls)
			assert.False(t, out.Detached)
			assert.Len(t, rec.events, tt.wantPolls, "every poll is reported")
		})
	}
}

func TestWatch_ErrorEventsKeepLastStatus(t *testing.T) {
	rec := &recorder{}
	m := New(&scripted{steps: []step{
		{status: slurm.StatusRunning},
		{status: slurm.StatusError, err: remote.ErrTimeout},
		{status: slurm.StatusCompleted},
	}}, rec, nil)

	_, err := m.Watch(context.Background(), "1", time.Millisecond)
	require.NoError(t, err)
	require.Len(t, rec.events, 3)
	assert.Equal(t, slurm.StatusRunning, rec.events[1].Status)
	assert.ErrorIs(t, rec.events[1].Err, remote.ErrTimeout)
}

func TestWatch_CancelDetaches(t *testing.T) {
	fake := remotetest.New()
	fake.On("squeue", remotetest.Reply(0, "55821|RUNNING|2026-03-01T10:00:00|N/A", ""))
	store := jobstore.New(filepath.Join(t.TempDir(), jobstore.FileName), nil)
	require.NoError(t, store.Put(jobstore.JobInfo{JobID: "55821", Tool: "freesurfer", State: slurm.StateUnknown}))
	r := reconcile.New(fake, store, reconcile.Options{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reporter := ReporterFunc(func(e Event) {
		if e.Status == slurm.StatusRunning {
			cancel()
		}
	})

	done := make(chan struct{})
	var out Outcome
	var err error
	go func() {
		defer close(done)
		out, err = New(r, reporter, nil).Watch(ctx, "55821", time.Hour)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return promptly after cancellation")
	}

	require.NoError(t, err)
	assert.True(t, out.Detached)
	assert.Equal(t, slurm.StatusRunning, out.Status)
	assert.Equal(t, 1, out.Polls)

	got, ok := store.Get("55821")
	require.True(t, ok)
	assert.Equal(t, slurm.StateRunning, got.State)
	assert.Equal(t, slurm.StatusRunning, got.Status(slurm.DefaultMarkers()))
	assert.NotContains(t, fake.CommandNames(), "scancel")
}

func TestWatch_CancelledBeforeFirstPoll(t *testing.T) {
	q := &scripted{steps: []step{{status: slurm.StatusRunning}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := New(q, nil, nil).Watch(ctx, "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, out.Detached)
	assert.LessOrEqual(t, out.Polls, 1)
}
