package submit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ln2t/hpcjobs/pkg/jobstore"
	"github.com/ln2t/hpcjobs/pkg/remote"
	"github.com/ln2t/hpcjobs/pkg/remote/remotetest"
	"github.com/ln2t/hpcjobs/pkg/script"
	"github.com/ln2t/hpcjobs/pkg/slurm"
)

func descriptor() script.Descriptor {
	return script.Descriptor{
		Tool:        "freesurfer",
		Dataset:     "ds001",
		Participant: "01",
		Resources:   script.Resources{Time: "4:00:00", Memory: "16G"},
		Command:     "apptainer run freesurfer.sif participant --participant-label 01",
		Metadata:    map[string]any{"version": "7.3.2"},
	}
}

func setup(t *testing.T) (*remotetest.Fake, *jobstore.Store, *Submitter) {
	t.Helper()
	fake := remotetest.New()
	store := jobstore.New(filepath.Join(t.TempDir(), jobstore.FileName), nil)
	s := New(fake, store, Options{}, nil)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return fake, store, s
}

func TestSubmit_EndToEnd(t *testing.T) {
	fake, store, s := setup(t)
	fake.On("echo", remotetest.Reply(0, "connected\n", ""))
	fake.On("sbatch", remotetest.Reply(0, "Submitted batch job 55821\n", ""))

	jobID, err := s.Submit(context.Background(), descriptor())
	require.NoError(t, err)
	assert.Equal(t, "55821", jobID)

	assert.Equal(t, []string{"echo", "mkdir", "<copy>", "sbatch"}, fake.CommandNames())

	calls := fake.Calls()
	assert.Equal(t, DefaultProbeTimeout, calls[0].Timeout)
	assert.Equal(t, `mkdir -p "$HOME"/hpcjobs/ds001/freesurfer`, calls[1].Command.String())
	assert.Equal(t, `cd "$HOME"/hpcjobs/ds001/freesurfer && sbatch freesurfer_01.sh`, calls[3].Command.String())

	content, ok := fake.Copied("~/hpcjobs/ds001/freesurfer/freesurfer_01.sh")
	require.True(t, ok)
	assert.Equal(t, script.Render(descriptor()), content)
	assert.NotContains(t, content, "--gres")

	all := store.All()
	require.Len(t, all, 1)
	got := all[0]
	assert.Equal(t, "55821", got.JobID)
	assert.Equal(t, slurm.StateUnknown, got.State)
	assert.Equal(t, "freesurfer", got.Tool)
	assert.Equal(t, "ds001", got.Dataset)
	assert.Equal(t, "01", got.Participant)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), got.SubmitTime)
	assert.Nil(t, got.ExitCode)
	assert.Equal(t, "7.3.2", got.Metadata["version"])
	assert.Equal(t, "freesurfer-ds001-01", got.MetadataString(jobstore.MetaJobName))
	assert.Equal(t, "~/hpcjobs/ds001/freesurfer", got.MetadataString(jobstore.MetaRemoteDir))
	assert.Equal(t, "~/hpcjobs/ds001/freesurfer/freesurfer_01.sh", got.MetadataString(jobstore.MetaRemoteScript))
	assert.NotEmpty(t, got.MetadataString(jobstore.MetaSubmissionID))

	assert.Equal(t, "~/hpcjobs/ds001/freesurfer/freesurfer-ds001-01_55821.out", s.LogPath(descriptor(), jobID))
}

func TestSubmit_Failures(t *testing.T) {
	tests := []struct {
		name      string
		script    func(f *remotetest.Fake)
		mutate    func(d *script.Descriptor)
		check     func(t *testing.T, err error)
		wantCalls []string
	}{
		{
			name:   "invalid descriptor",
			mutate: func(d *script.Descriptor) { d.Resources.Memory = "" },
			check: func(t *testing.T, err error) {
				assert.True(t, errors.Is(err, script.ErrInvalidDescriptor))
			},
			wantCalls: []string{},
		},
		{
			name: "probe cannot connect",
			script: func(f *remotetest.Fake) {
				f.On("echo", remotetest.Fail(&remote.Error{Op: "dial", Host: "u@h", Err: remote.ErrConnect}))
			},
			check: func(t *testing.T, err error) {
				assert.True(t, remote.IsConnect(err))
			},
			wantCalls: []string{"echo"},
		},
		{
			name: "probe times out",
			script: func(f *remotetest.Fake) {
				f.On("echo", remotetest.Fail(&remote.Error{Op: "run", Host: "u@h", Err: remote.ErrTimeout}))
			},
			check: func(t *testing.T, err error) {
				assert.True(t, remote.IsConnect(err))
				assert.True(t, remote.IsTimeout(err))
			},
			wantCalls: []string{"echo"},
		},
		{
			name: "probe replies with garbage",
			script: func(f *remotetest.Fake) {
				f.On("echo", remotetest.Reply(0, "Welcome to the cluster\n", ""))
			},
			check: func(t *testing.T, err error) {
				assert.True(t, remote.IsConnect(err))
				assert.Contains(t, err.Error(), "Welcome")
			},
			wantCalls: []string{"echo"},
		},
		{
			name: "mkdir fails",
			script: func(f *remotetest.Fake) {
				f.On("echo", remotetest.Reply(0, "connected", ""))
				f.On("mkdir", remotetest.Reply(1, "", "mkdir: Permission denied"))
			},
			check: func(t *testing.T, err error) {
				assert.True(t, remote.IsCommandFailure(err))
				assert.Contains(t, err.Error(), "Permission denied")
			},
			wantCalls: []string{"echo", "mkdir"},
		},
		{
			name: "copy fails",
			script: func(f *remotetest.Fake) {
				f.On("echo", remotetest.Reply(0, "connected", ""))
				f.CopyErr = &remote.Error{Op: "copy", Host: "u@h", Err: remote.ErrDisconnected}
			},
			check: func(t *testing.T, err error) {
				assert.True(t, remote.IsDisconnected(err))
			},
			wantCalls: []string{"echo", "mkdir", "<copy>"},
		},
		{
			name: "sbatch rejects script",
			script: func(f *remotetest.Fake) {
				f.On("echo", remotetest.Reply(0, "connected", ""))
				f.On("sbatch", remotetest.Reply(1, "", "sbatch: error: invalid partition name specified"))
			},
			check: func(t *testing.T, err error) {
				var ce *remote.CommandError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, 1, ce.ExitCode)
				assert.Contains(t, ce.Stderr, "invalid partition")
				assert.False(t, slurm.IsSubmissionParse(err))
			},
			wantCalls: []string{"echo", "mkdir", "<copy>", "sbatch"},
		},
		{
			name: "sbatch output unparsable",
			script: func(f *remotetest.Fake) {
				f.On("echo", remotetest.Reply(0, "connected", ""))
				f.On("sbatch", remotetest.Reply(0, "Job queued somewhere\n", ""))
			},
			check: func(t *testing.T, err error) {
				assert.True(t, slurm.IsSubmissionParse(err))
				assert.False(t, remote.IsConnect(err))
				var pe *slurm.SubmissionParseError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, "Job queued somewhere", pe.Output)
			},
			wantCalls: []string{"echo", "mkdir", "<copy>", "sbatch"},
		},
		{
			name: "sbatch times out",
			script: func(f *remotetest.Fake) {
				f.On("echo", remotetest.Reply(0, "connected", ""))
				f.On("sbatch", remotetest.Fail(&remote.Error{Op: "run", Host: "u@h", Err: remote.ErrTimeout}))
			},
			check: func(t *testing.T, err error) {
				assert.True(t, remote.IsTimeout(err))
				assert.False(t, remote.IsConnect(err))
			},
			wantCalls: []string{"echo", "mkdir", "<copy>", "sbatch"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, store, s := setup(t)
			if tt.script != nil {
				tt.script(fake)
			}
			d := descriptor()
			if tt.mutate != nil {
				tt.mutate(&d)
			}

			jobID, err := s.Submit(context.Background(), d)
			require.Error(t, err)
			assert.Empty(t, jobID)
			tt.check(t, err)

			assert.Equal(t, tt.wantCalls, fake.CommandNames())
			assert.Empty(t, store.All(), "no partial store entry")
		})
	}
}

func TestSubmit_StoreFailureReportsJobID(t *testing.T) {
	fake := remotetest.New()
	fake.On("echo", remotetest.Reply(0, "connected", ""))
	fake.On("sbatch", remotetest.Reply(0, "Submitted batch job 7", ""))

	// A directory where the store file should be makes the rename fail.
	dir := t.TempDir()
	store := jobstore.New(dir, nil)
	s := New(fake, store, Options{}, nil)

	jobID, err := s.Submit(context.Background(), descriptor())
	require.Error(t, err)
	assert.Equal(t, "7", jobID)

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "7", se.JobID)
}

func TestSubmit_CustomOptions(t *testing.T) {
	fake := remotetest.New()
	fake.On("echo", remotetest.Reply(0, "connected", ""))
	fake.On("sbatch", remotetest.Reply(0, "Submitted batch job 8", ""))
	store := jobstore.New(filepath.Join(t.TempDir(), jobstore.FileName), nil)

	s := New(fake, store, Options{JobsDir: "/scratch/jobs/", ProbeTimeout: time.Second, SubmitTimeout: 5 * time.Second}, nil)
	_, err := s.Submit(context.Background(), descriptor())
	require.NoError(t, err)

	calls := fake.Calls()
	assert.Equal(t, time.Second, calls[0].Timeout)
	assert.Equal(t, "mkdir -p /scratch/jobs/ds001/freesurfer", calls[1].Command.String())
	assert.Equal(t, 5*time.Second, calls[3].Timeout)
	_, ok := fake.Copied("/scratch/jobs/ds001/freesurfer/freesurfer_01.sh")
	assert.True(t, ok)
}

func TestRender(t *testing.T) {
	_, _, s := setup(t)

	text, err := s.Render(descriptor())
	require.NoError(t, err)
	assert.Equal(t, script.Render(descriptor()), text)

	d := descriptor()
	d.Tool = ""
	_, err = s.Render(d)
	assert.True(t, errors.Is(err, script.ErrInvalidDescriptor))
}

func TestCancel(t *testing.T) {
	t.Run("issues scancel", func(t *testing.T) {
		fake, store, s := setup(t)
		require.NoError(t, s.Cancel(context.Background(), "55821"))

		assert.Equal(t, []string{"scancel"}, fake.CommandNames())
		assert.Equal(t, "scancel 55821", fake.Calls()[0].Command.String())
		assert.Empty(t, store.All())
	})

	t.Run("rejects malformed id", func(t *testing.T) {
		fake, _, s := setup(t)
		err := s.Cancel(context.Background(), "55821; rm -rf ~")
		assert.ErrorIs(t, err, slurm.ErrInvalidJobID)
		assert.Empty(t, fake.Calls())
	})

	t.Run("scheduler refusal", func(t *testing.T) {
		fake, _, s := setup(t)
		fake.On("scancel", remotetest.Reply(1, "", "scancel: error: Invalid job id specified"))
		err := s.Cancel(context.Background(), "9")
		require.Error(t, err)
		assert.True(t, remote.IsCommandFailure(err))
	})
}
