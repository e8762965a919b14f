package slurm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestReconcile(t *testing.T) {
	m := DefaultMarkers()

	tests := []struct {
		name       string
		live       *LiveEntry
		hist       *HistoricalEntry
		wantStatus Status
		wantSource Source
		wantState  RawState
	}{
		{
			name:       "neither source knows the job",
			wantStatus: StatusError,
			wantSource: SourceNone,
			wantState:  StateNotFound,
		},
		{
			name:       "live running wins over anything historical",
			live:       &LiveEntry{JobID: "1", State: StateRunning},
			hist:       &HistoricalEntry{JobID: "1", State: StateCompleted, ExitCode: intPtr(0)},
			wantStatus: StatusRunning,
			wantSource: SourceLive,
			wantState:  StateRunning,
		},
		{
			name:       "live pending",
			live:       &LiveEntry{JobID: "1", State: StatePending},
			wantStatus: StatusPending,
			wantSource: SourceLive,
			wantState:  StatePending,
		},
		{
			name:       "live configuring is pending",
			live:       &LiveEntry{JobID: "1", State: StateConfiguring},
			wantStatus: StatusPending,
			wantSource: SourceLive,
			wantState:  StateConfiguring,
		},
		{
			name:       "live stage out is running",
			live:       &LiveEntry{JobID: "1", State: StateStageOut},
			wantStatus: StatusRunning,
			wantSource: SourceLive,
			wantState:  StateStageOut,
		},
		{
			name:       "unexpected live state is an error",
			live:       &LiveEntry{JobID: "1", State: "COMPLETING"},
			wantStatus: StatusError,
			wantSource: SourceLive,
			wantState:  "COMPLETING",
		},
		{
			name:       "completed with zero exit",
			hist:       &HistoricalEntry{State: StateCompleted, ExitCode: intPtr(0)},
			wantStatus: StatusCompleted,
			wantSource: SourceHistorical,
			wantState:  StateCompleted,
		},
		{
			name:       "completed with non-zero exit is failed",
			hist:       &HistoricalEntry{State: StateCompleted, ExitCode: intPtr(1)},
			wantStatus: StatusFailed,
			wantSource: SourceHistorical,
			wantState:  StateCompleted,
		},
		{
			name:       "completed with non-zero exit and time limit is timed out",
			hist:       &HistoricalEntry{State: StateCompleted, ExitCode: intPtr(1), Reason: "TIME_LIMIT"},
			wantStatus: StatusTimedOut,
			wantSource: SourceHistorical,
			wantState:  StateCompleted,
		},
		{
			name:       "completed with non-zero exit and out of memory is an error",
			hist:       &HistoricalEntry{State: StateCompleted, ExitCode: intPtr(137), Reason: "OUT_OF_MEMORY"},
			wantStatus: StatusError,
			wantSource: SourceHistorical,
			wantState:  StateCompleted,
		},
		{
			name:       "completed without exit code is not trusted",
			hist:       &HistoricalEntry{State: StateCompleted},
			wantStatus: StatusFailed,
			wantSource: SourceHistorical,
			wantState:  StateCompleted,
		},
		{
			name:       "completed with zero exit ignores reason",
			hist:       &HistoricalEntry{State: StateCompleted, ExitCode: intPtr(0), Reason: "TIME_LIMIT"},
			wantStatus: StatusCompleted,
			wantSource: SourceHistorical,
			wantState:  StateCompleted,
		},
		{
			name:       "cancelled without reason",
			hist:       &HistoricalEntry{State: StateCancelled},
			wantStatus: StatusCancelled,
			wantSource: SourceHistorical,
			wantState:  StateCancelled,
		},
		{
			name:       "cancelled plus with time limit",
			hist:       &HistoricalEntry{State: StateCancelledP, Reason: "DUE_TO_TIME_LIMIT"},
			wantStatus: StatusTimedOut,
			wantSource: SourceHistorical,
			wantState:  StateCancelledP,
		},
		{
			name:       "cancelled with out of memory stays cancelled",
			hist:       &HistoricalEntry{State: StateCancelled, Reason: "OUT_OF_MEMORY"},
			wantStatus: StatusCancelled,
			wantSource: SourceHistorical,
			wantState:  StateCancelled,
		},
		{
			name:       "failed",
			hist:       &HistoricalEntry{State: StateFailed, ExitCode: intPtr(2)},
			wantStatus: StatusFailed,
			wantSource: SourceHistorical,
			wantState:  StateFailed,
		},
		{
			name:       "failed with time limit",
			hist:       &HistoricalEntry{State: StateFailed, ExitCode: intPtr(1), Reason: "TIME_LIMIT"},
			wantStatus: StatusTimedOut,
			wantSource: SourceHistorical,
			wantState:  StateFailed,
		},
		{
			name:       "failed with out of memory",
			hist:       &HistoricalEntry{State: StateFailed, ExitCode: intPtr(9), Reason: "OUT_OF_MEMORY"},
			wantStatus: StatusError,
			wantSource: SourceHistorical,
			wantState:  StateFailed,
		},
		{
			name:       "node fail",
			hist:       &HistoricalEntry{State: StateNodeFail},
			wantStatus: StatusFailed,
			wantSource: SourceHistorical,
			wantState:  StateNodeFail,
		},
		{
			name:       "raw timeout state is an error",
			hist:       &HistoricalEntry{State: StateTimeout, ExitCode: intPtr(0)},
			wantStatus: StatusError,
			wantSource: SourceHistorical,
			wantState:  StateTimeout,
		},
		{
			name:       "raw out of memory state is an error",
			hist:       &HistoricalEntry{State: StateOutOfMemory},
			wantStatus: StatusError,
			wantSource: SourceHistorical,
			wantState:  StateOutOfMemory,
		},
		{
			name:       "historical pending is an error",
			hist:       &HistoricalEntry{State: StatePending},
			wantStatus: StatusError,
			wantSource: SourceHistorical,
			wantState:  StatePending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.live, tt.hist, m)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, tt.wantState, got.State)
		})
	}
}

func TestReconcileCopiesHistoricalFields(t *testing.T) {
	hist := &HistoricalEntry{
		JobID:     "55821",
		State:     StateFailed,
		ExitCode:  intPtr(9),
		Reason:    "OUT_OF_MEMORY",
		StartTime: "2026-03-01T10:00:00",
		EndTime:   "2026-03-01T11:00:00",
		Elapsed:   "01:00:00",
	}
	got := Reconcile(nil, hist, DefaultMarkers())

	assert.False(t, got.NotFound())
	assert.Equal(t, 9, *got.ExitCode)
	assert.Equal(t, "OUT_OF_MEMORY", got.Reason)
	assert.Equal(t, "2026-03-01T10:00:00", got.StartTime)
	assert.Equal(t, "2026-03-01T11:00:00", got.EndTime)
	assert.Equal(t, "01:00:00", got.Elapsed)

	assert.True(t, Reconcile(nil, nil, DefaultMarkers()).NotFound())
}

func TestCustomMarkers(t *testing.T) {
	m := Markers{TimeLimit: []string{"WALLTIME"}, OutOfMemory: []string{"OOM", ""}}

	assert.Equal(t, StatusTimedOut, DeriveHistorical(StateFailed, intPtr(1), "WALLTIME exceeded", m))
	assert.Equal(t, StatusError, DeriveHistorical(StateFailed, intPtr(1), "OOM killer", m))
	assert.Equal(t, StatusFailed, DeriveHistorical(StateFailed, intPtr(1), "TIME_LIMIT", m), "default markers are replaced, not merged")
	assert.Equal(t, StatusFailed, DeriveHistorical(StateFailed, intPtr(1), "anything", m), "empty markers never match")
}

func TestDerive(t *testing.T) {
	m := DefaultMarkers()
	assert.Equal(t, StatusRunning, Derive(StateRunning, nil, "", m))
	assert.Equal(t, StatusPending, Derive(StatePending, nil, "", m))
	assert.Equal(t, StatusCompleted, Derive(StateCompleted, intPtr(0), "", m))
	assert.Equal(t, StatusError, Derive(StateUnknown, nil, "", m))
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled} {
		assert.True(t, s.Terminal(), s)
		assert.False(t, s.Active(), s)
	}
	for _, s := range []Status{StatusPending, StatusRunning} {
		assert.False(t, s.Terminal(), s)
		assert.True(t, s.Active(), s)
	}
	assert.False(t, StatusError.Terminal())
	assert.False(t, StatusError.Active())
	assert.Equal(t, "Completed successfully", StatusCompleted.Description())
	assert.Equal(t, "Timed out", StatusTimedOut.Description())
}

func TestNormalizeState(t *testing.T) {
	assert.Equal(t, StateCancelled, NormalizeState("CANCELLED by 1234"))
	assert.Equal(t, StateCancelledP, NormalizeState(" cancelled+ "))
	assert.Equal(t, StateRunning, NormalizeState("running"))
	assert.Equal(t, StateUnknown, NormalizeState(""))
}
