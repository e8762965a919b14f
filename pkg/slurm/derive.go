package slurm

import "strings"

// Markers are the substrings searched for in a job's end reason.
//
// The reason vocabulary is scheduler-version dependent, so the sets are
// configurable and matching is a plain case-sensitive substring test.
type Markers struct {
	TimeLimit   []string
	OutOfMemory []string
}

// DefaultMarkers returns the markers observed on SLURM 20-23.
func DefaultMarkers() Markers {
	return Markers{
		TimeLimit:   []string{"TIME_LIMIT"},
		OutOfMemory: []string{"OUT_OF_MEMORY"},
	}
}

func (m Markers) timeLimit(reason string) bool {
	return containsAny(reason, m.TimeLimit)
}

func (m Markers) outOfMemory(reason string) bool {
	return containsAny(reason, m.OutOfMemory)
}

func containsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Source identifies which status feed produced an observation.
type Source string

const (
	SourceLive       Source = "live"
	SourceHistorical Source = "historical"
	SourceNone       Source = "none"
)

// LiveEntry is one job line from the live queue (squeue).
type LiveEntry struct {
	JobID     string
	State     RawState
	StartTime string
	EndTime   string
}

// HistoricalEntry is the job line from accounting (sacct).
type HistoricalEntry struct {
	JobID     string
	State     RawState
	ExitCode  *int
	Signal    *int
	Reason    string
	StartTime string
	EndTime   string
	Elapsed   string
}

// Observation is the reconciled view of a job at one point in time.
type Observation struct {
	Source    Source
	Status    Status
	State     RawState
	ExitCode  *int
	Reason    string
	StartTime string
	EndTime   string
	Elapsed   string
}

// NotFound reports whether neither source knew the job.
func (o Observation) NotFound() bool {
	return o.Source == SourceNone
}

// Reconcile collapses the two status feeds into one observation.
//
// The live queue always wins when it has an entry. Otherwise the historical
// entry is authoritative. With neither, the observation is an Error with
// state NOT_FOUND.
func Reconcile(live *LiveEntry, hist *HistoricalEntry, m Markers) Observation {
	if live != nil {
		return Observation{
			Source:    SourceLive,
			Status:    DeriveLive(live.State),
			State:     live.State,
			StartTime: live.StartTime,
			EndTime:   live.EndTime,
		}
	}
	if hist != nil {
		return Observation{
			Source:    SourceHistorical,
			Status:    DeriveHistorical(hist.State, hist.ExitCode, hist.Reason, m),
			State:     hist.State,
			ExitCode:  hist.ExitCode,
			Reason:    hist.Reason,
			StartTime: hist.StartTime,
			EndTime:   hist.EndTime,
			Elapsed:   hist.Elapsed,
		}
	}
	return Observation{Source: SourceNone, Status: StatusError, State: StateNotFound}
}

// DeriveLive maps a live-queue state. A live entry should only ever be
// pending or running; anything else is an Error.
func DeriveLive(state RawState) Status {
	switch state {
	case StatePending, StateConfiguring:
		return StatusPending
	case StateRunning, StateStageOut:
		return StatusRunning
	default:
		return StatusError
	}
}

// DeriveHistorical maps an accounting state, exit code and end reason.
//
// COMPLETED only counts as Completed with a zero exit code; otherwise it is
// demoted like a failure. Time-limit markers take precedence over
// out-of-memory markers.
func DeriveHistorical(state RawState, exitCode *int, reason string, m Markers) Status {
	switch state {
	case StateCompleted:
		if exitCode != nil && *exitCode == 0 {
			return StatusCompleted
		}
		return demote(reason, m)
	case StateCancelled, StateCancelledP:
		if m.timeLimit(reason) {
			return StatusTimedOut
		}
		return StatusCancelled
	case StateFailed, StateNodeFail:
		return demote(reason, m)
	default:
		return StatusError
	}
}

func demote(reason string, m Markers) Status {
	switch {
	case m.timeLimit(reason):
		return StatusTimedOut
	case m.outOfMemory(reason):
		return StatusError
	default:
		return StatusFailed
	}
}

// Derive computes the canonical status of a stored record, which does not
// remember which source it came from. Live-queue states use the live
// mapping; everything else uses the historical one.
func Derive(state RawState, exitCode *int, reason string, m Markers) Status {
	switch state {
	case StatePending, StateConfiguring, StateRunning, StateStageOut:
		return DeriveLive(state)
	default:
		return DeriveHistorical(state, exitCode, reason, m)
	}
}
