package orchestrator

// #region outcome

// Outcome is what a single stage invocation reported.
type Outcome int

const (
	// OutcomeOK means the stage produced its output (for Refining, the
	// query executed).
	OutcomeOK Outcome = iota
	// OutcomeFailed means the candidate query did not execute. Only
	// meaningful for Refining.
	OutcomeFailed
	// OutcomeAborted means a collaborator errored or panicked.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFailed:
		return "failed"
	case OutcomeAborted:
		return "aborted"
	}
	return "unknown"
}

// Action tells the run loop what to do with the task besides moving stage.
type Action int

const (
	ActionNone Action = iota
	// ActionRecordRetry appends an error record, bumps the attempt index
	// and loops back to Decomposing.
	ActionRecordRetry
	// ActionRecordFail appends an error record, bumps the attempt index
	// and ends the run as Failed.
	ActionRecordFail
)

// Snapshot is the slice of state the transition function needs.
type Snapshot struct {
	Stage        Stage
	AttemptIndex int
	AttemptLimit int
}

// #endregion

// #region advance

// Advance is the pure transition function. It never mutates anything; the
// run loop applies the returned action. Terminal stages map to themselves.
func Advance(s Snapshot, o Outcome) (Stage, Action) {
	if s.Stage.Terminal() {
		return s.Stage, ActionNone
	}
	if o == OutcomeAborted {
		return StageAborted, ActionNone
	}

	switch s.Stage {
	case StageSelecting:
		if o == OutcomeOK {
			return StageDecomposing, ActionNone
		}
		return StageAborted, ActionNone

	case StageDecomposing:
		if o == OutcomeOK {
			return StageRefining, ActionNone
		}
		return StageAborted, ActionNone

	case StageRefining:
		if o == OutcomeOK {
			return StageSucceeded, ActionNone
		}
		limit := s.AttemptLimit
		if limit < 1 {
			limit = 1
		}
		if s.AttemptIndex+1 >= limit {
			return StageFailed, ActionRecordFail
		}
		return StageDecomposing, ActionRecordRetry
	}

	return StageAborted, ActionNone
}

// #endregion
