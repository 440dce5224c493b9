package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvance(t *testing.T) {
	tests := []struct {
		name       string
		snap       Snapshot
		outcome    Outcome
		wantStage  Stage
		wantAction Action
	}{
		{"select ok", Snapshot{StageSelecting, 0, 3}, OutcomeOK, StageDecomposing, ActionNone},
		{"select aborted", Snapshot{StageSelecting, 0, 3}, OutcomeAborted, StageAborted, ActionNone},
		{"decompose ok", Snapshot{StageDecomposing, 0, 3}, OutcomeOK, StageRefining, ActionNone},
		{"decompose aborted", Snapshot{StageDecomposing, 1, 3}, OutcomeAborted, StageAborted, ActionNone},
		{"refine ok", Snapshot{StageRefining, 2, 3}, OutcomeOK, StageSucceeded, ActionNone},
		{"refine fail retry", Snapshot{StageRefining, 0, 3}, OutcomeFailed, StageDecomposing, ActionRecordRetry},
		{"refine fail second", Snapshot{StageRefining, 1, 3}, OutcomeFailed, StageDecomposing, ActionRecordRetry},
		{"refine fail last", Snapshot{StageRefining, 2, 3}, OutcomeFailed, StageFailed, ActionRecordFail},
		{"refine fail limit one", Snapshot{StageRefining, 0, 1}, OutcomeFailed, StageFailed, ActionRecordFail},
		{"refine fail limit zero", Snapshot{StageRefining, 0, 0}, OutcomeFailed, StageFailed, ActionRecordFail},
		{"refine aborted", Snapshot{StageRefining, 0, 3}, OutcomeAborted, StageAborted, ActionNone},
		{"succeeded stays", Snapshot{StageSucceeded, 0, 3}, OutcomeFailed, StageSucceeded, ActionNone},
		{"failed stays", Snapshot{StageFailed, 3, 3}, OutcomeOK, StageFailed, ActionNone},
		{"aborted stays", Snapshot{StageAborted, 0, 3}, OutcomeOK, StageAborted, ActionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stage, action := Advance(tt.snap, tt.outcome)
			assert.Equal(t, tt.wantStage, stage)
			assert.Equal(t, tt.wantAction, action)
		})
	}
}

func TestAdvance_AlwaysTerminates(t *testing.T) {
	for limit := 1; limit <= 6; limit++ {
		s := Snapshot{Stage: StageSelecting, AttemptLimit: limit}
		steps := 0
		for !s.Stage.Terminal() {
			o := OutcomeOK
			if s.Stage == StageRefining {
				o = OutcomeFailed
			}
			next, action := Advance(s, o)
			if action != ActionNone {
				s.AttemptIndex++
			}
			s.Stage = next
			steps++
			if steps > 100 {
				t.Fatalf("limit %d did not terminate", limit)
			}
		}
		assert.Equal(t, StageFailed, s.Stage)
		assert.Equal(t, limit, s.AttemptIndex)
		assert.Equal(t, 2*limit+1, steps)
	}
}
