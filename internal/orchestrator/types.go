package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/text2sql/internal/errctx"
	"github.com/danielpatrickdp/text2sql/internal/retrieval"
)

// #endregion

// #region stage

// Stage is a pipeline state. Succeeded, Failed and Aborted are terminal.
type Stage string

const (
	StageSelecting   Stage = "selecting"
	StageDecomposing Stage = "decomposing"
	StageRefining    Stage = "refining"
	StageSucceeded   Stage = "succeeded"
	StageFailed      Stage = "failed"
	StageAborted     Stage = "aborted"
)

// WorkStages lists the non-terminal stages in pipeline order.
var WorkStages = []Stage{StageSelecting, StageDecomposing, StageRefining}

// Terminal reports whether no further transition leaves s.
func (s Stage) Terminal() bool {
	return s == StageSucceeded || s == StageFailed || s == StageAborted
}

// #endregion

// #region task

// DefaultAttemptLimit is used when a request does not set one.
const DefaultAttemptLimit = 3

// Request is one natural-language question to answer against a scope.
type Request struct {
	ScopeID      string             `json:"scope_id"`
	Question     string             `json:"question"`
	Evidence     string             `json:"evidence,omitempty"`
	AttemptLimit int                `json:"attempt_limit,omitempty"`
	Strategy     retrieval.Strategy `json:"strategy,omitempty"`
}

// PipelineTask is the working record for one question. Adapters never see
// it directly; they get stage inputs built from it.
type PipelineTask struct {
	ScopeID  string
	Question string
	Evidence string
	Strategy retrieval.Strategy

	SchemaText       string
	RelationshipText string
	Pruned           bool

	Bundle      retrieval.ContextBundle
	bundleReady bool

	CandidateSQL  string
	SubQuestions  []string
	StrategyLabel string
	Outcome       *ExecutionOutcome

	AttemptIndex int
	attemptLimit int

	ErrorLog []errctx.ErrorRecord
}

func newTask(req Request, fallbackLimit int) *PipelineTask {
	limit := req.AttemptLimit
	if limit == 0 {
		limit = fallbackLimit
	}
	if limit < 1 {
		limit = 1
	}
	return &PipelineTask{
		ScopeID:      req.ScopeID,
		Question:     req.Question,
		Evidence:     req.Evidence,
		Strategy:     req.Strategy,
		attemptLimit: limit,
	}
}

// AttemptLimit is fixed when the task is created.
func (t *PipelineTask) AttemptLimit() int {
	return t.attemptLimit
}

// LastError returns the most recent error record, or nil.
func (t *PipelineTask) LastError() *errctx.ErrorRecord {
	if len(t.ErrorLog) == 0 {
		return nil
	}
	return &t.ErrorLog[len(t.ErrorLog)-1]
}

// PipelineState is the orchestrator's per-run view of the task.
type PipelineState struct {
	Stage       Stage
	StageTimes  map[Stage]time.Duration
	Task        *PipelineTask
	AbortReason string
}

// Terminal reports whether the run is over.
func (s *PipelineState) Terminal() bool { return s.Stage.Terminal() }

// Success reports whether the run reached Succeeded.
func (s *PipelineState) Success() bool { return s.Stage == StageSucceeded }

// #endregion

// #region stage-io

// SelectorInput is what the schema selector sees.
type SelectorInput struct {
	ScopeID  string
	Question string
	Evidence string
}

// SelectorOutput is the (possibly pruned) schema for the question.
type SelectorOutput struct {
	SchemaText       string
	RelationshipText string
	Pruned           bool
}

// DecomposerInput is what the SQL synthesizer sees on each attempt.
// ErrorContext is empty on the first attempt.
type DecomposerInput struct {
	ScopeID          string
	Question         string
	Evidence         string
	SchemaText       string
	RelationshipText string
	Bundle           retrieval.ContextBundle
	ErrorContext     string
	Attempt          int
}

// DecomposerOutput is one candidate query.
type DecomposerOutput struct {
	SQL           string
	SubQuestions  []string
	StrategyLabel string
}

// ExecutionOutcome is what the refiner observed running the candidate.
type ExecutionOutcome struct {
	Succeeded    bool     `json:"succeeded"`
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowCount     int      `json:"row_count"`
	Truncated    bool     `json:"truncated,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// #endregion

// #region collaborators

// Selector narrows the scope's schema to what the question needs.
type Selector interface {
	Select(ctx context.Context, in SelectorInput) (SelectorOutput, error)
}

// Decomposer produces a candidate SQL query.
type Decomposer interface {
	Decompose(ctx context.Context, in DecomposerInput) (DecomposerOutput, error)
}

// Refiner validates and executes a candidate. A returned error is treated as
// a failed execution with the error text as its message.
type Refiner interface {
	Execute(ctx context.Context, scopeID, sql string) (ExecutionOutcome, error)
}

// Retriever supplies the context bundle for a task.
type Retriever interface {
	Retrieve(ctx context.Context, query, scopeID string, strategy retrieval.Strategy) (retrieval.ContextBundle, error)
}

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, task *PipelineTask, result PipelineResult) error
}

// #endregion

// #region result

// PipelineResult is the terminal report of one run.
type PipelineResult struct {
	RunID            string                  `json:"run_id"`
	ScopeID          string                  `json:"scope_id"`
	Question         string                  `json:"question"`
	Success          bool                    `json:"success"`
	State            Stage                   `json:"state"`
	SQL              string                  `json:"sql,omitempty"`
	SubQuestions     []string                `json:"sub_questions,omitempty"`
	ExecutionOutcome *ExecutionOutcome       `json:"execution_outcome,omitempty"`
	RetryCount       int                     `json:"retry_count"`
	PerStageTime     map[Stage]time.Duration `json:"per_stage_time_ns"`
	Error            string                  `json:"error,omitempty"`
	ErrorLog         []errctx.ErrorRecord    `json:"error_log"`
	StartedAt        time.Time               `json:"started_at"`
	Elapsed          time.Duration           `json:"elapsed_ns"`
}

// #endregion

// #region errors

// ErrEmptySQL is returned when a decomposer yields no query text.
var ErrEmptySQL = errors.New("decomposer returned empty sql")

// StageError wraps a collaborator failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
	Panic bool
}

func (e *StageError) Error() string {
	if e.Panic {
		return fmt.Sprintf("%s: panic: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// #endregion
