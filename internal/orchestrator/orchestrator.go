package orchestrator

// #region imports
import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/text2sql/internal/errctx"
	"github.com/danielpatrickdp/text2sql/internal/metrics"
	"github.com/danielpatrickdp/text2sql/internal/retrieval"
)

// #endregion

// #region orchestrator-struct

// Config wires the orchestrator's collaborators. Selector, Decomposer and
// Refiner are required; Retriever and Recorder may be nil.
type Config struct {
	Selector   Selector
	Decomposer Decomposer
	Refiner    Refiner
	Retriever  Retriever
	Recorder   Recorder

	// AttemptLimit applies to requests that leave theirs at zero.
	AttemptLimit int
	// Strategy applies to requests that leave theirs empty.
	Strategy retrieval.Strategy

	Logger *slog.Logger
	// Now stamps error records and results. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator drives a question through Selecting, Decomposing and
// Refining until it succeeds, exhausts its attempts, or aborts. It holds no
// per-run state, so one Orchestrator may serve concurrent runs.
type Orchestrator struct {
	cfg Config
	log *slog.Logger
	now func() time.Time
}

// #endregion

// #region constructor

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Selector == nil {
		return nil, fmt.Errorf("orchestrator: selector is required")
	}
	if cfg.Decomposer == nil {
		return nil, fmt.Errorf("orchestrator: decomposer is required")
	}
	if cfg.Refiner == nil {
		return nil, fmt.Errorf("orchestrator: refiner is required")
	}
	if cfg.AttemptLimit == 0 {
		cfg.AttemptLimit = DefaultAttemptLimit
	}
	if cfg.Strategy == "" {
		cfg.Strategy = retrieval.StrategyBalanced
	}

	o := &Orchestrator{cfg: cfg, log: cfg.Logger, now: cfg.Now}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// #endregion

// #region run

// Run answers one request. It always returns a terminal result; collaborator
// failures and panics end the run as Aborted instead of escaping.
func (o *Orchestrator) Run(ctx context.Context, req Request) PipelineResult {
	started := o.now()
	task := newTask(req, o.cfg.AttemptLimit)
	if task.Strategy == "" {
		task.Strategy = o.cfg.Strategy
	}
	state := &PipelineState{
		Stage:      StageSelecting,
		StageTimes: make(map[Stage]time.Duration, len(WorkStages)),
		Task:       task,
	}
	runID := uuid.NewString()
	log := o.log.With("run_id", runID, "scope", task.ScopeID)

	log.Info("orchestrator: run started", "attempt_limit", task.AttemptLimit())

	// Each attempt visits at most two stages, plus Selecting.
	maxSteps := 2*task.AttemptLimit() + 1

	for steps := 0; !state.Terminal(); steps++ {
		if steps >= maxSteps {
			state.AbortReason = fmt.Sprintf("step budget of %d exhausted", maxSteps)
			state.Stage = StageAborted
			break
		}
		if err := ctx.Err(); err != nil {
			state.AbortReason = fmt.Sprintf("%s: %v", state.Stage, err)
			state.Stage = StageAborted
			break
		}

		stage := state.Stage
		outcome, msg, err := o.invoke(ctx, state, log)

		next, action := Advance(Snapshot{
			Stage:        stage,
			AttemptIndex: task.AttemptIndex,
			AttemptLimit: task.AttemptLimit(),
		}, outcome)

		switch action {
		case ActionRecordRetry, ActionRecordFail:
			rec := errctx.NewRecord(task.AttemptIndex+1, task.CandidateSQL, msg, o.now())
			task.ErrorLog = append(task.ErrorLog, rec)
			task.AttemptIndex++
			metrics.ErrorKinds.WithLabelValues(string(rec.Kind)).Inc()
			log.Warn("orchestrator: execution failed",
				"attempt", rec.AttemptNumber,
				"kind", rec.Kind,
				"next", next,
				"error", rec.RawMessage)
		}

		if next == StageAborted && err != nil {
			state.AbortReason = err.Error()
			log.Error("orchestrator: stage aborted", "stage", stage, "error", err)
		}
		state.Stage = next
	}

	result := o.result(runID, started, state)
	metrics.RunsTotal.WithLabelValues(string(result.State)).Inc()
	metrics.RetryCount.Observe(float64(result.RetryCount))

	log.Info("orchestrator: run finished",
		"state", result.State,
		"retries", result.RetryCount,
		"elapsed", result.Elapsed)

	if o.cfg.Recorder != nil {
		// The run is persisted even when the caller has gone away.
		if err := o.cfg.Recorder.RecordRun(context.WithoutCancel(ctx), task, result); err != nil {
			log.Warn("orchestrator: failed to record run", "error", err)
		}
	}
	return result
}

// #endregion

// #region invoke

// invoke runs the current stage with timing and panic recovery. msg is the
// failure message for OutcomeFailed; err is set for OutcomeAborted.
func (o *Orchestrator) invoke(ctx context.Context, st *PipelineState, log *slog.Logger) (outcome Outcome, msg string, err error) {
	stage := st.Stage
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomeAborted
			err = &StageError{Stage: stage, Err: fmt.Errorf("%v", r), Panic: true}
		}
		d := time.Since(start)
		st.StageTimes[stage] += d
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	}()

	switch stage {
	case StageSelecting:
		return o.selecting(ctx, st.Task)
	case StageDecomposing:
		return o.decomposing(ctx, st.Task, log)
	case StageRefining:
		return o.refining(ctx, st.Task)
	}
	return OutcomeAborted, "", &StageError{Stage: stage, Err: fmt.Errorf("no handler for stage")}
}

func (o *Orchestrator) selecting(ctx context.Context, t *PipelineTask) (Outcome, string, error) {
	out, err := o.cfg.Selector.Select(ctx, SelectorInput{
		ScopeID:  t.ScopeID,
		Question: t.Question,
		Evidence: t.Evidence,
	})
	if err != nil {
		return OutcomeAborted, "", &StageError{Stage: StageSelecting, Err: err}
	}
	t.SchemaText = out.SchemaText
	t.RelationshipText = out.RelationshipText
	t.Pruned = out.Pruned
	return OutcomeOK, "", nil
}

func (o *Orchestrator) decomposing(ctx context.Context, t *PipelineTask, log *slog.Logger) (Outcome, string, error) {
	if !t.bundleReady {
		t.Bundle = o.retrieve(ctx, t, log)
		t.bundleReady = true
	}

	out, err := o.cfg.Decomposer.Decompose(ctx, DecomposerInput{
		ScopeID:          t.ScopeID,
		Question:         t.Question,
		Evidence:         t.Evidence,
		SchemaText:       t.SchemaText,
		RelationshipText: t.RelationshipText,
		Bundle:           t.Bundle,
		ErrorContext:     errctx.BuildRetryContext(t.ErrorLog),
		Attempt:          t.AttemptIndex + 1,
	})
	if err != nil {
		return OutcomeAborted, "", &StageError{Stage: StageDecomposing, Err: err}
	}
	if strings.TrimSpace(out.SQL) == "" {
		return OutcomeAborted, "", &StageError{Stage: StageDecomposing, Err: ErrEmptySQL}
	}
	t.CandidateSQL = strings.TrimSpace(out.SQL)
	t.SubQuestions = out.SubQuestions
	t.StrategyLabel = out.StrategyLabel
	t.Outcome = nil
	return OutcomeOK, "", nil
}

// retrieve fetches the bundle once per task. Failure degrades to an empty
// bundle rather than ending the run.
func (o *Orchestrator) retrieve(ctx context.Context, t *PipelineTask, log *slog.Logger) retrieval.ContextBundle {
	if o.cfg.Retriever == nil {
		return retrieval.ContextBundle{Strategy: t.Strategy}
	}
	query := t.Question
	if t.Evidence != "" {
		query += "\n" + t.Evidence
	}
	b, err := o.cfg.Retriever.Retrieve(ctx, query, t.ScopeID, t.Strategy)
	if err != nil {
		log.Warn("orchestrator: retrieval failed, continuing without context", "error", err)
		return retrieval.ContextBundle{Strategy: t.Strategy}
	}
	return b
}

func (o *Orchestrator) refining(ctx context.Context, t *PipelineTask) (Outcome, string, error) {
	out, err := o.cfg.Refiner.Execute(ctx, t.ScopeID, t.CandidateSQL)
	if err != nil {
		out = ExecutionOutcome{Succeeded: false, ErrorMessage: err.Error()}
	}
	t.Outcome = &out
	if !out.Succeeded {
		return OutcomeFailed, out.ErrorMessage, nil
	}
	return OutcomeOK, "", nil
}

// #endregion

// #region result

func (o *Orchestrator) result(runID string, started time.Time, st *PipelineState) PipelineResult {
	t := st.Task
	times := make(map[Stage]time.Duration, len(st.StageTimes))
	for k, v := range st.StageTimes {
		times[k] = v
	}
	errorLog := make([]errctx.ErrorRecord, len(t.ErrorLog))
	copy(errorLog, t.ErrorLog)

	r := PipelineResult{
		RunID:            runID,
		ScopeID:          t.ScopeID,
		Question:         t.Question,
		Success:          st.Success(),
		State:            st.Stage,
		SQL:              t.CandidateSQL,
		SubQuestions:     t.SubQuestions,
		ExecutionOutcome: t.Outcome,
		RetryCount:       t.AttemptIndex,
		PerStageTime:     times,
		ErrorLog:         errorLog,
		StartedAt:        started,
		Elapsed:          o.now().Sub(started),
	}

	switch st.Stage {
	case StageFailed:
		r.Error = failureSummary(t)
	case StageAborted:
		r.Error = "aborted: " + st.AbortReason
	}
	return r
}

func failureSummary(t *PipelineTask) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "no executable query after %d attempts", len(t.ErrorLog))
	for _, rec := range t.ErrorLog {
		fmt.Fprintf(&sb, "\nattempt %d [%s]: %s", rec.AttemptNumber, rec.Kind, rec.RawMessage)
	}
	return sb.String()
}

// #endregion
