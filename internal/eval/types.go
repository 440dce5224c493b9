package eval

import (
	"time"

	"github.com/danielpatrickdp/text2sql/internal/errctx"
	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
)

// #region eval-config
// EvalConfig controls a harness run.
type EvalConfig struct {
	Concurrency  int // fixtures evaluated in parallel
	AttemptLimit int // 0 uses the orchestrator default
	Strategy     string
}

// DefaultEvalConfig runs fixtures one at a time.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{Concurrency: 1}
}

// #endregion eval-config

// #region case-result
// CaseResult is the outcome of one fixture.
type CaseResult struct {
	ID         string             `json:"id"`
	ScopeID    string             `json:"scope_id"`
	State      orchestrator.Stage `json:"state"`
	Success    bool               `json:"success"`
	Matched    bool               `json:"matched"`
	RetryCount int                `json:"retry_count"`
	SQL        string             `json:"sql,omitempty"`
	GoldSQL    string             `json:"gold_sql"`
	Reason     string             `json:"reason,omitempty"`
	Kinds      []errctx.ErrorKind `json:"error_kinds,omitempty"`
	Elapsed    time.Duration      `json:"elapsed_ns"`
}

// #endregion case-result

// #region report
// Report aggregates a harness run.
type Report struct {
	Total             int                        `json:"total"`
	Succeeded         int                        `json:"succeeded"`
	Matched           int                        `json:"matched"`
	ExecutionAccuracy float64                    `json:"execution_accuracy"`
	ByState           map[orchestrator.Stage]int `json:"by_state"`
	ErrorKinds        map[errctx.ErrorKind]int   `json:"error_kinds"`
	MeanRetries       float64                    `json:"mean_retries"`
	Cases             []CaseResult               `json:"cases"`
}

// #endregion report
