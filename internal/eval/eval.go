// Package eval measures execution accuracy of the pipeline against JSONL
// fixtures with gold SQL.
package eval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/danielpatrickdp/text2sql/internal/errctx"
	"github.com/danielpatrickdp/text2sql/internal/executor"
	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
	"github.com/danielpatrickdp/text2sql/internal/retrieval"
)

// #region interfaces

// Pipeline answers one request.
type Pipeline interface {
	Run(ctx context.Context, req orchestrator.Request) orchestrator.PipelineResult
}

// GoldRunner executes the gold SQL of a fixture.
type GoldRunner interface {
	Execute(ctx context.Context, scopeID, query string) (executor.Result, error)
}

// #endregion interfaces

// #region eval-harness
// EvalHarness runs fixtures through the pipeline and compares result sets
// with the gold SQL's.
type EvalHarness struct {
	pipeline Pipeline
	gold     GoldRunner
	config   EvalConfig
	log      *slog.Logger
}

// NewEvalHarness creates an eval harness with the given configuration.
func NewEvalHarness(pipeline Pipeline, gold GoldRunner, config EvalConfig, log *slog.Logger) *EvalHarness {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &EvalHarness{pipeline: pipeline, gold: gold, config: config, log: log}
}

// Run evaluates every fixture and aggregates a Report. Cases keep the
// fixture order.
func (h *EvalHarness) Run(ctx context.Context, fixtures []Fixture) (Report, error) {
	pool := pond.NewResultPool[CaseResult](h.config.Concurrency)
	defer pool.StopAndWait()

	group := pool.NewGroupContext(ctx)
	for _, fx := range fixtures {
		group.Submit(func() CaseResult {
			return h.runCase(ctx, fx)
		})
	}
	cases, err := group.Wait()
	if err != nil {
		return Report{}, fmt.Errorf("eval: %w", err)
	}

	report := Summarize(cases)
	h.log.Info("eval: run complete",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"matched", report.Matched,
		"accuracy", report.ExecutionAccuracy)
	return report, nil
}

func (h *EvalHarness) runCase(ctx context.Context, fx Fixture) CaseResult {
	start := time.Now()
	res := h.pipeline.Run(ctx, orchestrator.Request{
		ScopeID:      fx.ScopeID,
		Question:     fx.Question,
		Evidence:     fx.Evidence,
		AttemptLimit: h.config.AttemptLimit,
		Strategy:     retrieval.Strategy(h.config.Strategy),
	})

	cr := CaseResult{
		ID:         fx.ID,
		ScopeID:    fx.ScopeID,
		State:      res.State,
		Success:    res.Success,
		RetryCount: res.RetryCount,
		SQL:        res.SQL,
		GoldSQL:    fx.GoldSQL,
	}
	for _, rec := range res.ErrorLog {
		cr.Kinds = append(cr.Kinds, rec.Kind)
	}

	if !res.Success || res.ExecutionOutcome == nil {
		cr.Reason = res.Error
		cr.Elapsed = time.Since(start)
		return cr
	}

	gold, err := h.gold.Execute(ctx, fx.ScopeID, fx.GoldSQL)
	if err != nil {
		cr.Reason = fmt.Sprintf("gold: %v", err)
		cr.Elapsed = time.Since(start)
		return cr
	}
	if !gold.Succeeded {
		cr.Reason = "gold: " + gold.ErrorMessage
		cr.Elapsed = time.Since(start)
		return cr
	}

	cr.Matched, cr.Reason = CompareRows(res.ExecutionOutcome.Rows, gold.Rows)
	if res.ExecutionOutcome.Truncated || gold.Truncated {
		cr.Reason = strings.TrimSpace(cr.Reason + " (result truncated)")
	}
	h.log.Debug("eval: case done", "id", fx.ID, "state", res.State, "matched", cr.Matched)
	cr.Elapsed = time.Since(start)
	return cr
}

// #endregion eval-harness

// #region compare

// CompareRows reports whether two result sets hold the same rows regardless
// of order. Cells compare by their printed form so driver types (int64 vs
// float64 for whole numbers, []byte vs string) do not cause mismatches. On
// mismatch the second return value is a diff of the sorted rows.
func CompareRows(predicted, gold [][]any) (bool, string) {
	p, g := rowKeys(predicted), rowKeys(gold)
	if cmp.Equal(p, g) {
		return true, ""
	}
	return false, "rows differ (-predicted +gold):\n" + cmp.Diff(p, g)
}

func rowKeys(rows [][]any) []string {
	keys := make([]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = cellString(v)
		}
		keys[i] = strings.Join(cells, "\x1f")
	}
	sort.Strings(keys)
	return keys
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case float64:
		return fmt.Sprintf("%.6g", x)
	case float32:
		return fmt.Sprintf("%.6g", x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// #endregion compare

// #region summarize

// Summarize aggregates case results into a Report.
func Summarize(cases []CaseResult) Report {
	r := Report{
		Total:      len(cases),
		ByState:    make(map[orchestrator.Stage]int),
		ErrorKinds: make(map[errctx.ErrorKind]int),
		Cases:      cases,
	}
	retries := 0
	for _, c := range cases {
		r.ByState[c.State]++
		if c.Success {
			r.Succeeded++
		}
		if c.Matched {
			r.Matched++
		}
		retries += c.RetryCount
		for _, k := range c.Kinds {
			r.ErrorKinds[k]++
		}
	}
	if r.Total > 0 {
		r.ExecutionAccuracy = float64(r.Matched) / float64(r.Total)
		r.MeanRetries = float64(retries) / float64(r.Total)
	}
	return r
}

// Write prints a human-readable summary followed by the unmatched cases.
func (r Report) Write(w io.Writer) {
	fmt.Fprintf(w, "fixtures:            %d\n", r.Total)
	fmt.Fprintf(w, "succeeded:           %d\n", r.Succeeded)
	fmt.Fprintf(w, "matched:             %d\n", r.Matched)
	fmt.Fprintf(w, "execution accuracy:  %.1f%%\n", r.ExecutionAccuracy*100)
	fmt.Fprintf(w, "mean retries:        %.2f\n", r.MeanRetries)

	for _, st := range []orchestrator.Stage{orchestrator.StageSucceeded, orchestrator.StageFailed, orchestrator.StageAborted} {
		fmt.Fprintf(w, "  %-10s %d\n", st, r.ByState[st])
	}
	if len(r.ErrorKinds) > 0 {
		fmt.Fprintln(w, "error kinds:")
		for _, k := range errctx.Kinds {
			if n := r.ErrorKinds[k]; n > 0 {
				fmt.Fprintf(w, "  %-16s %d\n", k, n)
			}
		}
	}

	for _, c := range r.Cases {
		if c.Matched {
			continue
		}
		fmt.Fprintf(w, "\n[%s] %s retries=%d\n", c.ID, c.State, c.RetryCount)
		if c.SQL != "" {
			fmt.Fprintf(w, "  sql:  %s\n", c.SQL)
		}
		fmt.Fprintf(w, "  gold: %s\n", c.GoldSQL)
		if c.Reason != "" {
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(c.Reason, "\n", "\n  "))
		}
	}
}

// #endregion summarize
