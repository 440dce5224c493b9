package agents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/danielpatrickdp/text2sql/internal/executor"
	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
)

// #region validator

// ErrReadOnly marks a query rejected before execution.
var ErrReadOnly = errors.New("query rejected: only a single read-only statement is allowed")

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	quoted       = regexp.MustCompile(`'(?:[^']|'')*'`)
	leading      = regexp.MustCompile(`(?i)^\s*\(*\s*(select|with|values|explain)\b`)
	forbidden    = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|upsert|drop|alter|create|truncate|attach|detach|pragma|vacuum|reindex|grant|revoke|copy|install)\b`)
)

// ValidateReadOnly rejects anything but one SELECT-like statement. String
// literals and comments are ignored when looking for keywords.
func ValidateReadOnly(query string) error {
	stripped := blockComment.ReplaceAllString(query, " ")
	stripped = lineComment.ReplaceAllString(stripped, " ")
	stripped = quoted.ReplaceAllString(stripped, "''")
	stripped = strings.TrimSpace(stripped)
	stripped = strings.TrimSpace(strings.TrimSuffix(stripped, ";"))

	if stripped == "" {
		return fmt.Errorf("%w: empty query", ErrReadOnly)
	}
	if strings.Contains(stripped, ";") {
		return fmt.Errorf("%w: multiple statements", ErrReadOnly)
	}
	if !leading.MatchString(stripped) {
		return fmt.Errorf("%w: statement must start with SELECT or WITH", ErrReadOnly)
	}
	if m := forbidden.FindString(stripped); m != "" {
		return fmt.Errorf("%w: forbidden keyword %s", ErrReadOnly, strings.ToUpper(m))
	}
	return nil
}

// #endregion validator

// #region refiner

// QueryRunner executes SQL against a scope.
type QueryRunner interface {
	Execute(ctx context.Context, scopeID, query string) (executor.Result, error)
}

// Refiner validates a candidate query and runs it.
type Refiner struct {
	runner QueryRunner
	log    *slog.Logger
}

// NewRefiner creates a Refiner.
func NewRefiner(runner QueryRunner, log *slog.Logger) *Refiner {
	if log == nil {
		log = slog.Default()
	}
	return &Refiner{runner: runner, log: log}
}

// Execute implements orchestrator.Refiner. A rejected query is a failed
// outcome so the pipeline can retry with the rejection as feedback.
func (r *Refiner) Execute(ctx context.Context, scopeID, query string) (orchestrator.ExecutionOutcome, error) {
	if err := ValidateReadOnly(query); err != nil {
		r.log.Warn("refiner: query rejected", "scope", scopeID, "error", err)
		return orchestrator.ExecutionOutcome{ErrorMessage: err.Error()}, nil
	}

	res, err := r.runner.Execute(ctx, scopeID, query)
	if err != nil {
		return orchestrator.ExecutionOutcome{}, err
	}
	return orchestrator.ExecutionOutcome{
		Succeeded:    res.Succeeded,
		Columns:      res.Columns,
		Rows:         res.Rows,
		RowCount:     res.RowCount,
		Truncated:    res.Truncated,
		ErrorMessage: res.ErrorMessage,
	}, nil
}

// #endregion refiner
