// Package runlog persists finished pipeline runs and their error records.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/text2sql/internal/errctx"
	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_id          TEXT PRIMARY KEY,
	scope_id        TEXT NOT NULL,
	question        TEXT NOT NULL,
	evidence        TEXT,
	state           TEXT NOT NULL,
	success         INTEGER NOT NULL,
	sql_text        TEXT,
	retry_count     INTEGER NOT NULL,
	row_count       INTEGER,
	error           TEXT,
	sub_questions   TEXT,
	stage_times_json TEXT,
	started_at      TEXT NOT NULL,
	elapsed_ms      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS error_records (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	attempt_number  INTEGER NOT NULL,
	failed_sql      TEXT,
	raw_message     TEXT,
	kind            TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES pipeline_runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON pipeline_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_errors_run ON error_records(run_id);
`

// #endregion schema

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// #region store-struct

// Store records pipeline runs in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion store-struct

// #region types

// Run is one persisted pipeline run.
type Run struct {
	RunID        string                         `json:"run_id"`
	ScopeID      string                         `json:"scope_id"`
	Question     string                         `json:"question"`
	Evidence     string                         `json:"evidence,omitempty"`
	State        orchestrator.Stage             `json:"state"`
	Success      bool                           `json:"success"`
	SQL          string                         `json:"sql,omitempty"`
	RetryCount   int                            `json:"retry_count"`
	RowCount     int                            `json:"row_count"`
	Error        string                         `json:"error,omitempty"`
	SubQuestions []string                       `json:"sub_questions,omitempty"`
	StageTimes   map[orchestrator.Stage]float64 `json:"stage_seconds,omitempty"`
	StartedAt    time.Time                      `json:"started_at"`
	Elapsed      time.Duration                  `json:"elapsed_ns"`
	ErrorLog     []errctx.ErrorRecord           `json:"error_log,omitempty"`
}

// #endregion types

// #region record-run

// RecordRun implements orchestrator.Recorder. The run and its error records
// are written in one transaction.
func (s *Store) RecordRun(ctx context.Context, task *orchestrator.PipelineTask, r orchestrator.PipelineResult) error {
	stageSecs := make(map[orchestrator.Stage]float64, len(r.PerStageTime))
	for k, v := range r.PerStageTime {
		stageSecs[k] = v.Seconds()
	}
	stageJSON, err := json.Marshal(stageSecs)
	if err != nil {
		return fmt.Errorf("marshal stage times: %w", err)
	}
	subJSON, err := json.Marshal(r.SubQuestions)
	if err != nil {
		return fmt.Errorf("marshal sub questions: %w", err)
	}

	rowCount := 0
	if r.ExecutionOutcome != nil {
		rowCount = r.ExecutionOutcome.RowCount
	}
	evidence := ""
	if task != nil {
		evidence = task.Evidence
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO pipeline_runs (run_id, scope_id, question, evidence, state, success, sql_text,
		   retry_count, row_count, error, sub_questions, stage_times_json, started_at, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.ScopeID, r.Question, nullIfEmpty(evidence), string(r.State), boolInt(r.Success),
		nullIfEmpty(r.SQL), r.RetryCount, rowCount, nullIfEmpty(r.Error), string(subJSON),
		string(stageJSON), r.StartedAt.UTC().Format(time.RFC3339Nano), r.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, rec := range r.ErrorLog {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO error_records (run_id, attempt_number, failed_sql, raw_message, kind, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.RunID, rec.AttemptNumber, nullIfEmpty(rec.FailedSQL), nullIfEmpty(rec.RawMessage),
			string(rec.Kind), rec.Timestamp.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert error record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// #endregion record-run

// #region queries

const runColumns = `run_id, scope_id, question, evidence, state, success, sql_text, retry_count,
	row_count, error, sub_questions, stage_times_json, started_at, elapsed_ms`

// List returns the most recent runs, newest first, without error records.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get returns one run with its error records in attempt order.
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT attempt_number, failed_sql, raw_message, kind, created_at
		 FROM error_records WHERE run_id = ? ORDER BY attempt_number, id`, runID)
	if err != nil {
		return Run{}, fmt.Errorf("get error records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec errctx.ErrorRecord
		var failedSQL, raw sql.NullString
		var kind, created string
		if err := rows.Scan(&rec.AttemptNumber, &failedSQL, &raw, &kind, &created); err != nil {
			return Run{}, fmt.Errorf("scan error record: %w", err)
		}
		rec.FailedSQL = failedSQL.String
		rec.RawMessage = raw.String
		rec.Kind = errctx.ErrorKind(kind)
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		r.ErrorLog = append(r.ErrorLog, rec)
	}
	return r, rows.Err()
}

// KindCounts aggregates persisted error records by kind. An empty scopeID
// counts across all scopes.
func (s *Store) KindCounts(ctx context.Context, scopeID string) (map[errctx.ErrorKind]int, error) {
	q := `SELECT e.kind, COUNT(*) FROM error_records e`
	var args []any
	if scopeID != "" {
		q += ` JOIN pipeline_runs r ON r.run_id = e.run_id WHERE r.scope_id = ?`
		args = append(args, scopeID)
	}
	q += ` GROUP BY e.kind`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("kind counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[errctx.ErrorKind]int, len(errctx.Kinds))
	for _, k := range errctx.Kinds {
		counts[k] = 0
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[errctx.ErrorKind(kind)] = n
	}
	return counts, rows.Err()
}

// #endregion queries

// #region helpers

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                          Run
		evidence, sqlText, errText sql.NullString
		subJSON, stageJSON         sql.NullString
		state, started             string
		success                    int
		rowCount                   sql.NullInt64
		elapsedMS                  int64
	)
	err := sc.Scan(&r.RunID, &r.ScopeID, &r.Question, &evidence, &state, &success, &sqlText,
		&r.RetryCount, &rowCount, &errText, &subJSON, &stageJSON, &started, &elapsedMS)
	if err != nil {
		return Run{}, err
	}
	r.Evidence = evidence.String
	r.State = orchestrator.Stage(state)
	r.Success = success != 0
	r.SQL = sqlText.String
	r.RowCount = int(rowCount.Int64)
	r.Error = errText.String
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if subJSON.Valid && subJSON.String != "" && subJSON.String != "null" {
		if err := json.Unmarshal([]byte(subJSON.String), &r.SubQuestions); err != nil {
			return Run{}, fmt.Errorf("unmarshal sub questions: %w", err)
		}
	}
	if stageJSON.Valid && stageJSON.String != "" {
		if err := json.Unmarshal([]byte(stageJSON.String), &r.StageTimes); err != nil {
			return Run{}, fmt.Errorf("unmarshal stage times: %w", err)
		}
	}
	return r, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
