package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// #region execute

// Execute runs query against a scope within the configured timeout and row
// cap. Database errors come back as a failed Result; only an unknown or
// unreachable scope is a Go error.
func (r *Registry) Execute(ctx context.Context, scopeID, query string) (Result, error) {
	db, err := r.DB(ctx, scopeID)
	if err != nil {
		return Result{}, err
	}

	qctx, cancel := context.WithTimeout(ctx, r.opts.QueryTimeout)
	defer cancel()

	start := time.Now()
	res := scanQuery(qctx, db, query, r.opts.MaxRows)
	res.Duration = time.Since(start)

	if !res.Succeeded && errors.Is(qctx.Err(), context.DeadlineExceeded) {
		res.ErrorMessage = fmt.Sprintf("query timeout after %s: %s", r.opts.QueryTimeout, res.ErrorMessage)
	}

	r.log.Debug("executor: query finished",
		"scope", scopeID,
		"ok", res.Succeeded,
		"rows", res.RowCount,
		"truncated", res.Truncated,
		"duration", res.Duration)
	return res, nil
}

// #endregion execute

// #region scan

func scanQuery(ctx context.Context, db *sql.DB, query string, maxRows int) Result {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return Result{ErrorMessage: err.Error()}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{ErrorMessage: err.Error()}
	}

	res := Result{Columns: cols}
	for rows.Next() {
		if len(res.Rows) >= maxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{Columns: cols, ErrorMessage: err.Error()}
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return Result{Columns: cols, ErrorMessage: err.Error()}
	}

	res.Succeeded = true
	res.RowCount = len(res.Rows)
	return res
}

// #endregion scan
