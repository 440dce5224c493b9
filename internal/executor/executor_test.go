package executor

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureSchema = `
CREATE TABLE departments (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE employees (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	salary REAL,
	department_id INTEGER REFERENCES departments(id)
);
INSERT INTO departments VALUES (1, 'engineering'), (2, 'sales');
INSERT INTO employees VALUES
	(1, 'ada', 120.0, 1),
	(2, 'grace', 130.0, 1),
	(3, 'linus', 90.0, 2),
	(4, 'ken', 95.0, 2),
	(5, 'barbara', 110.0, 1);
`

// newTestRegistry writes a sqlite fixture to disk and registers it as "hr".
func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hr.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(fixtureSchema)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	r, err := NewRegistry([]Scope{{ID: "hr", Driver: DriverSQLite, DSN: path}}, opts, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestExecute_ReturnsRows(t *testing.T) {
	r := newTestRegistry(t, Options{})

	res, err := r.Execute(context.Background(), "hr", "SELECT name FROM employees WHERE salary > 100 ORDER BY id")
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, []string{"name"}, res.Columns)
	assert.Equal(t, 3, res.RowCount)
	assert.Equal(t, "ada", res.Rows[0][0])
	assert.False(t, res.Truncated)
}

func TestExecute_DatabaseErrorIsResult(t *testing.T) {
	r := newTestRegistry(t, Options{})

	res, err := r.Execute(context.Background(), "hr", "SELECT nme FROM employees")
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.ErrorMessage, "no such column")
}

func TestExecute_CapsRows(t *testing.T) {
	r := newTestRegistry(t, Options{MaxRows: 2})

	res, err := r.Execute(context.Background(), "hr", "SELECT id FROM employees")
	require.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, 2, res.RowCount)
	assert.True(t, res.Truncated)
}

func TestExecute_ReadOnly(t *testing.T) {
	r := newTestRegistry(t, Options{})

	res, err := r.Execute(context.Background(), "hr", "INSERT INTO departments VALUES (3, 'legal')")
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.ErrorMessage, "readonly")
}

func TestExecute_Timeout(t *testing.T) {
	r := newTestRegistry(t, Options{QueryTimeout: 20 * time.Millisecond})

	res, err := r.Execute(context.Background(), "hr", `
		WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 1000000000)
		SELECT count(*) FROM n`)
	require.NoError(t, err)
	assert.False(t, res.Succeeded)
	assert.Contains(t, res.ErrorMessage, "timeout")
}

func TestExecute_UnknownScope(t *testing.T) {
	r := newTestRegistry(t, Options{})

	_, err := r.Execute(context.Background(), "finance", "SELECT 1")
	assert.True(t, errors.Is(err, ErrUnknownScope))
}

func TestFetchSchema_SQLite(t *testing.T) {
	r := newTestRegistry(t, Options{})

	s, err := r.FetchSchema(context.Background(), "hr")
	require.NoError(t, err)
	require.Len(t, s.Tables, 2)
	assert.Equal(t, 6, s.ColumnCount())

	emp, ok := s.Table("EMPLOYEES")
	require.True(t, ok)
	require.Len(t, emp.Columns, 4)
	assert.Equal(t, "id", emp.Columns[0].Name)
	assert.True(t, emp.Columns[0].PrimaryKey)
	assert.Equal(t, "department_id", emp.Columns[3].Name)

	require.Len(t, s.ForeignKeys, 1)
	assert.Equal(t, ForeignKey{FromTable: "employees", FromColumn: "department_id", ToTable: "departments", ToColumn: "id"}, s.ForeignKeys[0])
}

func TestAttach(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	_, err = db.Exec("CREATE TABLE t (x INTEGER); INSERT INTO t VALUES (7)")
	require.NoError(t, err)

	r, err := NewRegistry(nil, Options{}, nil)
	require.NoError(t, err)
	require.NoError(t, r.Attach("mem", DriverSQLite, db))
	defer r.Close()

	res, err := r.Execute(context.Background(), "mem", "SELECT x FROM t")
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Rows[0][0])

	assert.Error(t, r.Attach("mem", DriverSQLite, db), "duplicate scope")
}

func TestNewRegistry_Validates(t *testing.T) {
	_, err := NewRegistry([]Scope{{ID: "x", Driver: "oracle", DSN: "x"}}, Options{}, nil)
	assert.Error(t, err)

	_, err = NewRegistry([]Scope{{ID: "", Driver: DriverSQLite, DSN: "x"}}, Options{}, nil)
	assert.Error(t, err)

	_, err = NewRegistry([]Scope{
		{ID: "a", Driver: DriverSQLite, DSN: "a.db"},
		{ID: "a", Driver: DriverSQLite, DSN: "b.db"},
	}, Options{}, nil)
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	r := newTestRegistry(t, Options{})
	_, err := r.Execute(context.Background(), "hr", "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Execute(context.Background(), "hr", "SELECT 1")
	assert.True(t, errors.Is(err, ErrClosed))
}
