// Package executor runs read-only SQL against the databases registered as
// scopes and reads back their schema.
package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// #region drivers

// Driver names accepted in scope configuration. They double as database/sql
// driver names.
const (
	DriverSQLite     = "sqlite"
	DriverDuckDB     = "duckdb"
	DriverPostgres   = "pgx"
	DriverClickHouse = "clickhouse"
)

// Drivers lists the supported drivers.
var Drivers = []string{DriverSQLite, DriverDuckDB, DriverPostgres, DriverClickHouse}

func validDriver(d string) bool {
	for _, known := range Drivers {
		if d == known {
			return true
		}
	}
	return false
}

// #endregion drivers

// #region scope

// Scope names one database a question may be asked against.
type Scope struct {
	ID     string `yaml:"id" json:"id"`
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"-"`
}

// Validate checks the scope definition.
func (s Scope) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scope id is required")
	}
	if !validDriver(s.Driver) {
		return fmt.Errorf("scope %q: unsupported driver %q", s.ID, s.Driver)
	}
	if s.DSN == "" && s.Driver != DriverDuckDB {
		return fmt.Errorf("scope %q: dsn is required", s.ID)
	}
	return nil
}

// Options bound each query.
type Options struct {
	QueryTimeout time.Duration
	MaxRows      int
}

// DefaultOptions returns the query bounds used when none are configured.
func DefaultOptions() Options {
	return Options{QueryTimeout: 30 * time.Second, MaxRows: 1000}
}

// #endregion scope

// #region result

// Result is the outcome of one query. A query that the database rejected is
// a Result with Succeeded false, not a Go error.
type Result struct {
	Succeeded    bool
	Columns      []string
	Rows         [][]any
	RowCount     int
	Truncated    bool
	ErrorMessage string
	Duration     time.Duration
}

// #endregion result

// #region schema

// Column is one table column.
type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
}

// ForeignKey links From.FromColumn to To.ToColumn.
type ForeignKey struct {
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

// Table is one table with its columns in declaration order.
type Table struct {
	Name    string
	Columns []Column
}

// Schema is the structural description of a scope.
type Schema struct {
	Tables      []Table
	ForeignKeys []ForeignKey
}

// ColumnCount is the total number of columns across tables.
func (s Schema) ColumnCount() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t.Columns)
	}
	return n
}

// Table returns the named table, matched case-insensitively.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Table{}, false
}

// #endregion schema

// #region errors

var (
	// ErrUnknownScope is returned for a scope id with no registration.
	ErrUnknownScope = errors.New("unknown scope")
	// ErrClosed is returned after the registry is closed.
	ErrClosed = errors.New("executor closed")
)

// #endregion errors
