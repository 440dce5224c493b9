package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// #region registry-struct

// Registry maps scope ids to lazily opened connection pools. It is safe for
// concurrent use.
type Registry struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	scopes map[string]Scope
	dbs    map[string]*sql.DB
	closed bool
}

// NewRegistry validates scopes and returns a Registry. No connection is
// opened until a scope is first used.
func NewRegistry(scopes []Scope, opts Options, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultOptions()
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = def.QueryTimeout
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = def.MaxRows
	}

	r := &Registry{
		opts:   opts,
		log:    log,
		scopes: make(map[string]Scope, len(scopes)),
		dbs:    make(map[string]*sql.DB),
	}
	for _, s := range scopes {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.scopes[s.ID]; dup {
			return nil, fmt.Errorf("duplicate scope %q", s.ID)
		}
		r.scopes[s.ID] = s
	}
	return r, nil
}

// #endregion registry-struct

// #region accessors

// Scopes returns the registered scope ids.
func (r *Registry) Scopes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.scopes))
	for id := range r.scopes {
		ids = append(ids, id)
	}
	return ids
}

// Driver returns the driver of a scope.
func (r *Registry) Driver(scopeID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scopes[scopeID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownScope, scopeID)
	}
	return s.Driver, nil
}

// Attach registers an already open database under a scope id. Used for
// embedded databases the caller owns the setup of.
func (r *Registry) Attach(scopeID, driver string, db *sql.DB) error {
	if !validDriver(driver) {
		return fmt.Errorf("scope %q: unsupported driver %q", scopeID, driver)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, dup := r.scopes[scopeID]; dup {
		return fmt.Errorf("duplicate scope %q", scopeID)
	}
	r.scopes[scopeID] = Scope{ID: scopeID, Driver: driver}
	r.dbs[scopeID] = db
	return nil
}

// DB returns the pool for a scope, opening it on first use.
func (r *Registry) DB(ctx context.Context, scopeID string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if db, ok := r.dbs[scopeID]; ok {
		return db, nil
	}
	s, ok := r.scopes[scopeID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scopeID)
	}

	db, err := open(s)
	if err != nil {
		return nil, fmt.Errorf("open scope %q: %w", scopeID, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping scope %q: %w", scopeID, err)
	}

	r.dbs[scopeID] = db
	r.log.Info("executor: scope opened", "scope", scopeID, "driver", s.Driver)
	return db, nil
}

// Close closes every open pool.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var errs []error
	for id, db := range r.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close scope %q: %w", id, err))
		}
	}
	r.dbs = map[string]*sql.DB{}
	return errors.Join(errs...)
}

// #endregion accessors

// #region open

func open(s Scope) (*sql.DB, error) {
	switch s.Driver {
	case DriverClickHouse:
		opts, err := clickhouse.ParseDSN(s.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
		}
		return clickhouse.OpenDB(opts), nil

	case DriverPostgres:
		db, err := sql.Open(DriverPostgres, s.DSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		db.SetConnMaxIdleTime(1 * time.Minute)
		return db, nil

	case DriverSQLite:
		dsn := s.DSN
		if !strings.Contains(dsn, "mode=") && dsn != ":memory:" {
			// Opened read-only; the executor never writes.
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn = "file:" + strings.TrimPrefix(dsn, "file:") + sep + "mode=ro"
		}
		return sql.Open(DriverSQLite, dsn)

	case DriverDuckDB:
		return sql.Open(DriverDuckDB, s.DSN)
	}
	return nil, fmt.Errorf("unsupported driver %q", s.Driver)
}

// #endregion open
