package executor

import (
	"context"
	"database/sql"
	"fmt"
)

// #region fetch-schema

// FetchSchema reads the tables, columns and foreign keys of a scope.
func (r *Registry) FetchSchema(ctx context.Context, scopeID string) (Schema, error) {
	driver, err := r.Driver(scopeID)
	if err != nil {
		return Schema{}, err
	}
	db, err := r.DB(ctx, scopeID)
	if err != nil {
		return Schema{}, err
	}

	var s Schema
	switch driver {
	case DriverSQLite:
		s, err = sqliteSchema(ctx, db)
	case DriverClickHouse:
		s, err = columnsSchema(ctx, db, clickhouseColumns)
	case DriverPostgres:
		s, err = columnsSchema(ctx, db, postgresColumns)
		if err == nil {
			s.ForeignKeys, err = foreignKeys(ctx, db, postgresForeignKeys)
		}
	case DriverDuckDB:
		s, err = columnsSchema(ctx, db, duckdbColumns)
	default:
		err = fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return Schema{}, fmt.Errorf("fetch schema for %q: %w", scopeID, err)
	}
	return s, nil
}

// #endregion fetch-schema

// #region sqlite

func sqliteSchema(ctx context.Context, db *sql.DB) (Schema, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return Schema{}, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return Schema{}, err
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Schema{}, err
	}

	var s Schema
	for _, name := range names {
		t := Table{Name: name}
		cols, err := db.QueryContext(ctx, `SELECT name, type, pk FROM pragma_table_info(?) ORDER BY cid`, name)
		if err != nil {
			return Schema{}, fmt.Errorf("columns of %s: %w", name, err)
		}
		for cols.Next() {
			var c Column
			var pk int
			if err := cols.Scan(&c.Name, &c.Type, &pk); err != nil {
				cols.Close()
				return Schema{}, err
			}
			c.PrimaryKey = pk > 0
			t.Columns = append(t.Columns, c)
		}
		cols.Close()
		s.Tables = append(s.Tables, t)

		fks, err := db.QueryContext(ctx, `SELECT "table", "from", "to" FROM pragma_foreign_key_list(?) ORDER BY id, seq`, name)
		if err != nil {
			return Schema{}, fmt.Errorf("foreign keys of %s: %w", name, err)
		}
		for fks.Next() {
			fk := ForeignKey{FromTable: name}
			var to sql.NullString
			if err := fks.Scan(&fk.ToTable, &fk.FromColumn, &to); err != nil {
				fks.Close()
				return Schema{}, err
			}
			fk.ToColumn = to.String
			s.ForeignKeys = append(s.ForeignKeys, fk)
		}
		fks.Close()
	}
	return s, nil
}

// #endregion sqlite

// #region information-schema

// Each query yields (table_name, column_name, data_type, is_primary_key).
const (
	postgresColumns = `
SELECT c.table_name, c.column_name, c.data_type,
       EXISTS (
         SELECT 1 FROM information_schema.table_constraints tc
         JOIN information_schema.key_column_usage k
           ON k.constraint_name = tc.constraint_name AND k.table_schema = tc.table_schema
         WHERE tc.constraint_type = 'PRIMARY KEY'
           AND tc.table_schema = c.table_schema
           AND k.table_name = c.table_name
           AND k.column_name = c.column_name
       ) AS pk
FROM information_schema.columns c
WHERE c.table_schema = current_schema()
ORDER BY c.table_name, c.ordinal_position`

	duckdbColumns = `
SELECT table_name, column_name, data_type, false AS pk
FROM information_schema.columns
WHERE table_schema = current_schema()
ORDER BY table_name, ordinal_position`

	clickhouseColumns = `
SELECT table, name, type, is_in_primary_key = 1
FROM system.columns
WHERE database = currentDatabase()
ORDER BY table, position`

	postgresForeignKeys = `
SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = current_schema()
ORDER BY kcu.table_name, kcu.column_name`
)

func columnsSchema(ctx context.Context, db *sql.DB, query string) (Schema, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return Schema{}, err
	}
	defer rows.Close()

	var s Schema
	index := map[string]int{}
	for rows.Next() {
		var table string
		var c Column
		if err := rows.Scan(&table, &c.Name, &c.Type, &c.PrimaryKey); err != nil {
			return Schema{}, err
		}
		i, ok := index[table]
		if !ok {
			i = len(s.Tables)
			index[table] = i
			s.Tables = append(s.Tables, Table{Name: table})
		}
		s.Tables[i].Columns = append(s.Tables[i].Columns, c)
	}
	return s, rows.Err()
}

func foreignKeys(ctx context.Context, db *sql.DB, query string) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.FromTable, &fk.FromColumn, &fk.ToTable, &fk.ToColumn); err != nil {
			return nil, err
		}
		out = append(out, fk)
	}
	return out, rows.Err()
}

// #endregion information-schema
