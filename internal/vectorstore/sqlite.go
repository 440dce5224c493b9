// Package vectorstore holds the retrieval backends: a Weaviate class and an
// embedded SQLite table with brute-force cosine search.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/text2sql/internal/retrieval"
)

// #region record

// Record is one retrievable item with its embedding.
type Record struct {
	ID        string
	Type      retrieval.ItemType
	ScopeID   string
	Content   string
	Fields    map[string]string
	Embedding []float32
}

func (r *Record) normalize() error {
	if !r.Type.Valid() {
		return fmt.Errorf("invalid item type %q", r.Type)
	}
	if r.Content == "" {
		return fmt.Errorf("content is required")
	}
	if len(r.Embedding) == 0 {
		return fmt.Errorf("embedding is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// #endregion record

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS vector_items (
	id          TEXT PRIMARY KEY,
	data_type   TEXT NOT NULL,
	scope_id    TEXT NOT NULL,
	content     TEXT NOT NULL,
	fields_json TEXT,
	embedding   BLOB NOT NULL,
	dims        INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vector_items_scope_type ON vector_items(scope_id, data_type);
`

// #endregion schema

// #region store-struct

// SQLite is an embedded vector store. Search scans every row of the
// requested (scope, type) pair.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database and runs migrations.
func NewSQLite(dbPath string) (*SQLite, error) {
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
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// #endregion store-struct

// #region add

// Add inserts or replaces a record. A missing ID is generated.
func (s *SQLite) Add(ctx context.Context, r Record) (string, error) {
	if err := r.normalize(); err != nil {
		return "", err
	}
	fieldsJSON, err := json.Marshal(r.Fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vector_items (id, data_type, scope_id, content, fields_json, embedding, dims, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Type), r.ScopeID, r.Content, string(fieldsJSON),
		encodeVector(r.Embedding), len(r.Embedding), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("insert item: %w", err)
	}
	return r.ID, nil
}

// Count returns the number of records, optionally restricted to a scope.
func (s *SQLite) Count(ctx context.Context, scopeID string) (int, error) {
	var n int
	var err error
	if scopeID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_items`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vector_items WHERE scope_id = ?`, scopeID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

// #endregion add

// #region search

// Search implements retrieval.Store. Items are scored by cosine similarity
// and returned best first; rows with a different dimension are skipped.
func (s *SQLite) Search(ctx context.Context, req retrieval.SearchRequest) ([]retrieval.Item, error) {
	if req.Limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, fields_json, embedding FROM vector_items
		 WHERE data_type = ? AND scope_id = ? AND dims = ?`,
		string(req.Type), req.ScopeID, len(req.Embedding))
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []retrieval.Item
	for rows.Next() {
		var (
			it         retrieval.Item
			fieldsJSON sql.NullString
			blob       []byte
		)
		if err := rows.Scan(&it.ID, &it.Content, &fieldsJSON, &blob); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if fieldsJSON.Valid && fieldsJSON.String != "" && fieldsJSON.String != "null" {
			if err := json.Unmarshal([]byte(fieldsJSON.String), &it.Fields); err != nil {
				return nil, fmt.Errorf("unmarshal fields of %s: %w", it.ID, err)
			}
		}
		it.Type = req.Type
		it.Score = float64(cosineSimilarity(req.Embedding, decodeVector(blob)))
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > req.Limit {
		items = items[:req.Limit]
	}
	return items, nil
}

// #endregion search

// #region vector-encoding
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// cosineSimilarity returns 0 for zero-length or mismatched vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// #endregion vector-encoding
