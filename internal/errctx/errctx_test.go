package errctx

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want ErrorKind
	}{
		{"no-such-table", "no such table: users", KindSchema},
		{"syntax-near", "syntax error near FROM", KindSyntax},
		{"empty", "", KindUnknown},
		{"whitespace", "   \n", KindUnknown},
		{"connection-timeout", "connection timeout", KindExecution},
		{"sqlite-syntax", `near "SELEC": syntax error`, KindSyntax},
		{"no-such-column", "no such column: T1.name", KindSchema},
		{"postgres-missing", `relation "orders" does not exist`, KindSchema},
		{"mysql-missing", "Table 'shop.orderz' doesn't exist", KindSchema},
		{"duckdb-missing", "Catalog Error: Table with name orderz does not exist!", KindSchema},
		{"postgres-missing-column", `column "nme" of relation "users" does not exist`, KindSchema},
		{"missing-database", `database "warehouse" does not exist`, KindExecution},
		{"missing-function", "function sum(text) does not exist", KindExecution},
		{"aggregate-misuse", "misuse of aggregate function COUNT()", KindLogic},
		{"group-by", `column "x" must appear in the GROUP BY clause`, KindLogic},
		{"permission", "permission denied for table secrets", KindExecution},
		{"upper-case", "NO SUCH TABLE: Users", KindSchema},
		{"fallback", "something odd happened", KindExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.msg))
		})
	}
}

func TestClassify_DeterministicAndTotal(t *testing.T) {
	inputs := []string{"", "x", "no such table: a", "syntax error", "timeout", "☃", strings.Repeat("a", 10000)}
	for _, in := range inputs {
		first := Classify(in)
		assert.True(t, first.Valid(), "kind %q for %q", first, in)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, Classify(in))
		}
	}
}

func TestNewRecord_Classifies(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := NewRecord(1, "SELECT * FROM users", "no such table: users", at)
	assert.Equal(t, 1, rec.AttemptNumber)
	assert.Equal(t, KindSchema, rec.Kind)
	assert.Equal(t, at, rec.Timestamp)

	rec = NewRecord(2, "", "", time.Time{})
	assert.Equal(t, KindUnknown, rec.Kind)
	assert.False(t, rec.Timestamp.IsZero())
}

func TestAnalyzePatterns_ShortLogs(t *testing.T) {
	assert.Empty(t, AnalyzePatterns(nil))
	assert.Empty(t, AnalyzePatterns([]ErrorRecord{}))
	assert.Empty(t, AnalyzePatterns([]ErrorRecord{
		NewRecord(1, "SELECT 1", "no such table: users", time.Time{}),
	}))
}

func TestAnalyzePatterns_RepeatedSchema(t *testing.T) {
	log := []ErrorRecord{
		NewRecord(1, "SELECT * FROM users", "no such table: users", time.Time{}),
		NewRecord(2, "SELECT * FROM user_table", "no such table: user_table", time.Time{}),
	}
	patterns := AnalyzePatterns(log)
	assert.Contains(t, patterns, "repeated schema_error errors (2 times)")
	assert.Contains(t, patterns, TableNotFoundNote)
	assert.NotContains(t, patterns, IdenticalErrorNote)
}

func TestAnalyzePatterns_Identical(t *testing.T) {
	log := []ErrorRecord{
		NewRecord(1, "SELECT a", "database is locked", time.Time{}),
		NewRecord(2, "SELECT b", "syntax error near FROM", time.Time{}),
		NewRecord(3, "SELECT c", "database is locked", time.Time{}),
	}
	patterns := AnalyzePatterns(log)
	assert.Equal(t, []string{
		"repeated execution_error errors (2 times)",
		IdenticalErrorNote,
	}, patterns)
}

func TestBuildRetryContext(t *testing.T) {
	assert.Equal(t, "", BuildRetryContext(nil))

	log := []ErrorRecord{
		NewRecord(1, "SELECT * FROM users", "no such table: users", time.Time{}),
		NewRecord(2, "SELECT * FROM user_table", "no such table: user_table", time.Time{}),
	}
	out := BuildRetryContext(log)
	assert.Contains(t, out, "Attempt 1 (schema_error)")
	assert.Contains(t, out, "Attempt 2 (schema_error)")
	assert.Contains(t, out, "SELECT * FROM user_table")
	assert.Contains(t, out, "repeated schema_error errors (2 times)")
	assert.Contains(t, out, "Instructions for this attempt")

	assert.Equal(t, out, BuildRetryContext(log), "same log must render identically")
}

func TestBuildRetryContext_MissingFields(t *testing.T) {
	out := BuildRetryContext([]ErrorRecord{{}})
	require.NotEmpty(t, out)
	assert.Contains(t, out, "Attempt 1 (unknown_error)")
	assert.Contains(t, out, unavailable)
}

func TestBuildRetryContext_ClipsLongFields(t *testing.T) {
	long := strings.Repeat("x", maxFieldLen*3)
	out := BuildRetryContext([]ErrorRecord{NewRecord(1, long, long, time.Time{})})
	assert.Less(t, len(out), maxFieldLen*3)
}
