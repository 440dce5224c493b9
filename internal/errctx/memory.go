package errctx

import (
	"fmt"
	"strings"
)

// #region table-not-found

var tableNotFoundPhrases = []string{
	"no such table", "unknown table", "table not found", "undefined table",
}

// TableNotFoundNote is emitted when more than one schema error names a missing table.
const TableNotFoundNote = "table-not-found errors recurring: use only table names listed in the schema"

// IdenticalErrorNote is emitted when two records share the same raw message.
const IdenticalErrorNote = "identical error recurring"

// #endregion

// #region analyze-patterns

// AnalyzePatterns derives recurring-pattern statements from an accumulated
// error log. Fewer than two records never form a pattern.
func AnalyzePatterns(log []ErrorRecord) []string {
	patterns := []string{}
	if len(log) < 2 {
		return patterns
	}

	counts := make(map[ErrorKind]int)
	seen := make(map[string]bool)
	identical := false
	tableNotFound := 0

	for _, rec := range log {
		counts[rec.Kind]++

		if seen[rec.RawMessage] {
			identical = true
		}
		seen[rec.RawMessage] = true

		if rec.Kind == KindSchema && containsAny(strings.ToLower(rec.RawMessage), tableNotFoundPhrases) {
			tableNotFound++
		}
	}

	for _, k := range Kinds {
		if n := counts[k]; n >= 2 {
			patterns = append(patterns, fmt.Sprintf("repeated %s errors (%d times)", k, n))
		}
	}
	if identical {
		patterns = append(patterns, IdenticalErrorNote)
	}
	if tableNotFound > 1 {
		patterns = append(patterns, TableNotFoundNote)
	}
	return patterns
}

// #endregion

// #region kind-counts

// KindCounts tallies records per kind.
func KindCounts(log []ErrorRecord) map[ErrorKind]int {
	counts := make(map[ErrorKind]int, len(Kinds))
	for _, rec := range log {
		counts[rec.Kind]++
	}
	return counts
}

// #endregion
