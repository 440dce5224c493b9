package errctx

import (
	"regexp"
	"strings"
)

// #region keywords

var syntaxPhrases = []string{
	"syntax error", "parse error", "incomplete input", "unrecognized token",
	"mismatched input", "unexpected token", "unterminated", "near \"",
	"missing right parenthesis", "unbalanced parenthes",
}

var schemaPhrases = []string{
	"no such table", "no such column", "unknown table", "unknown column",
	"table not found", "column not found", "undefined table", "undefined column",
	"ambiguous column", "has no column named",
	"unknown identifier", "missing columns",
}

// missingObject matches "<relation|table|view|column> ... does not exist" as
// reported by postgres, mysql, duckdb and clickhouse. A missing database or
// function is not a schema error.
var missingObject = regexp.MustCompile(`\b(relation|table|view|column)\b[^\n]*\b(does not|doesn't) exist`)

var logicPhrases = []string{
	"group by", "aggregate", "having clause", "not a group",
	"must appear in the group", "window function", "not an aggregate",
}

var executionPhrases = []string{
	"timeout", "timed out", "deadline exceeded", "permission", "denied",
	"connection", "database is locked", "interrupted", "out of memory",
	"too many", "canceled", "cancelled",
}

// #endregion

// #region classify

// Classify maps a raw failure message to an ErrorKind. Matching is
// case-insensitive and the first matching category wins, in the order
// syntax, schema, logic, execution. Empty input is unknown; anything else
// that matches nothing is an execution error.
func Classify(raw string) ErrorKind {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "" {
		return KindUnknown
	}

	switch {
	case containsAny(lower, syntaxPhrases):
		return KindSyntax
	case containsAny(lower, schemaPhrases), missingObject.MatchString(lower):
		return KindSchema
	case containsAny(lower, logicPhrases):
		return KindLogic
	case containsAny(lower, executionPhrases):
		return KindExecution
	}
	return KindExecution
}

// #endregion

// #region helpers

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// #endregion
