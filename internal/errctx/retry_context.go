package errctx

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// #region limits

const (
	maxFieldLen   = 600
	unavailable   = "(unavailable)"
	retryHeader   = "## Previous failed attempts"
	patternHeader = "## Detected patterns"
)

const retryInstructions = `## Instructions for this attempt
- Do not repeat any SQL statement listed above.
- Fix the root cause named by each error kind before changing anything else.
- Use only tables and columns present in the provided schema.
- Return a single read-only SELECT statement.`

// #endregion

// #region build-retry-context

// BuildRetryContext renders the error log into prompt text for the next
// attempt. The output depends only on log, so repeated calls on an unchanged
// log are identical. An empty log yields an empty string.
func BuildRetryContext(log []ErrorRecord) string {
	if len(log) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(retryHeader)
	sb.WriteString("\n")

	for i, rec := range log {
		attempt := rec.AttemptNumber
		if attempt <= 0 {
			attempt = i + 1
		}
		kind := rec.Kind
		if kind == "" {
			kind = KindUnknown
		}
		fmt.Fprintf(&sb, "\n### Attempt %d (%s)\n", attempt, kind)
		fmt.Fprintf(&sb, "SQL:\n%s\n", orUnavailable(clip(rec.FailedSQL)))
		fmt.Fprintf(&sb, "Error: %s\n", orUnavailable(clip(rec.RawMessage)))
	}

	if patterns := AnalyzePatterns(log); len(patterns) > 0 {
		sb.WriteString("\n")
		sb.WriteString(patternHeader)
		sb.WriteString("\n")
		for _, p := range patterns {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(retryInstructions)
	sb.WriteString("\n")
	return sb.String()
}

// #endregion

// #region helpers

func orUnavailable(s string) string {
	if strings.TrimSpace(s) == "" {
		return unavailable
	}
	return s
}

// clip bounds a field to maxFieldLen runes.
func clip(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxFieldLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxFieldLen]) + "..."
}

// #endregion
