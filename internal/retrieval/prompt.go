package retrieval

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// #region prompt-text

const generationInstructions = `# Generation instructions
1. Break the question into sub-questions when it needs more than one step.
2. Use only tables and columns from the schema above; qualify ambiguous columns.
3. Prefer the join paths shown in the relationships and example queries.
4. Produce one read-only SQL statement that answers the full question.
5. Reply with JSON: {"sub_questions": [...], "sql": "...", "strategy": "..."}.`

// TruncationMarker is appended when a prompt is cut to the configured length.
const TruncationMarker = "\n\n[TRUNCATED: prompt exceeded %d characters; remaining context omitted]"

// #endregion prompt-text

// #region build-prompt

// BuildPrompt assembles the synthesis prompt in a fixed order: task header,
// schema, structural definitions, high-quality QA pairs, example queries,
// documentation, domain notes, generation instructions, extra instructions.
// Empty sections are omitted. Output longer than cfg.MaxPromptLength runes
// is cut and ends with the truncation marker.
func BuildPrompt(query string, b ContextBundle, schemaText, extra string, cfg Config) string {
	var sb strings.Builder

	sb.WriteString("# Task\nWrite a SQL query that answers the question below.\n\nQuestion: ")
	sb.WriteString(strings.TrimSpace(query))
	sb.WriteString("\n")

	if s := strings.TrimSpace(schemaText); s != "" {
		section(&sb, "Database schema")
		sb.WriteString(s)
		sb.WriteString("\n")
	}

	if len(b.DDL) > 0 {
		section(&sb, "Table definitions")
		for _, it := range b.DDL {
			sb.WriteString(strings.TrimSpace(it.Content))
			sb.WriteString("\n\n")
		}
	}

	if pairs := b.HighQualityQAPairs(cfg.HighQualityScore); len(pairs) > 0 {
		section(&sb, "Similar solved questions")
		for i, p := range pairs {
			q, sql := p.Field("question"), p.Field("sql")
			if q == "" || sql == "" {
				fmt.Fprintf(&sb, "Example %d (similarity %.2f):\n%s\n\n", i+1, p.Score, strings.TrimSpace(p.Content))
				continue
			}
			fmt.Fprintf(&sb, "Example %d (similarity %.2f):\nQuestion: %s\nSQL: %s\n\n", i+1, p.Score, q, sql)
		}
	}

	if len(b.SQLExamples) > 0 {
		section(&sb, "Example queries")
		for _, it := range b.SQLExamples {
			if title := it.Field("title"); title != "" {
				fmt.Fprintf(&sb, "-- %s\n", title)
			}
			sb.WriteString(strings.TrimSpace(it.Content))
			sb.WriteString("\n\n")
		}
	}

	if len(b.Documentation) > 0 {
		section(&sb, "Documentation")
		for _, it := range b.Documentation {
			sb.WriteString("- ")
			sb.WriteString(strings.TrimSpace(it.Content))
			sb.WriteString("\n")
		}
	}

	if len(b.DomainNotes) > 0 {
		section(&sb, "Domain notes")
		for _, it := range b.DomainNotes {
			sb.WriteString("- ")
			sb.WriteString(strings.TrimSpace(it.Content))
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(generationInstructions)
	sb.WriteString("\n")

	if e := strings.TrimSpace(extra); e != "" {
		section(&sb, "Additional instructions")
		sb.WriteString(e)
		sb.WriteString("\n")
	}

	return truncate(sb.String(), cfg.MaxPromptLength)
}

func section(sb *strings.Builder, title string) {
	sb.WriteString("\n# ")
	sb.WriteString(title)
	sb.WriteString("\n")
}

// #endregion build-prompt

// #region truncate

// truncate cuts s to at most max runes including the marker.
func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	marker := fmt.Sprintf(TruncationMarker, max)
	keep := max - utf8.RuneCountInString(marker)
	if keep < 0 {
		keep = 0
	}
	r := []rune(s)
	return string(r[:keep]) + marker
}

// #endregion truncate
