// Package agents implements the three pipeline stages against real
// collaborators: schema selection, SQL synthesis and validated execution.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/danielpatrickdp/text2sql/internal/executor"
	"github.com/danielpatrickdp/text2sql/internal/llm"
	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
)

// #region selector

// SchemaSource reads a scope's schema.
type SchemaSource interface {
	FetchSchema(ctx context.Context, scopeID string) (executor.Schema, error)
}

// DefaultPruneThreshold is the column count above which schemas are pruned.
const DefaultPruneThreshold = 200

// Selector renders the schema for a question, pruning it to the relevant
// tables when it is large and a model is available.
type Selector struct {
	source    SchemaSource
	llm       llm.Client
	threshold int
	log       *slog.Logger
}

// NewSelector creates a Selector. client may be nil to disable pruning.
func NewSelector(source SchemaSource, client llm.Client, threshold int, log *slog.Logger) *Selector {
	if threshold <= 0 {
		threshold = DefaultPruneThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &Selector{source: source, llm: client, threshold: threshold, log: log}
}

const pruneSystem = `You select database tables. Given a schema and a question, reply with a JSON array of the table names needed to answer it, and nothing else.`

// Select implements orchestrator.Selector.
func (s *Selector) Select(ctx context.Context, in orchestrator.SelectorInput) (orchestrator.SelectorOutput, error) {
	schema, err := s.source.FetchSchema(ctx, in.ScopeID)
	if err != nil {
		return orchestrator.SelectorOutput{}, err
	}
	if len(schema.Tables) == 0 {
		return orchestrator.SelectorOutput{}, fmt.Errorf("scope %q has no tables", in.ScopeID)
	}

	pruned := false
	if s.llm != nil && schema.ColumnCount() > s.threshold {
		keep, err := s.pickTables(ctx, schema, in)
		switch {
		case err != nil:
			s.log.Warn("selector: pruning failed, using full schema", "scope", in.ScopeID, "error", err)
		case len(keep) > 0:
			schema = restrict(schema, keep)
			pruned = true
		}
	}

	return orchestrator.SelectorOutput{
		SchemaText:       RenderSchema(schema),
		RelationshipText: RenderRelationships(schema),
		Pruned:           pruned,
	}, nil
}

func (s *Selector) pickTables(ctx context.Context, schema executor.Schema, in orchestrator.SelectorInput) (map[string]bool, error) {
	var user strings.Builder
	user.WriteString(RenderSchema(schema))
	fmt.Fprintf(&user, "\nQuestion: %s\n", in.Question)
	if in.Evidence != "" {
		fmt.Fprintf(&user, "Evidence: %s\n", in.Evidence)
	}

	reply, err := s.llm.Complete(ctx, pruneSystem, user.String())
	if err != nil {
		return nil, err
	}
	var names []string
	if err := json.Unmarshal([]byte(extractJSON(reply, '[', ']')), &names); err != nil {
		return nil, fmt.Errorf("parse table list: %w", err)
	}

	keep := make(map[string]bool, len(names))
	for _, n := range names {
		if t, ok := schema.Table(n); ok {
			keep[t.Name] = true
		}
	}
	return keep, nil
}

// restrict keeps the chosen tables plus anything they reference directly.
func restrict(s executor.Schema, keep map[string]bool) executor.Schema {
	for _, fk := range s.ForeignKeys {
		if keep[fk.FromTable] {
			keep[fk.ToTable] = true
		}
	}
	var out executor.Schema
	for _, t := range s.Tables {
		if keep[t.Name] {
			out.Tables = append(out.Tables, t)
		}
	}
	for _, fk := range s.ForeignKeys {
		if keep[fk.FromTable] && keep[fk.ToTable] {
			out.ForeignKeys = append(out.ForeignKeys, fk)
		}
	}
	return out
}

// #endregion selector

// #region render

// RenderSchema writes one "# table" block per table with a line per column.
func RenderSchema(s executor.Schema) string {
	var sb strings.Builder
	for i, t := range s.Tables {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "# %s\n", t.Name)
		for _, c := range t.Columns {
			fmt.Fprintf(&sb, "  %s", c.Name)
			if c.Type != "" {
				fmt.Fprintf(&sb, " %s", c.Type)
			}
			if c.PrimaryKey {
				sb.WriteString(" primary key")
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// RenderRelationships writes one "a.x = b.y" line per foreign key, sorted.
func RenderRelationships(s executor.Schema) string {
	lines := make([]string, 0, len(s.ForeignKeys))
	for _, fk := range s.ForeignKeys {
		lines = append(lines, fmt.Sprintf("%s.%s = %s.%s", fk.FromTable, fk.FromColumn, fk.ToTable, fk.ToColumn))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// #endregion render

// extractJSON returns the outermost open..close span of s, or s itself.
func extractJSON(s string, open, close byte) string {
	i := strings.IndexByte(s, open)
	j := strings.LastIndexByte(s, close)
	if i < 0 || j < i {
		return s
	}
	return s[i : j+1]
}
