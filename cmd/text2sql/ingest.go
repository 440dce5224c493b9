package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/text2sql/internal/executor"
	"github.com/danielpatrickdp/text2sql/internal/retrieval"
	"github.com/danielpatrickdp/text2sql/internal/vectorstore"
)

// ingestItem is one line of an ingest JSONL file.
type ingestItem struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	ScopeID string            `json:"scope_id"`
	Content string            `json:"content"`
	Fields  map[string]string `json:"fields"`
}

func newIngestCmd(g *globals) *cobra.Command {
	var (
		filePath    string
		schemaScope string
		scope       string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Embed retrieval items and add them to the configured store.",
		Long: "Reads JSONL items ({id, type, scope_id, content, fields}) from --file, " +
			"or derives one DDL item per table from a registered scope with --from-schema.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (filePath == "") == (schemaScope == "") {
				return fmt.Errorf("exactly one of --file or --from-schema is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			log := g.logger()
			a, err := newStorage(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			maxLen := cfg.RetrievalSettings().MaxContentLength
			var items []ingestItem
			if filePath != "" {
				f, err := os.Open(filePath)
				if err != nil {
					return err
				}
				defer f.Close()
				items, err = readIngestItems(f, scope)
				if err != nil {
					return fmt.Errorf("%s: %w", filePath, err)
				}
			} else {
				schema, err := a.registry.FetchSchema(ctx, schemaScope)
				if err != nil {
					return err
				}
				items = schemaItems(schemaScope, schema, maxLen)
			}

			n, err := ingest(ctx, a.embedder, a.store, items, maxLen, log)
			fmt.Fprintf(cmd.OutOrStdout(), "ingested %d of %d item(s)\n", n, len(items))
			return err
		},
	}
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "JSONL file of items")
	cmd.Flags().StringVar(&schemaScope, "from-schema", "", "derive DDL items from this scope's live schema")
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "scope id for items that omit scope_id")
	return cmd
}

// #region read

func readIngestItems(r io.Reader, defaultScope string) ([]ingestItem, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var items []ingestItem
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var it ingestItem
		if err := json.Unmarshal([]byte(text), &it); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if it.ScopeID == "" {
			it.ScopeID = defaultScope
		}
		if it.ScopeID == "" {
			return nil, fmt.Errorf("line %d: scope_id is required (or pass --scope)", line)
		}
		if !retrieval.ItemType(it.Type).Valid() {
			return nil, fmt.Errorf("line %d: unknown item type %q", line, it.Type)
		}
		if strings.TrimSpace(it.Content) == "" {
			return nil, fmt.Errorf("line %d: content is required", line)
		}
		items = append(items, it)
	}
	return items, sc.Err()
}

// schemaItems renders one CREATE TABLE statement per table. Tables whose
// statement would exceed maxLen runes are split across several items by
// column, each carrying the table header.
func schemaItems(scopeID string, s executor.Schema, maxLen int) []ingestItem {
	items := make([]ingestItem, 0, len(s.Tables))
	for _, t := range s.Tables {
		var lines []string
		for _, c := range t.Columns {
			line := fmt.Sprintf("  %s %s", c.Name, c.Type)
			if c.PrimaryKey {
				line += " PRIMARY KEY"
			}
			lines = append(lines, line)
		}
		for _, fk := range s.ForeignKeys {
			if strings.EqualFold(fk.FromTable, t.Name) {
				lines = append(lines, fmt.Sprintf("  -- %s references %s(%s)", fk.FromColumn, fk.ToTable, fk.ToColumn))
			}
		}

		header := fmt.Sprintf("CREATE TABLE %s (\n", t.Name)
		parts := splitLines(lines, maxLen-utf8.RuneCountInString(header)-len(");"))
		for i, part := range parts {
			it := ingestItem{
				ID:      scopeID + ":ddl:" + t.Name,
				Type:    string(retrieval.TypeDDL),
				ScopeID: scopeID,
				Content: header + renderColumns(part) + ");",
				Fields:  map[string]string{"table": t.Name},
			}
			if len(parts) > 1 {
				it.ID = fmt.Sprintf("%s:%d", it.ID, i+1)
				it.Fields["part"] = fmt.Sprintf("%d/%d", i+1, len(parts))
			}
			items = append(items, it)
		}
	}
	return items
}

// splitLines groups lines so each group's rendered size stays within budget.
// A single line larger than budget gets a group of its own.
func splitLines(lines []string, budget int) [][]string {
	var (
		parts [][]string
		cur   []string
		size  int
	)
	for _, l := range lines {
		n := utf8.RuneCountInString(l) + 2 // ",\n"
		if len(cur) > 0 && budget > 0 && size+n > budget {
			parts = append(parts, cur)
			cur, size = nil, 0
		}
		cur = append(cur, l)
		size += n
	}
	if len(cur) > 0 || len(parts) == 0 {
		parts = append(parts, cur)
	}
	return parts
}

func renderColumns(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		b.WriteString(l)
		if i < len(lines)-1 && !strings.HasPrefix(strings.TrimSpace(lines[i+1]), "--") {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// #endregion read

// #region ingest

type recordAdder interface {
	Add(ctx context.Context, r vectorstore.Record) (string, error)
}

// ingest embeds and stores items in order, stopping at the first failure.
// It returns the number stored. Items longer than maxLen runes are stored but
// retrieval's quality filter will never return them, so they are logged.
func ingest(ctx context.Context, embedder retrieval.Embedder, store recordAdder, items []ingestItem, maxLen int, log *slog.Logger) (int, error) {
	for i, it := range items {
		if n := utf8.RuneCountInString(it.Content); maxLen > 0 && n > maxLen {
			log.Warn("ingest: item exceeds max content length and will never be retrieved",
				"id", it.ID, "type", it.Type, "runes", n, "max", maxLen)
		}
		vec, err := embedder.Embed(ctx, it.Content)
		if err != nil {
			return i, fmt.Errorf("embed item %d: %w", i+1, err)
		}
		id, err := store.Add(ctx, vectorstore.Record{
			ID:        it.ID,
			Type:      retrieval.ItemType(it.Type),
			ScopeID:   it.ScopeID,
			Content:   it.Content,
			Fields:    it.Fields,
			Embedding: vec,
		})
		if err != nil {
			return i, fmt.Errorf("store item %d: %w", i+1, err)
		}
		log.Debug("ingest: item stored", "id", id, "type", it.Type, "scope", it.ScopeID)
	}
	return len(items), nil
}

// #endregion ingest
