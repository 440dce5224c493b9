package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/text2sql/internal/errctx"
	"github.com/danielpatrickdp/text2sql/internal/executor"
	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
	"github.com/danielpatrickdp/text2sql/internal/retrieval"
	"github.com/danielpatrickdp/text2sql/internal/runlog"
	"github.com/danielpatrickdp/text2sql/internal/vectorstore"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type echoRunner struct {
	questions  []string
	strategies []retrieval.Strategy
}

func (r *echoRunner) Run(_ context.Context, req orchestrator.Request) orchestrator.PipelineResult {
	r.questions = append(r.questions, req.Question)
	r.strategies = append(r.strategies, req.Strategy)
	return orchestrator.PipelineResult{
		RunID:   "run-x",
		Success: true,
		State:   orchestrator.StageSucceeded,
		SQL:     "SELECT 1",
		ExecutionOutcome: &orchestrator.ExecutionOutcome{
			Succeeded: true, Columns: []string{"one"}, Rows: [][]any{{int64(1)}}, RowCount: 1,
		},
	}
}

type fakeEmbedder struct {
	fail string
}

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail != "" && strings.Contains(text, f.fail) {
		return nil, errors.New("embedding service down")
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestRepl(t *testing.T) {
	r := &echoRunner{}
	in := strings.NewReader("how many?\n\n  second question  \nquit\nnever asked\n")
	var out bytes.Buffer

	err := repl(context.Background(), in, &out, &askFlags{scope: "shop", maxRows: 5}, r)
	require.NoError(t, err)

	assert.Equal(t, []string{"how many?", "second question"}, r.questions)
	assert.Contains(t, out.String(), "Scope: shop")
	assert.Contains(t, out.String(), "[turn-2] state=succeeded retries=0 run=run-x")
}

func TestAskRequest_Strategy(t *testing.T) {
	req, err := (&askFlags{scope: "shop"}).request("how many?")
	require.NoError(t, err)
	assert.Equal(t, retrieval.Strategy(""), req.Strategy)

	req, err = (&askFlags{scope: "shop", strategy: "sql_heavy"}).request("how many?")
	require.NoError(t, err)
	assert.Equal(t, retrieval.StrategySQLHeavy, req.Strategy)

	r := &echoRunner{}
	require.NoError(t, repl(context.Background(), strings.NewReader("q\n"), io.Discard, &askFlags{scope: "shop"}, r))
	assert.Equal(t, []retrieval.Strategy{""}, r.strategies)
}

func TestRepl_BadStrategy(t *testing.T) {
	err := repl(context.Background(), strings.NewReader("q\n"), io.Discard, &askFlags{scope: "shop", strategy: "nope"}, &echoRunner{})
	require.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	res := orchestrator.PipelineResult{
		Success:    true,
		SQL:        "SELECT name, city FROM customers",
		RetryCount: 1,
		Elapsed:    1500 * time.Millisecond,
		ExecutionOutcome: &orchestrator.ExecutionOutcome{
			Succeeded: true,
			Columns:   []string{"name", "city"},
			Rows:      [][]any{{"Ola", "Oslo"}, {"Kari", nil}, {"Nora", "Bergen"}},
			RowCount:  3,
			Truncated: true,
		},
	}
	var buf bytes.Buffer
	require.NoError(t, printResult(&buf, res, false, 2))
	out := buf.String()
	assert.Contains(t, out, "SELECT name, city FROM customers")
	assert.Contains(t, out, "NULL")
	assert.NotContains(t, out, "Nora")
	assert.Contains(t, out, "3 row(s) (truncated) in 1.5s, 1 retry")

	buf.Reset()
	failed := orchestrator.PipelineResult{State: orchestrator.StageFailed, SQL: "SELECT x", Error: "no executable query after 3 attempts"}
	require.NoError(t, printResult(&buf, failed, false, 10))
	assert.Contains(t, buf.String(), "no executable query")

	buf.Reset()
	require.NoError(t, printResult(&buf, res, true, 10))
	assert.Contains(t, buf.String(), `"success": true`)
}

func TestReadIngestItems(t *testing.T) {
	input := `# comment
{"type": "qa_pair", "content": "Q: customers in Oslo A: SELECT * FROM customers WHERE city='Oslo'", "fields": {"question": "customers in Oslo"}}
{"id": "n1", "type": "domain_note", "scope_id": "hr", "content": "fiscal year starts in April"}
`
	items, err := readIngestItems(strings.NewReader(input), "shop")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "shop", items[0].ScopeID)
	assert.Equal(t, "customers in Oslo", items[0].Fields["question"])
	assert.Equal(t, "hr", items[1].ScopeID)

	_, err = readIngestItems(strings.NewReader(`{"type": "tweet", "content": "x"}`), "shop")
	assert.ErrorContains(t, err, "unknown item type")

	_, err = readIngestItems(strings.NewReader(`{"type": "ddl", "content": "x"}`), "")
	assert.ErrorContains(t, err, "scope_id is required")
}

func TestSchemaItems(t *testing.T) {
	schema := executor.Schema{
		Tables: []executor.Table{
			{Name: "customers", Columns: []executor.Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}, {Name: "name", Type: "TEXT"}}},
			{Name: "orders", Columns: []executor.Column{{Name: "id", Type: "INTEGER", PrimaryKey: true}, {Name: "customer_id", Type: "INTEGER"}}},
		},
		ForeignKeys: []executor.ForeignKey{{FromTable: "orders", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id"}},
	}
	items := schemaItems("shop", schema, 2000)
	require.Len(t, items, 2)
	assert.Equal(t, "shop:ddl:customers", items[0].ID)
	assert.Contains(t, items[0].Content, "id INTEGER PRIMARY KEY,")
	assert.Contains(t, items[1].Content, "customer_id references customers(id)")
	assert.Equal(t, string(retrieval.TypeDDL), items[1].Type)
}

func TestSchemaItems_SplitsWideTables(t *testing.T) {
	table := executor.Table{Name: "events"}
	for i := 0; i < 150; i++ {
		table.Columns = append(table.Columns, executor.Column{Name: fmt.Sprintf("attribute_%03d", i), Type: "VARCHAR"})
	}
	schema := executor.Schema{Tables: []executor.Table{table}}

	items := schemaItems("lake", schema, 500)
	require.Greater(t, len(items), 1)

	seen := 0
	for i, it := range items {
		assert.LessOrEqual(t, utf8.RuneCountInString(it.Content), 500)
		assert.True(t, strings.HasPrefix(it.Content, "CREATE TABLE events (\n"))
		assert.True(t, strings.HasSuffix(it.Content, "\n);"))
		assert.NotContains(t, it.Content, ",\n);")
		assert.Equal(t, fmt.Sprintf("lake:ddl:events:%d", i+1), it.ID)
		assert.Equal(t, fmt.Sprintf("%d/%d", i+1, len(items)), it.Fields["part"])
		seen += strings.Count(it.Content, "VARCHAR")
	}
	assert.Equal(t, 150, seen)
}

func TestIngest_WarnsOnOversizedItems(t *testing.T) {
	store, err := vectorstore.NewSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	items := []ingestItem{{ID: "big", Type: "documentation", ScopeID: "shop", Content: strings.Repeat("x", 30)}}

	n, err := ingest(context.Background(), fakeEmbedder{}, store, items, 20, log)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, logs.String(), "exceeds max content length")
	assert.Contains(t, logs.String(), "id=big")
}

func TestIngest(t *testing.T) {
	store, err := vectorstore.NewSQLite(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	items := []ingestItem{
		{ID: "a", Type: "ddl", ScopeID: "shop", Content: "CREATE TABLE customers (id INTEGER)"},
		{Type: "domain_note", ScopeID: "shop", Content: "customers are never deleted"},
		{Type: "domain_note", ScopeID: "shop", Content: "this one fails to embed"},
	}

	n, err := ingest(ctx, fakeEmbedder{fail: "fails"}, store, items, 2000, discard)
	require.Error(t, err)
	assert.Equal(t, 2, n)

	count, err := store.Count(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPrintRunList(t *testing.T) {
	var buf bytes.Buffer
	err := printRunList(&buf, []runlog.Run{{
		RunID:    "0123456789abcdef",
		ScopeID:  "shop",
		State:    orchestrator.StageFailed,
		Question: "how   many\ncustomers",
	}})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "01234567")
	assert.NotContains(t, buf.String(), "89abcdef")
	assert.Contains(t, buf.String(), "how many customers")
}

func TestPrintRunDetail(t *testing.T) {
	var buf bytes.Buffer
	printRunDetail(&buf, runlog.Run{
		RunID:      "r1",
		State:      orchestrator.StageFailed,
		StageTimes: map[orchestrator.Stage]float64{orchestrator.StageRefining: 0.25},
		ErrorLog: []errctx.ErrorRecord{
			{AttemptNumber: 1, Kind: errctx.KindSchema, RawMessage: "no such table: users"},
			{AttemptNumber: 2, Kind: errctx.KindSchema, RawMessage: "no such table: user_table"},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "refining")
	assert.Contains(t, out, "#2 schema_error")
	assert.Contains(t, out, "repeated schema_error errors (2 times)")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}
