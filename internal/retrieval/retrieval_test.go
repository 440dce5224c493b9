package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region fakes

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	items    map[ItemType][]Item
	errs     map[ItemType]error
	requests []SearchRequest
}

func (f *fakeStore) Search(_ context.Context, req SearchRequest) ([]Item, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := f.errs[req.Type]; err != nil {
		return nil, err
	}
	items := f.items[req.Type]
	if len(items) > req.Limit {
		items = items[:req.Limit]
	}
	return items, nil
}

func distinctItems(t ItemType, n int, score float64) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{
			ID:      fmt.Sprintf("%s-%d", t, i),
			Content: fmt.Sprintf("record%d field%d value%d about %s", i, i, i, t),
			Score:   score - float64(i)*0.01,
		}
	}
	return out
}

// #endregion fakes

// #region quota-tests

func TestStrategyQuotas(t *testing.T) {
	assert.Equal(t, 5, StrategyBalanced.Quota(TypeQAPair, 5))
	assert.Equal(t, 10, StrategyQAHeavy.Quota(TypeQAPair, 5))
	assert.Equal(t, 2, StrategyQAHeavy.Quota(TypeDDL, 5))
	assert.Equal(t, 2, StrategyQAHeavy.Quota(TypeDocumentation, 5))
	assert.Equal(t, 10, StrategyContextHeavy.Quota(TypeDDL, 5))
	assert.Equal(t, 2, StrategyContextHeavy.Quota(TypeQAPair, 5))
	assert.Equal(t, 10, StrategySQLHeavy.Quota(TypeSQLExample, 5))
	assert.Equal(t, 1, StrategyQAHeavy.Quota(TypeDDL, 1), "quota never drops below one")
	assert.Equal(t, 0, StrategyBalanced.Quota(TypeDDL, 0))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyBalanced, s)

	s, err = ParseStrategy("qa_heavy")
	require.NoError(t, err)
	assert.Equal(t, StrategyQAHeavy, s)

	_, err = ParseStrategy("everything")
	assert.Error(t, err)
}

// #endregion quota-tests

// #region bundle-tests

func TestBuildBundle_SortsTruncatesAndCounts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExamplesPerType = 2
	raw := map[ItemType][]Item{
		TypeQAPair: {
			{ID: "q1", Content: "how many users signed up", Score: 0.75},
			{ID: "q2", Content: "total revenue for march", Score: 0.95},
			{ID: "q3", Content: "list departments by size", Score: 0.85},
			{ID: "q4", Content: "oldest employee per office", Score: 0.85},
		},
	}

	b := BuildBundle(raw, StrategyBalanced, cfg)
	assert.Equal(t, []string{"q2", "q3"}, idsOf(b.QAPairs))
	assert.Equal(t, 2, b.HighQualityQA)
	assert.Empty(t, b.DDL)
	assert.Empty(t, b.DomainNotes)
	assert.Equal(t, 2, b.Total())
	require.Len(t, b.Stats, len(ItemTypes))
}

func TestBuildBundle_StableTies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DiversityFilter = false
	raw := map[ItemType][]Item{
		TypeDocumentation: {
			{ID: "first", Content: "orders table stores purchases", Score: 0.8},
			{ID: "second", Content: "users table stores customer accounts", Score: 0.8},
		},
	}
	b := BuildBundle(raw, StrategyBalanced, cfg)
	assert.Equal(t, []string{"first", "second"}, idsOf(b.Documentation))
}

func TestBuildBundle_FiltersDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QualityFilter = false
	cfg.DiversityFilter = false
	raw := map[ItemType][]Item{
		TypeDomainNote: {{ID: "tiny", Content: "x", Score: 0.01}},
	}
	b := BuildBundle(raw, StrategyBalanced, cfg)
	assert.Equal(t, []string{"tiny"}, idsOf(b.DomainNotes))
}

// #endregion bundle-tests

// #region engine-tests

func TestEngine_Retrieve(t *testing.T) {
	store := &fakeStore{items: map[ItemType][]Item{}}
	for _, it := range ItemTypes {
		store.items[it] = distinctItems(it, 12, 0.95)
	}
	emb := &fakeEmbedder{}
	cfg := DefaultConfig()
	cfg.MaxExamplesPerType = 3

	e, err := NewEngine(emb, store, cfg)
	require.NoError(t, err)
	defer e.Close()

	b, err := e.Retrieve(context.Background(), "how many orders", "shop", StrategyQAHeavy)
	require.NoError(t, err)

	assert.Equal(t, int32(1), emb.calls.Load(), "query embedded once per call")
	assert.Len(t, b.QAPairs, 6)
	assert.Len(t, b.DDL, 1)
	assert.Len(t, b.SQLExamples, 3)
	assert.Equal(t, StrategyQAHeavy, b.Strategy)
	assert.Equal(t, 6, b.HighQualityQA)

	require.Len(t, store.requests, len(ItemTypes))
	for _, req := range store.requests {
		assert.Equal(t, "shop", req.ScopeID)
		assert.Equal(t, 2*StrategyQAHeavy.Quota(req.Type, 3), req.Limit, "over-fetch twice the quota")
	}

	_, err = e.Retrieve(context.Background(), "how many orders", "shop", "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), emb.calls.Load(), "embedding served from cache")
}

func TestEngine_SearchFailureLeavesSlotEmpty(t *testing.T) {
	store := &fakeStore{
		items: map[ItemType][]Item{TypeQAPair: distinctItems(TypeQAPair, 3, 0.9)},
		errs:  map[ItemType]error{TypeDDL: errors.New("weaviate unavailable")},
	}
	e, err := NewEngine(&fakeEmbedder{}, store, DefaultConfig())
	require.NoError(t, err)
	defer e.Close()

	b, err := e.Retrieve(context.Background(), "q", "s", "")
	require.NoError(t, err)
	assert.Empty(t, b.DDL)
	assert.Len(t, b.QAPairs, 3)
	for _, st := range b.Stats {
		if st.Type == TypeDDL {
			assert.Contains(t, st.Err, "weaviate unavailable")
		}
	}
}

func TestEngine_EmbedFailure(t *testing.T) {
	e, err := NewEngine(&fakeEmbedder{err: errors.New("boom")}, &fakeStore{}, DefaultConfig())
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Retrieve(context.Background(), "q", "s", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestNewEngine_Validates(t *testing.T) {
	_, err := NewEngine(nil, &fakeStore{}, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Strategy = "nope"
	_, err = NewEngine(&fakeEmbedder{}, &fakeStore{}, cfg)
	assert.Error(t, err)
}

// #endregion engine-tests

// #region prompt-tests

func TestBuildPrompt_Order(t *testing.T) {
	b := ContextBundle{
		DDL:           []Item{{Content: "CREATE TABLE users (id INT)"}},
		Documentation: []Item{{Content: "users holds customers"}},
		SQLExamples:   []Item{{Content: "SELECT count(*) FROM users", Fields: map[string]string{"title": "count users"}}},
		QAPairs: []Item{
			{Content: "q/a", Score: 0.9, Fields: map[string]string{"question": "how many users", "sql": "SELECT count(*) FROM users"}},
			{Content: "weak pair", Score: 0.5},
		},
		DomainNotes: []Item{{Content: "active means status = 1"}},
	}
	p := BuildPrompt("How many users?", b, "users(id)", "Evidence: none", DefaultConfig())

	order := []string{
		"# Task", "Question: How many users?", "# Database schema", "# Table definitions",
		"# Similar solved questions", "# Example queries", "-- count users", "# Documentation",
		"# Domain notes", "# Generation instructions", "# Additional instructions", "Evidence: none",
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(p, marker)
		require.GreaterOrEqual(t, idx, 0, "missing %q", marker)
		assert.Greater(t, idx, last, "%q out of order", marker)
		last = idx
	}
	assert.NotContains(t, p, "weak pair", "low-score pairs are not shown as solved examples")
}

func TestBuildPrompt_EmptyBundle(t *testing.T) {
	p := BuildPrompt("q", ContextBundle{}, "", "", DefaultConfig())
	assert.NotContains(t, p, "# Table definitions")
	assert.NotContains(t, p, "# Additional instructions")
	assert.Contains(t, p, "# Generation instructions")
}

func TestBuildPrompt_Truncates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPromptLength = 400
	schema := strings.Repeat("column_name TEXT,\n", 100)

	p := BuildPrompt("q", ContextBundle{}, schema, "", cfg)
	assert.LessOrEqual(t, len([]rune(p)), 400)
	assert.True(t, strings.HasSuffix(p, fmt.Sprintf(TruncationMarker, 400)))
	assert.Equal(t, p, BuildPrompt("q", ContextBundle{}, schema, "", cfg), "truncation is deterministic")
}

// #endregion prompt-tests
