package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #region quality-tests

func TestFilterQuality_DropsBelowThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 0.6
	items := []Item{
		{ID: "keep", Content: "SELECT name FROM users", Score: 0.9},
		{ID: "low", Content: "SELECT id FROM orders", Score: 0.59},
		{ID: "edge", Content: "SELECT id FROM items", Score: 0.6},
	}

	got := FilterQuality(items, TypeSQLExample, cfg)
	require.Len(t, got, 2)
	assert.Equal(t, "keep", got[0].ID)
	assert.Equal(t, "edge", got[1].ID)
	for _, it := range got {
		assert.GreaterOrEqual(t, it.Score, cfg.SimilarityThreshold)
	}
}

func TestFilterQuality_LengthBounds(t *testing.T) {
	cfg := DefaultConfig()
	items := []Item{
		{ID: "short", Content: "hello", Score: 1.0},
		{ID: "ten", Content: "0123456789", Score: 0.9},
		{ID: "long", Content: strings.Repeat("a", 2001), Score: 1.0},
		{ID: "max", Content: strings.Repeat("b", 2000), Score: 0.9},
	}

	got := FilterQuality(items, TypeDocumentation, cfg)
	ids := idsOf(got)
	assert.Equal(t, []string{"ten", "max"}, ids)
}

func TestFilterQuality_SQLErrorSignatureOnlyForSQLTypes(t *testing.T) {
	cfg := DefaultConfig()
	items := []Item{
		{ID: "bad", Content: "SELECT * FROM t -- Syntax error near FROM", Score: 0.95},
		{ID: "good", Content: "SELECT count(*) FROM orders", Score: 0.9},
	}

	assert.Equal(t, []string{"good"}, idsOf(FilterQuality(items, TypeSQLExample, cfg)))
	assert.Equal(t, []string{"good"}, idsOf(FilterQuality(items, TypeQAPair, cfg)))
	assert.Equal(t, []string{"bad", "good"}, idsOf(FilterQuality(items, TypeDomainNote, cfg)))
}

func TestFilterQuality_SQLErrorSignatureInSQLField(t *testing.T) {
	cfg := DefaultConfig()
	items := []Item{
		{
			ID: "stale", Content: "Q: how many users signed up?", Score: 0.95,
			Fields: map[string]string{"sql": "SELECT count(*) FROM userz -- no such table: userz"},
		},
		{
			ID: "solved", Content: "Q: how many orders were placed?", Score: 0.9,
			Fields: map[string]string{"sql": "SELECT count(*) FROM orders"},
		},
	}

	assert.Equal(t, []string{"solved"}, idsOf(FilterQuality(items, TypeQAPair, cfg)))
	assert.Equal(t, []string{"stale", "solved"}, idsOf(FilterQuality(items, TypeDocumentation, cfg)))
}

// #endregion quality-tests

// #region diversity-tests

func TestEnsureDiversity_NearDuplicatesCollapse(t *testing.T) {
	items := []Item{
		{ID: "a", Content: "select name from users where age > 30", Score: 0.9},
		{ID: "b", Content: "select name from users where age > 40", Score: 0.8},
	}
	got := EnsureDiversity(items, 1, 0.5)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestEnsureDiversity_MaxSimilarAllowsSome(t *testing.T) {
	items := []Item{
		{ID: "a", Content: "select name from users where age > 30", Score: 0.9},
		{ID: "b", Content: "select name from users where age > 40", Score: 0.8},
		{ID: "c", Content: "select name from users where age > 50", Score: 0.7},
	}
	got := EnsureDiversity(items, 2, 0.5)
	assert.Equal(t, []string{"a", "b"}, idsOf(got))
}

func TestEnsureDiversity_LengthGuard(t *testing.T) {
	short := "select name from users"
	long := short + " " + strings.Repeat("join orders on orders.user_id = users.id ", 3)
	items := []Item{
		{ID: "short", Content: short, Score: 0.9},
		{ID: "long", Content: long, Score: 0.8},
	}
	got := EnsureDiversity(items, 1, 0.1)
	assert.Len(t, got, 2, "very different lengths are never near-duplicates")
}

func TestEnsureDiversity_DistinctItemsSurvive(t *testing.T) {
	items := []Item{
		{ID: "a", Content: "count orders per customer", Score: 0.7},
		{ID: "b", Content: "average salary by department name", Score: 0.9},
	}
	got := EnsureDiversity(items, 1, 0.5)
	assert.Equal(t, []string{"b", "a"}, idsOf(got), "output is score ordered")
}

func TestEnsureDiversity_NeverEmpties(t *testing.T) {
	items := []Item{{ID: "only", Content: "x y z", Score: 0.1}}
	assert.Len(t, EnsureDiversity(items, 0, 0.5), 1)
	assert.Nil(t, EnsureDiversity(nil, 1, 0.5))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard(tokenSet("A b"), tokenSet("a B")), 1e-9)
	assert.InDelta(t, 1.0/3.0, Jaccard(tokenSet("a b"), tokenSet("b c")), 1e-9)
	assert.InDelta(t, 0.0, Jaccard(tokenSet("a"), tokenSet("b")), 1e-9)
	assert.InDelta(t, 1.0, Jaccard(tokenSet(""), tokenSet("  ")), 1e-9)
}

// #endregion diversity-tests

func idsOf(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}
