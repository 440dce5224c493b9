package vectorstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/text2sql/internal/retrieval"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// #region sqlite-tests

func TestSQLite_SearchRanksAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	add := func(id string, typ retrieval.ItemType, scope string, vec []float32) {
		_, err := s.Add(ctx, Record{ID: id, Type: typ, ScopeID: scope, Content: "content of " + id, Embedding: vec})
		require.NoError(t, err)
	}
	add("near", retrieval.TypeQAPair, "shop", []float32{1, 0.1})
	add("far", retrieval.TypeQAPair, "shop", []float32{0, 1})
	add("mid", retrieval.TypeQAPair, "shop", []float32{1, 1})
	add("other-scope", retrieval.TypeQAPair, "hr", []float32{1, 0})
	add("other-type", retrieval.TypeDDL, "shop", []float32{1, 0})
	add("other-dims", retrieval.TypeQAPair, "shop", []float32{1, 0, 0})

	items, err := s.Search(ctx, retrieval.SearchRequest{
		Embedding: []float32{1, 0}, Type: retrieval.TypeQAPair, ScopeID: "shop", Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "near", items[0].ID)
	assert.Equal(t, "mid", items[1].ID)
	assert.Equal(t, "far", items[2].ID)
	assert.Greater(t, items[0].Score, 0.99)
	assert.InDelta(t, 0.0, items[2].Score, 1e-6)
	assert.Equal(t, retrieval.TypeQAPair, items[0].Type)

	limited, err := s.Search(ctx, retrieval.SearchRequest{
		Embedding: []float32{1, 0}, Type: retrieval.TypeQAPair, ScopeID: "shop", Limit: 1,
	})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLite_FieldsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, Record{
		Type: retrieval.TypeQAPair, ScopeID: "shop", Content: "how many users -> SELECT count(*) FROM users",
		Fields:    map[string]string{"question": "how many users", "sql": "SELECT count(*) FROM users"},
		Embedding: []float32{0.3, 0.4},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id, "id is generated")

	items, err := s.Search(ctx, retrieval.SearchRequest{Embedding: []float32{0.3, 0.4}, Type: retrieval.TypeQAPair, ScopeID: "shop", Limit: 5})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "how many users", items[0].Field("question"))

	n, err := s.Count(ctx, "shop")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Count(ctx, "hr")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLite_AddValidates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, Record{Type: "blob", Content: "x", Embedding: []float32{1}})
	assert.Error(t, err)
	_, err = s.Add(ctx, Record{Type: retrieval.TypeDDL, Embedding: []float32{1}})
	assert.Error(t, err)
	_, err = s.Add(ctx, Record{Type: retrieval.TypeDDL, Content: "x"})
	assert.Error(t, err)
}

func TestVectorEncoding(t *testing.T) {
	v := []float32{1.5, -2.25, 0, 3.125}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.InDelta(t, 1.0, cosineSimilarity(v, v), 1e-6)
	assert.Zero(t, cosineSimilarity(v, []float32{1}))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{0, 0}))
}

// #endregion sqlite-tests

// #region weaviate-tests

func TestWeaviate_Search(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/graphql", r.URL.Path)
		var body struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		query = body.Query

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"Get":{"Text2SQLItem":[
			{"item_id":"qa-1","content":"how many users","fields_json":"{\"sql\":\"SELECT count(*) FROM users\"}",
			 "_additional":{"id":"0a6f","certainty":0.91,"distance":0.18}},
			{"item_id":"","content":"users by city","fields_json":"",
			 "_additional":{"id":"0b7e","certainty":null,"distance":0.4}}
		]}}}`))
	}))
	defer srv.Close()

	w, err := NewWeaviate(srv.URL, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	items, err := w.Search(context.Background(), retrieval.SearchRequest{
		Embedding: []float32{0.1, 0.2}, Type: retrieval.TypeQAPair, ScopeID: "shop", Limit: 4,
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "qa-1", items[0].ID)
	assert.InDelta(t, 0.91, items[0].Score, 1e-9)
	assert.Equal(t, "SELECT count(*) FROM users", items[0].Field("sql"))
	assert.Equal(t, "0b7e", items[1].ID, "falls back to the object id")
	assert.InDelta(t, 0.8, items[1].Score, 1e-9, "distance converted when certainty is absent")

	assert.Contains(t, query, "Text2SQLItem")
	assert.Contains(t, query, "nearVector")
	assert.Contains(t, query, "data_type")
	assert.Contains(t, query, "qa_pair")
	assert.Contains(t, query, "scope_id")
	assert.Contains(t, query, "limit: 4")
}

func TestWeaviate_GraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"message":"class not found"}]}`))
	}))
	defer srv.Close()

	w, err := NewWeaviate(srv.URL, "Missing", nil)
	require.NoError(t, err)
	_, err = w.Search(context.Background(), retrieval.SearchRequest{Embedding: []float32{1}, Type: retrieval.TypeDDL, Limit: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "class not found")
}

func TestNewWeaviate_RequiresURL(t *testing.T) {
	_, err := NewWeaviate("", "", nil)
	assert.Error(t, err)
}

// #endregion weaviate-tests
