package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alitto/pond/v2"
	"github.com/jellydator/ttlcache/v3"

	"github.com/danielpatrickdp/text2sql/internal/metrics"
)

// #region engine

// Engine embeds a query once, searches the five item types concurrently, and
// filters the results into a ContextBundle.
type Engine struct {
	embedder Embedder
	store    Store
	config   Config
	log      *slog.Logger

	pool  pond.ResultPool[typeResult]
	cache *ttlcache.Cache[string, []float32]
}

type typeResult struct {
	t     ItemType
	items []Item
	err   error
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

// NewEngine creates an Engine. The config is validated and copied.
func NewEngine(embedder Embedder, store Store, config Config, opts ...EngineOption) (*Engine, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("retrieval config: %w", err)
	}

	e := &Engine{
		embedder: embedder,
		store:    store,
		config:   config,
		log:      slog.Default(),
		pool:     pond.NewResultPool[typeResult](config.SearchConcurrency),
		cache: ttlcache.New(
			ttlcache.WithTTL[string, []float32](config.EmbedCacheTTL),
			ttlcache.WithCapacity[string, []float32](config.EmbedCacheSize),
		),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Close stops the search pool.
func (e *Engine) Close() {
	e.pool.StopAndWait()
}

// #endregion engine

// #region retrieve

// Retrieve returns a fresh ContextBundle for query within scopeID. An empty
// strategy uses the configured default. A failed search for one type leaves
// that slot empty; only an embedding failure fails the call.
func (e *Engine) Retrieve(ctx context.Context, query, scopeID string, strategy Strategy) (ContextBundle, error) {
	if strategy == "" {
		strategy = e.config.Strategy
	}

	vec, err := e.embed(ctx, query)
	if err != nil {
		return ContextBundle{Strategy: strategy}, fmt.Errorf("retrieval embed: %w", err)
	}

	group := e.pool.NewGroupContext(ctx)
	for _, t := range ItemTypes {
		req := SearchRequest{
			Embedding: vec,
			Type:      t,
			ScopeID:   scopeID,
			Limit:     2 * strategy.Quota(t, e.config.MaxExamplesPerType),
		}
		group.SubmitErr(func() (typeResult, error) {
			items, err := e.store.Search(ctx, req)
			return typeResult{t: req.Type, items: items, err: err}, nil
		})
	}

	results, err := group.Wait()
	if err != nil {
		return ContextBundle{Strategy: strategy}, fmt.Errorf("retrieval search: %w", err)
	}

	raw := make(map[ItemType][]Item, len(results))
	failed := make(map[ItemType]error)
	for _, r := range results {
		if r.err != nil {
			failed[r.t] = r.err
			metrics.RetrievalErrors.WithLabelValues(string(r.t)).Inc()
			e.log.Warn("retrieval: search failed, slot left empty", "type", r.t, "scope", scopeID, "error", r.err)
			continue
		}
		raw[r.t] = r.items
	}

	bundle := BuildBundle(raw, strategy, e.config)
	for i := range bundle.Stats {
		st := &bundle.Stats[i]
		if err, ok := failed[st.Type]; ok {
			st.Err = err.Error()
		}
		metrics.RetrievalItems.WithLabelValues(string(st.Type), "fetched").Add(float64(st.Fetched))
		metrics.RetrievalItems.WithLabelValues(string(st.Type), "kept").Add(float64(st.Kept))
	}
	metrics.HighQualityQA.Observe(float64(bundle.HighQualityQA))

	e.log.Info("retrieval: bundle built",
		"scope", scopeID,
		"strategy", strategy,
		"total", bundle.Total(),
		"high_quality_qa", bundle.HighQualityQA)

	return bundle, nil
}

// #endregion retrieve

// #region embed

func (e *Engine) embed(ctx context.Context, query string) ([]float32, error) {
	if item := e.cache.Get(query); item != nil {
		metrics.EmbedCache.WithLabelValues("hit").Inc()
		return item.Value(), nil
	}
	metrics.EmbedCache.WithLabelValues("miss").Inc()

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	e.cache.Set(query, vec, ttlcache.DefaultTTL)
	return vec, nil
}

// #endregion embed
