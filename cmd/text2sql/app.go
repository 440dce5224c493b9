package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/danielpatrickdp/text2sql/internal/agents"
	"github.com/danielpatrickdp/text2sql/internal/codec"
	"github.com/danielpatrickdp/text2sql/internal/config"
	"github.com/danielpatrickdp/text2sql/internal/executor"
	"github.com/danielpatrickdp/text2sql/internal/llm"
	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
	"github.com/danielpatrickdp/text2sql/internal/retrieval"
	"github.com/danielpatrickdp/text2sql/internal/runlog"
	"github.com/danielpatrickdp/text2sql/internal/vectorstore"
)

// #region store

// itemStore is a retrieval backend that also accepts new records.
type itemStore interface {
	retrieval.Store
	Add(ctx context.Context, r vectorstore.Record) (string, error)
}

// codecStore adapts the codec client to itemStore.
type codecStore struct {
	*codec.CodecClient
}

func (s codecStore) Add(ctx context.Context, r vectorstore.Record) (string, error) {
	return s.StoreItem(ctx, r)
}

// #endregion store

// #region app

// app holds every collaborator built from the configuration.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	registry *executor.Registry
	embedder retrieval.Embedder
	store    itemStore
	engine   *retrieval.Engine
	orch     *orchestrator.Orchestrator
	runs     *runlog.Store

	closers []func() error
}

// newStorage builds the registry, the embedder and the retrieval store. The
// ingest command stops here.
func newStorage(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	registry, err := executor.NewRegistry(cfg.Scopes, cfg.ExecutorOptions(), log)
	if err != nil {
		return nil, fmt.Errorf("scope registry: %w", err)
	}
	a.registry = registry
	a.closers = append(a.closers, registry.Close)

	var codecClient *codec.CodecClient
	if cfg.Embedding.Provider == config.BackendCodec || cfg.Retrieval.Backend == config.BackendCodec {
		codecClient, err = codec.NewCodecClient(cfg.Embedding.CodecAddr)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, codecClient.Close)
	}

	switch cfg.Embedding.Provider {
	case config.BackendCodec:
		a.embedder = codecClient
	default:
		a.embedder = llm.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.RetryPolicy(), log)
	}

	switch cfg.Retrieval.Backend {
	case config.BackendWeaviate:
		w, err := vectorstore.NewWeaviate(cfg.Retrieval.WeaviateURL, cfg.Retrieval.ClassName, log)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := w.EnsureClass(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("weaviate class: %w", err)
		}
		a.store = w
	case config.BackendCodec:
		a.store = codecStore{codecClient}
	default:
		s, err := vectorstore.NewSQLite(cfg.Retrieval.SQLitePath)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("vector store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.store = s
	}
	return a, nil
}

// newApp builds the full pipeline: storage, retrieval engine, stage
// adapters, run log and orchestrator.
func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a, err := newStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	engine, err := retrieval.NewEngine(a.embedder, a.store, cfg.RetrievalSettings(), retrieval.WithLogger(log))
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine = engine
	a.closers = append(a.closers, func() error { engine.Close(); return nil })

	client := newLLMClient(cfg, log)

	var recorder orchestrator.Recorder
	if cfg.RunLog.Path != "" {
		runs, err := runlog.NewStore(cfg.RunLog.Path)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("run log: %w", err)
		}
		a.runs = runs
		a.closers = append(a.closers, runs.Close)
		recorder = runs
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Selector:     agents.NewSelector(a.registry, client, cfg.Pipeline.PruneColumnThreshold, log),
		Decomposer:   agents.NewDecomposer(client, engine.Config(), log),
		Refiner:      agents.NewRefiner(a.registry, log),
		Retriever:    engine,
		Recorder:     recorder,
		AttemptLimit: cfg.Pipeline.AttemptLimit,
		Strategy:     engine.Config().Strategy,
		Logger:       log,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.orch = orch
	return a, nil
}

func newLLMClient(cfg config.Config, log *slog.Logger) llm.Client {
	if cfg.LLM.Provider == llm.ProviderOpenAI {
		return llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.RetryPolicy(), log)
	}
	var opts []option.RequestOption
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.LLM.BaseURL))
	}
	return llm.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.Model, int64(cfg.LLM.MaxTokens), cfg.RetryPolicy(), log, opts...)
}

// close releases resources in reverse construction order.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// #endregion app
