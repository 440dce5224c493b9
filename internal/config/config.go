// Package config loads the text2sql configuration from a YAML file, a .env
// file and TEXT2SQL_* environment variables, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/text2sql/internal/executor"
	"github.com/danielpatrickdp/text2sql/internal/llm"
	"github.com/danielpatrickdp/text2sql/internal/orchestrator"
	"github.com/danielpatrickdp/text2sql/internal/retrieval"
)

// Backends for the retrieval store and the embedding provider.
const (
	BackendWeaviate = "weaviate"
	BackendSQLite   = "sqlite"
	BackendCodec    = "codec"
)

// #region types

// Config is the full process configuration.
type Config struct {
	LLM       LLMConfig        `yaml:"llm"`
	Embedding EmbeddingConfig  `yaml:"embedding"`
	Retrieval RetrievalConfig  `yaml:"retrieval"`
	Pipeline  PipelineConfig   `yaml:"pipeline"`
	Scopes    []executor.Scope `yaml:"scopes"`
	RunLog    RunLogConfig     `yaml:"runlog"`
	Server    ServerConfig     `yaml:"server"`
}

// LLMConfig selects the completion provider.
type LLMConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	MaxTokens  int           `yaml:"max_tokens"`
	MaxRetries uint          `yaml:"max_retries"`
	MaxElapsed time.Duration `yaml:"max_elapsed"`
}

// EmbeddingConfig selects the embedding provider and the query cache.
type EmbeddingConfig struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	BaseURL       string        `yaml:"base_url"`
	CodecAddr     string        `yaml:"codec_addr"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheCapacity uint64        `yaml:"cache_capacity"`
}

// RetrievalConfig selects the backing store and tunes the filters.
type RetrievalConfig struct {
	Backend     string `yaml:"backend"`
	WeaviateURL string `yaml:"weaviate_url"`
	ClassName   string `yaml:"class_name"`
	SQLitePath  string `yaml:"sqlite_path"`

	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxExamplesPerType  int     `yaml:"max_examples_per_type"`
	Strategy            string  `yaml:"strategy"`
	QualityFilter       *bool   `yaml:"quality_filter"`
	DiversityFilter     *bool   `yaml:"diversity_filter"`
	DiversityJaccard    float64 `yaml:"diversity_jaccard"`
	MaxSimilar          int     `yaml:"max_similar"`
	MinContentLength    int     `yaml:"min_content_length"`
	MaxContentLength    int     `yaml:"max_content_length"`
	HighQualityScore    float64 `yaml:"high_quality_score"`
	MaxPromptLength     int     `yaml:"max_prompt_length"`
	SearchConcurrency   int     `yaml:"search_concurrency"`
}

// PipelineConfig bounds each run.
type PipelineConfig struct {
	AttemptLimit         int           `yaml:"attempt_limit"`
	QueryTimeout         time.Duration `yaml:"query_timeout"`
	MaxRows              int           `yaml:"max_rows"`
	PruneColumnThreshold int           `yaml:"prune_column_threshold"`
}

// RunLogConfig locates the run log database. An empty path disables it.
type RunLogConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig is the HTTP listen address.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// #endregion types

// #region defaults

// Default returns a configuration that runs against a local SQLite store
// with Anthropic completions and OpenAI embeddings.
func Default() Config {
	rc := retrieval.DefaultConfig()
	return Config{
		LLM: LLMConfig{
			Provider:   llm.ProviderAnthropic,
			Model:      "claude-sonnet-4-5",
			MaxTokens:  4096,
			MaxRetries: 3,
			MaxElapsed: time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:      llm.ProviderOpenAI,
			Model:         "text-embedding-3-small",
			CodecAddr:     "localhost:50051",
			CacheTTL:      rc.EmbedCacheTTL,
			CacheCapacity: rc.EmbedCacheSize,
		},
		Retrieval: RetrievalConfig{
			Backend:    BackendSQLite,
			ClassName:  "Text2SQLItem",
			SQLitePath: "text2sql_vectors.db",
		},
		Pipeline: PipelineConfig{
			AttemptLimit:         orchestrator.DefaultAttemptLimit,
			QueryTimeout:         executor.DefaultOptions().QueryTimeout,
			MaxRows:              executor.DefaultOptions().MaxRows,
			PruneColumnThreshold: 200,
		},
		RunLog: RunLogConfig{Path: "text2sql_runs.db"},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// #endregion defaults

// #region load

// Load reads .env (if present), the YAML file at path (if non-empty), and
// environment overrides, then validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.LLM.Provider = envOr("TEXT2SQL_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = envOr("TEXT2SQL_LLM_MODEL", c.LLM.Model)
	c.LLM.BaseURL = envOr("TEXT2SQL_LLM_BASE_URL", c.LLM.BaseURL)
	c.Embedding.Provider = envOr("TEXT2SQL_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = envOr("TEXT2SQL_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.CodecAddr = envOr("TEXT2SQL_CODEC_ADDR", c.Embedding.CodecAddr)
	c.Retrieval.Backend = envOr("TEXT2SQL_RETRIEVAL_BACKEND", c.Retrieval.Backend)
	c.Retrieval.WeaviateURL = envOr("TEXT2SQL_WEAVIATE_URL", c.Retrieval.WeaviateURL)
	c.Retrieval.SQLitePath = envOr("TEXT2SQL_VECTOR_DB", c.Retrieval.SQLitePath)
	c.Retrieval.Strategy = envOr("TEXT2SQL_STRATEGY", c.Retrieval.Strategy)
	c.RunLog.Path = envOr("TEXT2SQL_RUNLOG_DB", c.RunLog.Path)
	c.Server.Addr = envOr("TEXT2SQL_ADDR", c.Server.Addr)

	if v := os.Getenv("TEXT2SQL_ATTEMPT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TEXT2SQL_ATTEMPT_LIMIT: %w", err)
		}
		c.Pipeline.AttemptLimit = n
	}

	// Provider keys fall back to the SDKs' conventional variables.
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case llm.ProviderAnthropic:
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case llm.ProviderOpenAI:
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.Embedding.APIKey == "" && c.Embedding.Provider == llm.ProviderOpenAI {
		c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

// #endregion load

// #region validate

// Validate checks enumerations and fills zero values from Default.
func (c *Config) Validate() error {
	d := Default()

	switch c.LLM.Provider {
	case llm.ProviderAnthropic, llm.ProviderOpenAI:
	default:
		return fmt.Errorf("llm.provider %q must be %s or %s", c.LLM.Provider, llm.ProviderAnthropic, llm.ProviderOpenAI)
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = d.LLM.MaxRetries
	}
	if c.LLM.MaxElapsed <= 0 {
		c.LLM.MaxElapsed = d.LLM.MaxElapsed
	}

	switch c.Embedding.Provider {
	case llm.ProviderOpenAI:
	case BackendCodec:
		if c.Embedding.CodecAddr == "" {
			return fmt.Errorf("embedding.codec_addr is required for the codec provider")
		}
	default:
		return fmt.Errorf("embedding.provider %q must be %s or %s", c.Embedding.Provider, llm.ProviderOpenAI, BackendCodec)
	}

	switch c.Retrieval.Backend {
	case BackendSQLite:
		if c.Retrieval.SQLitePath == "" {
			return fmt.Errorf("retrieval.sqlite_path is required for the sqlite backend")
		}
	case BackendWeaviate:
		if c.Retrieval.WeaviateURL == "" {
			return fmt.Errorf("retrieval.weaviate_url is required for the weaviate backend")
		}
		if c.Retrieval.ClassName == "" {
			c.Retrieval.ClassName = d.Retrieval.ClassName
		}
	case BackendCodec:
		if c.Embedding.CodecAddr == "" {
			return fmt.Errorf("embedding.codec_addr is required for the codec backend")
		}
	default:
		return fmt.Errorf("retrieval.backend %q must be one of %s, %s, %s",
			c.Retrieval.Backend, BackendSQLite, BackendWeaviate, BackendCodec)
	}
	if c.Retrieval.Strategy != "" {
		if _, err := retrieval.ParseStrategy(c.Retrieval.Strategy); err != nil {
			return fmt.Errorf("retrieval.strategy: %w", err)
		}
	}

	if c.Pipeline.AttemptLimit < 0 {
		return fmt.Errorf("pipeline.attempt_limit %d must not be negative", c.Pipeline.AttemptLimit)
	}
	if c.Pipeline.AttemptLimit == 0 {
		c.Pipeline.AttemptLimit = d.Pipeline.AttemptLimit
	}
	if c.Pipeline.QueryTimeout <= 0 {
		c.Pipeline.QueryTimeout = d.Pipeline.QueryTimeout
	}
	if c.Pipeline.MaxRows <= 0 {
		c.Pipeline.MaxRows = d.Pipeline.MaxRows
	}
	if c.Pipeline.PruneColumnThreshold <= 0 {
		c.Pipeline.PruneColumnThreshold = d.Pipeline.PruneColumnThreshold
	}

	seen := make(map[string]bool, len(c.Scopes))
	for _, s := range c.Scopes {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate scope id %q", s.ID)
		}
		seen[s.ID] = true
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}

	rc := c.RetrievalSettings()
	return rc.Validate()
}

// #endregion validate

// #region conversions

// RetrievalSettings converts the retrieval and embedding sections into a
// retrieval.Config. Unset values take the retrieval defaults.
func (c Config) RetrievalSettings() retrieval.Config {
	rc := retrieval.DefaultConfig()
	r := c.Retrieval
	if r.SimilarityThreshold > 0 {
		rc.SimilarityThreshold = r.SimilarityThreshold
	}
	if r.MaxExamplesPerType > 0 {
		rc.MaxExamplesPerType = r.MaxExamplesPerType
	}
	if r.Strategy != "" {
		rc.Strategy = retrieval.Strategy(r.Strategy)
	}
	if r.QualityFilter != nil {
		rc.QualityFilter = *r.QualityFilter
	}
	if r.DiversityFilter != nil {
		rc.DiversityFilter = *r.DiversityFilter
	}
	if r.DiversityJaccard > 0 {
		rc.DiversityJaccard = r.DiversityJaccard
	}
	if r.MaxSimilar > 0 {
		rc.MaxSimilar = r.MaxSimilar
	}
	if r.MinContentLength > 0 {
		rc.MinContentLength = r.MinContentLength
	}
	if r.MaxContentLength > 0 {
		rc.MaxContentLength = r.MaxContentLength
	}
	if r.HighQualityScore > 0 {
		rc.HighQualityScore = r.HighQualityScore
	}
	if r.MaxPromptLength > 0 {
		rc.MaxPromptLength = r.MaxPromptLength
	}
	if r.SearchConcurrency > 0 {
		rc.SearchConcurrency = r.SearchConcurrency
	}
	if c.Embedding.CacheTTL > 0 {
		rc.EmbedCacheTTL = c.Embedding.CacheTTL
	}
	if c.Embedding.CacheCapacity > 0 {
		rc.EmbedCacheSize = c.Embedding.CacheCapacity
	}
	return rc
}

// ExecutorOptions converts the pipeline bounds into executor options.
func (c Config) ExecutorOptions() executor.Options {
	return executor.Options{QueryTimeout: c.Pipeline.QueryTimeout, MaxRows: c.Pipeline.MaxRows}
}

// RetryPolicy converts the llm section into a provider retry policy.
func (c Config) RetryPolicy() llm.RetryPolicy {
	p := llm.DefaultRetryPolicy()
	if c.LLM.MaxRetries > 0 {
		p.MaxTries = c.LLM.MaxRetries
	}
	if c.LLM.MaxElapsed > 0 {
		p.MaxElapsed = c.LLM.MaxElapsed
	}
	return p
}

// #endregion conversions

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
