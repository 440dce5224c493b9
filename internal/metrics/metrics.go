// Package metrics holds the Prometheus collectors exported by the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "text2sql_build_info",
			Help: "Build information of the text2sql pipeline",
		},
		[]string{"version", "commit"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "text2sql_stage_duration_seconds",
			Help:    "Duration of a single pipeline stage invocation",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"stage"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_runs_total",
			Help: "Pipeline runs by terminal state",
		},
		[]string{"state"},
	)

	RetryCount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "text2sql_run_retries",
			Help:    "Retries consumed per pipeline run",
			Buckets: prometheus.LinearBuckets(0, 1, 8),
		},
	)

	ErrorKinds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_execution_errors_total",
			Help: "Classified execution failures",
		},
		[]string{"kind"},
	)

	RetrievalItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_retrieval_items_total",
			Help: "Retrieved items per type and filtering phase",
		},
		[]string{"type", "phase"},
	)

	RetrievalErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_retrieval_search_errors_total",
			Help: "Per-type backing store search failures",
		},
		[]string{"type"},
	)

	HighQualityQA = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "text2sql_retrieval_high_quality_qa_pairs",
			Help:    "High-quality question/answer pairs per context bundle",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
	)

	EmbedCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_embedding_cache_total",
			Help: "Query embedding cache lookups",
		},
		[]string{"result"},
	)

	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_llm_calls_total",
			Help: "Language model calls by provider and status",
		},
		[]string{"provider", "status"},
	)
)
