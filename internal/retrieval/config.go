package retrieval

import (
	"fmt"
	"time"
)

// #region config

// Config holds thresholds and limits for retrieval. It is a value type:
// copies are independent and safe to share across goroutines.
type Config struct {
	SimilarityThreshold float64  // min store score kept by the quality filter
	MaxExamplesPerType  int      // base quota, scaled per strategy
	Strategy            Strategy // default strategy when callers pass ""
	QualityFilter       bool
	DiversityFilter     bool

	MinContentLength int     // runes; shorter content is dropped
	MaxContentLength int     // runes; longer content is dropped
	DiversityJaccard float64 // token-set overlap at or above which two items are near-duplicates
	MaxSimilar       int     // kept near-duplicates tolerated before a candidate is dropped
	HighQualityScore float64 // QA pairs at or above this score count as high quality

	MaxPromptLength   int // runes; BuildPrompt truncates beyond this
	SearchConcurrency int
	EmbedCacheTTL     time.Duration
	EmbedCacheSize    uint64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.7,
		MaxExamplesPerType:  5,
		Strategy:            StrategyBalanced,
		QualityFilter:       true,
		DiversityFilter:     true,
		MinContentLength:    10,
		MaxContentLength:    2000,
		DiversityJaccard:    0.5,
		MaxSimilar:          1,
		HighQualityScore:    0.8,
		MaxPromptLength:     32000,
		SearchConcurrency:   5,
		EmbedCacheTTL:       10 * time.Minute,
		EmbedCacheSize:      1024,
	}
}

// Validate checks bounds and fills zero values from DefaultConfig.
func (c *Config) Validate() error {
	d := DefaultConfig()
	if c.MaxExamplesPerType <= 0 {
		c.MaxExamplesPerType = d.MaxExamplesPerType
	}
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if _, err := ParseStrategy(string(c.Strategy)); err != nil {
		return err
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = d.MinContentLength
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = d.MaxContentLength
	}
	if c.MinContentLength > c.MaxContentLength {
		return fmt.Errorf("min content length %d exceeds max %d", c.MinContentLength, c.MaxContentLength)
	}
	if c.DiversityJaccard <= 0 {
		c.DiversityJaccard = d.DiversityJaccard
	}
	if c.DiversityJaccard > 1 {
		return fmt.Errorf("diversity jaccard %.2f must be within (0, 1]", c.DiversityJaccard)
	}
	if c.MaxSimilar <= 0 {
		c.MaxSimilar = d.MaxSimilar
	}
	if c.HighQualityScore <= 0 {
		c.HighQualityScore = d.HighQualityScore
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold %.2f must be within [0, 1]", c.SimilarityThreshold)
	}
	if c.MaxPromptLength <= 0 {
		c.MaxPromptLength = d.MaxPromptLength
	}
	if c.SearchConcurrency <= 0 {
		c.SearchConcurrency = d.SearchConcurrency
	}
	if c.EmbedCacheTTL <= 0 {
		c.EmbedCacheTTL = d.EmbedCacheTTL
	}
	if c.EmbedCacheSize == 0 {
		c.EmbedCacheSize = d.EmbedCacheSize
	}
	return nil
}

// #endregion config
