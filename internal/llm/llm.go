// Package llm wraps the language-model and embedding providers used by the
// stage adapters and the retrieval engine.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/danielpatrickdp/text2sql/internal/metrics"
)

// #region interfaces

// Client completes a single system+user prompt.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ErrEmptyResponse is returned when a provider replies without text.
var ErrEmptyResponse = errors.New("empty model response")

// #endregion interfaces

// #region retry

// RetryPolicy bounds transient-error retries of provider calls.
type RetryPolicy struct {
	MaxTries    uint
	MaxElapsed  time.Duration
	InitialWait time.Duration
}

// DefaultRetryPolicy is three tries within a minute.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 3, MaxElapsed: time.Minute, InitialWait: 500 * time.Millisecond}
}

// permanent marks errors that retrying cannot fix.
func permanent(err error) error {
	return backoff.Permanent(err)
}

// call runs fn under the retry policy and counts the outcome per provider.
func call[T any](ctx context.Context, p RetryPolicy, provider string, log *slog.Logger, fn func() (T, error)) (T, error) {
	if p.MaxTries == 0 {
		p.MaxTries = 1
	}
	eb := backoff.NewExponentialBackOff()
	if p.InitialWait > 0 {
		eb.InitialInterval = p.InitialWait
	}

	attempt := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(p.MaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("llm: transient provider error, retrying", "provider", provider, "attempt", attempt, "wait", wait, "error", err)
		}),
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}

	out, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		return fn()
	}, opts...)
	if err != nil {
		metrics.LLMCalls.WithLabelValues(provider, "error").Inc()
		var zero T
		return zero, fmt.Errorf("%s: %w", provider, err)
	}
	metrics.LLMCalls.WithLabelValues(provider, "ok").Inc()
	return out, nil
}

// #endregion retry
