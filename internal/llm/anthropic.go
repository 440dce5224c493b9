package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client with the Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	retry     RetryPolicy
	log       *slog.Logger
}

// NewAnthropicClient creates a client. An empty apiKey falls back to the
// SDK's ANTHROPIC_API_KEY lookup. Extra request options (base URL, HTTP
// client) are passed through to the SDK.
func NewAnthropicClient(apiKey, model string, maxTokens int64, retry RetryPolicy, log *slog.Logger, opts ...option.RequestOption) *AnthropicClient {
	if log == nil {
		log = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	// Retries are handled by call().
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	reqOpts = append(reqOpts, opts...)
	return &AnthropicClient{
		client:    anthropic.NewClient(reqOpts...),
		model:     anthropic.Model(model),
		maxTokens: maxTokens,
		retry:     retry,
		log:       log,
	}
}

// Complete sends one prompt and returns the first text block.
func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	return call(ctx, c.retry, ProviderAnthropic, c.log, func() (string, error) {
		start := time.Now()
		msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			System: []anthropic.TextBlockParam{
				{Type: "text", Text: system},
			},
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
			},
		})
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) && !retryableStatus(apiErr.StatusCode) {
				return "", permanent(err)
			}
			return "", err
		}
		c.log.Debug("llm: anthropic call completed", "model", c.model, "duration", time.Since(start), "stop_reason", msg.StopReason)

		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return "", permanent(ErrEmptyResponse)
		}
		return sb.String(), nil
	})
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}
