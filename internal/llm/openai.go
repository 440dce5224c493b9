package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// #region chat

// OpenAIClient implements Client with chat completions.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	maxTokens int
	retry     RetryPolicy
	log       *slog.Logger
}

// NewOpenAIClient creates a chat client. baseURL may point at any
// OpenAI-compatible endpoint; empty keeps the default.
func NewOpenAIClient(apiKey, baseURL, model string, maxTokens int, retry RetryPolicy, log *slog.Logger) *OpenAIClient {
	if log == nil {
		log = slog.Default()
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(openAIConfig(apiKey, baseURL)),
		model:     model,
		maxTokens: maxTokens,
		retry:     retry,
		log:       log,
	}
}

func openAIConfig(apiKey, baseURL string) openai.ClientConfig {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return cfg
}

// Complete sends one prompt and returns the first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	return call(ctx, c.retry, ProviderOpenAI, c.log, func() (string, error) {
		req := openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		}
		if c.maxTokens > 0 {
			req.MaxCompletionTokens = c.maxTokens
		}
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", classifyOpenAI(err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return "", permanent(ErrEmptyResponse)
		}
		c.log.Debug("llm: openai call completed", "model", c.model, "finish_reason", resp.Choices[0].FinishReason)
		return resp.Choices[0].Message.Content, nil
	})
}

// #endregion chat

// #region embeddings

// OpenAIEmbedder implements Embedder with the embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	retry  RetryPolicy
	log    *slog.Logger
}

// NewOpenAIEmbedder creates an embedder. An empty model uses
// text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, baseURL, model string, retry RetryPolicy, log *slog.Logger) *OpenAIEmbedder {
	if log == nil {
		log = slog.Default()
	}
	m := openai.EmbeddingModel(model)
	if model == "" {
		m = openai.SmallEmbedding3
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(openAIConfig(apiKey, baseURL)),
		model:  m,
		retry:  retry,
		log:    log,
	}
}

// Embed returns the embedding of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return call(ctx, e.retry, ProviderOpenAI, e.log, func() ([]float32, error) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: e.model,
		})
		if err != nil {
			return nil, classifyOpenAI(err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, permanent(ErrEmptyResponse)
		}
		return resp.Data[0].Embedding, nil
	})
}

// #endregion embeddings

func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && !retryableStatus(apiErr.HTTPStatusCode) {
		return permanent(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && !retryableStatus(reqErr.HTTPStatusCode) {
		return permanent(err)
	}
	return err
}
