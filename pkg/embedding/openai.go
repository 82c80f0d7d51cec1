package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

type OpenAI struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	dim     int
	limiter *rate.Limiter
}

func NewOpenAI(baseURL, apiKey, model string, dim int, timeout time.Duration, rpm int) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		model:   openai.EmbeddingModel(model),
		dim:     dim,
		limiter: NewLimiter(rpm),
	}
}

func (c *OpenAI) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      c.model,
		Dimensions: c.dim,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Provider: "openai", Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return nil, &StatusError{Provider: "openai", Code: reqErr.HTTPStatusCode, Body: reqErr.Error()}
		}
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: openai returned %d embeddings for %d inputs", ErrMalformedResponse, len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: openai returned embedding index %d out of range", ErrMalformedResponse, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
