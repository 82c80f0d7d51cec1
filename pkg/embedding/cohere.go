package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const DefaultCohereURL = "https://api.cohere.ai"

type cohereRequest struct {
	Texts     []string `json:"texts"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate"`
}

type cohereResponse struct {
	ID         string      `json:"id"`
	Embeddings [][]float32 `json:"embeddings"`
}

type Cohere struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

func NewCohere(baseURL, apiKey, model string, timeout time.Duration, rpm int) *Cohere {
	if baseURL == "" {
		baseURL = DefaultCohereURL
	}
	return &Cohere{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		limiter: NewLimiter(rpm),
	}
}

func (c *Cohere) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(cohereRequest{
		Texts:     texts,
		Model:     c.Model,
		InputType: "search_document",
		Truncate:  "END",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/embed", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Provider: "cohere", Code: resp.StatusCode, Body: string(body)}
	}

	var out cohereResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: cohere: %v", ErrMalformedResponse, err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: cohere returned %d embeddings for %d inputs", ErrMalformedResponse, len(out.Embeddings), len(texts))
	}

	return out.Embeddings, nil
}
