package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type EmbeddingRequest struct {
	Inputs    []string `json:"inputs"`
	Normalize bool     `json:"normalize,omitempty"`
}

type EmbeddingResponse [][]float32

// TEI talks to a HuggingFace text-embeddings-inference server.
type TEI struct {
	BaseURL    string
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

func NewTEI(baseURL string, timeout time.Duration, rpm int) *TEI {
	return &TEI{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		limiter: NewLimiter(rpm),
	}
}

func (c *TEI) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(EmbeddingRequest{Inputs: texts, Normalize: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		return nil, &StatusError{Provider: "tei", Code: resp.StatusCode, Body: string(body)}
	}

	var embeddings EmbeddingResponse
	if err := json.Unmarshal(body, &embeddings); err != nil {
		return nil, fmt.Errorf("%w: tei: %v", ErrMalformedResponse, err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: tei returned %d embeddings for %d inputs", ErrMalformedResponse, len(embeddings), len(texts))
	}

	return embeddings, nil
}
