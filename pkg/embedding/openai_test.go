package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openAIItem struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

func openAIServer(t *testing.T, items []openAIItem) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, 2, req.Dimensions)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   items,
			"model":  req.Model,
		})
	}))
}

func TestOpenAI_OrdersByIndex(t *testing.T) {
	srv := openAIServer(t, []openAIItem{
		{Object: "embedding", Embedding: []float32{2, 2}, Index: 2},
		{Object: "embedding", Embedding: []float32{0, 0}, Index: 0},
		{Object: "embedding", Embedding: []float32{1, 1}, Index: 1},
	})
	defer srv.Close()

	c := NewOpenAI(srv.URL+"/v1", "key", "text-embedding-3-small", 2, time.Second, 0)
	vecs, err := c.GetEmbeddings(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 0}, {1, 1}, {2, 2}}, vecs)
}

func TestOpenAI_MalformedResponse(t *testing.T) {
	testCases := []struct {
		name  string
		items []openAIItem
	}{
		{"IndexOutOfRange", []openAIItem{
			{Object: "embedding", Embedding: []float32{0, 0}, Index: 0},
			{Object: "embedding", Embedding: []float32{1, 1}, Index: 5},
		}},
		{"CountMismatch", []openAIItem{
			{Object: "embedding", Embedding: []float32{0, 0}, Index: 0},
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := openAIServer(t, tc.items)
			defer srv.Close()

			c := NewOpenAI(srv.URL+"/v1", "key", "text-embedding-3-small", 2, time.Second, 0)
			_, err := c.GetEmbeddings(context.Background(), []string{"a", "b"})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestOpenAI_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	c := NewOpenAI(srv.URL+"/v1", "key", "text-embedding-3-small", 2, time.Second, 0)
	_, err := c.GetEmbeddings(context.Background(), []string{"a"})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "openai", se.Provider)
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
	assert.True(t, se.Temporary())
	assert.Contains(t, se.Body, "slow down")
}
