package encoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"articlerec/pkg/embedding"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClient struct {
	mu        sync.Mutex
	dim       int
	calls     int
	sizes     []int
	failFirst int
	err       error
}

func (f *fakeClient) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sizes = append(f.sizes, len(texts))
	if f.calls <= f.failFirst {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		v := make([]float32, f.dim)
		v[i%f.dim] = 2
		out[i] = v
	}
	return out, nil
}

func newTestEmbedding(client embedding.Client, dim, maxBatch, retries int) *Embedding {
	e := NewEmbedding(client, EmbeddingConfig{
		Provider:   "fake",
		Model:      "m",
		Dim:        dim,
		MaxBatch:   maxBatch,
		MaxRetries: retries,
		Backoff:    time.Millisecond,
	}, zap.NewNop())
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return e
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("text number %d", i)
	}
	return out
}

func TestEmbedding_BatchBoundary(t *testing.T) {
	testCases := []struct {
		name      string
		n         int
		wantCalls int
	}{
		{"ExactlyOneBatch", 96, 1},
		{"OneOver", 97, 2},
		{"Single", 1, 1},
		{"ThreeBatches", 200, 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeClient{dim: 4}
			enc := newTestEmbedding(client, 4, 96, 0)

			vecs, err := enc.Encode(context.Background(), texts(tc.n))
			require.NoError(t, err)
			assert.Len(t, vecs, tc.n)
			assert.Equal(t, tc.wantCalls, client.calls)
			for _, size := range client.sizes {
				assert.LessOrEqual(t, size, 96)
			}
		})
	}
}

func TestEmbedding_NormalizesVectors(t *testing.T) {
	enc := newTestEmbedding(&fakeClient{dim: 3}, 3, 96, 0)
	vecs, err := enc.Encode(context.Background(), texts(1))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, vecs[0][0], 1e-6)
}

func TestEmbedding_RetriesTransientErrors(t *testing.T) {
	client := &fakeClient{dim: 2, failFirst: 2, err: &embedding.StatusError{Code: 503}}
	enc := newTestEmbedding(client, 2, 96, 3)

	vecs, err := enc.Encode(context.Background(), texts(5))
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, 3, client.calls)
}

func TestEmbedding_RetryCapSurfacesError(t *testing.T) {
	client := &fakeClient{dim: 2, failFirst: 100, err: errors.New("timeout")}
	enc := newTestEmbedding(client, 2, 96, 3)

	_, err := enc.Encode(context.Background(), texts(5))
	require.Error(t, err)
	assert.Equal(t, 4, client.calls)
}

func TestEmbedding_ClientErrorIsNotRetried(t *testing.T) {
	client := &fakeClient{dim: 2, failFirst: 100, err: &embedding.StatusError{Code: 401}}
	enc := newTestEmbedding(client, 2, 96, 3)

	_, err := enc.Encode(context.Background(), texts(1))
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)

	var se *embedding.StatusError
	assert.True(t, errors.As(err, &se))
}

func TestEmbedding_MalformedResponseIsNotRetried(t *testing.T) {
	bad := fmt.Errorf("%w: fake returned 1 embeddings for 2 inputs", embedding.ErrMalformedResponse)
	client := &fakeClient{dim: 2, failFirst: 100, err: bad}
	enc := newTestEmbedding(client, 2, 96, 3)

	_, err := enc.Encode(context.Background(), texts(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrMalformedResponse)
	assert.Equal(t, 1, client.calls)
}

func TestEmbedding_DimensionMismatch(t *testing.T) {
	enc := newTestEmbedding(&fakeClient{dim: 3}, 4, 96, 3)

	_, err := enc.Encode(context.Background(), texts(1))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmbedding_Scheme(t *testing.T) {
	enc := newTestEmbedding(&fakeClient{dim: 3}, 1024, 96, 0)
	assert.Equal(t, "fake:m:1024", enc.Scheme())
	assert.Equal(t, 1024, enc.Dim())
	assert.Equal(t, 96, enc.MaxBatch())
}

func TestEmbedding_IdenticalTextsAreMaximallySimilar(t *testing.T) {
	client := &fakeClient{dim: 8}
	enc := newTestEmbedding(client, 8, 1, 0)

	a, err := enc.Encode(context.Background(), []string{"same text"})
	require.NoError(t, err)
	b, err := enc.Encode(context.Background(), []string{"same text"})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, embedding.CosineSimilarity(a[0], b[0]), 1e-6)
}

func TestEmbedding_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	client := &fakeClient{dim: 4, failFirst: 100, err: &embedding.StatusError{Provider: "fake", Code: 401}}
	e := NewEmbedding(client, EmbeddingConfig{
		Provider:        "fake",
		Model:           "m",
		Dim:             4,
		BreakerFailures: 2,
		BreakerCooldown: time.Hour,
	}, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, err := e.Encode(context.Background(), texts(1))
		require.Error(t, err)
	}
	require.Equal(t, 2, client.calls)

	_, err := e.Encode(context.Background(), texts(1))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, client.calls)
}
