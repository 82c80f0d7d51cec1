package encoder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"articlerec/pkg/embedding"
	"articlerec/pkg/metrics"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type EmbeddingConfig struct {
	Provider    string
	Model       string
	Dim         int
	MaxBatch    int
	MaxChars    int
	MaxRetries  int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
	// The breaker opens after BreakerFailures consecutive failed batches
	// and lets a single trial batch through after BreakerCooldown.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Embedding encodes texts through an external embedding provider.
type Embedding struct {
	client  embedding.Client
	cfg     EmbeddingConfig
	scheme  string
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker[[][]float32]
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewEmbedding(client embedding.Client, cfg EmbeddingConfig, logger *zap.Logger) *Embedding {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 96
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Embedding{
		client: client,
		cfg:    cfg,
		scheme: fmt.Sprintf("%s:%s:%d", cfg.Provider, cfg.Model, cfg.Dim),
		logger: logger,
		sleep:  sleepCtx,
	}
	metrics.EncoderBreakerOpen.WithLabelValues(cfg.Provider).Set(0)
	e.breaker = gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name:        cfg.Provider,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailures)
		},
		// a cancelled run says nothing about provider health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding circuit breaker state change",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			open := 0.0
			if to == gobreaker.StateOpen {
				open = 1
			}
			metrics.EncoderBreakerOpen.WithLabelValues(name).Set(open)
		},
	})
	return e
}

func (e *Embedding) Scheme() string { return e.scheme }
func (e *Embedding) Dim() int       { return e.cfg.Dim }
func (e *Embedding) MaxBatch() int  { return e.cfg.MaxBatch }

// Encode sends texts in batches of MaxBatch. Any batch that still fails
// after retries fails the whole call; no partial result is returned. While
// the breaker is open, calls fail with gobreaker.ErrOpenState without
// reaching the provider.
func (e *Embedding) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.MaxBatch {
		end := min(start+e.cfg.MaxBatch, len(texts))

		batch := make([]string, end-start)
		for i, text := range texts[start:end] {
			batch[i] = Truncate(text, e.cfg.MaxChars)
		}

		vecs, err := e.breaker.Execute(func() ([][]float32, error) {
			return e.encodeBatch(ctx, batch)
		})
		if err != nil {
			return nil, fmt.Errorf("encode texts %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *Embedding) encodeBatch(ctx context.Context, batch []string) ([][]float32, error) {
	delay := e.cfg.Backoff
	for attempt := 0; ; attempt++ {
		vecs, err := e.call(ctx, batch)
		if err == nil {
			metrics.EncoderCalls.WithLabelValues(e.cfg.Provider, "ok").Inc()
			return vecs, nil
		}

		if !retryable(ctx, err) || attempt >= e.cfg.MaxRetries {
			metrics.EncoderCalls.WithLabelValues(e.cfg.Provider, "failed").Inc()
			return nil, fmt.Errorf("after %d attempts: %w", attempt+1, err)
		}

		metrics.EncoderCalls.WithLabelValues(e.cfg.Provider, "retry").Inc()
		e.logger.Warn("embedding call failed, retrying",
			zap.String("provider", e.cfg.Provider),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))

		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay = min(delay*2, e.cfg.MaxBackoff)
	}
}

func (e *Embedding) call(ctx context.Context, batch []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	vecs, err := e.client.GetEmbeddings(callCtx, batch)
	metrics.EncoderLatency.WithLabelValues(e.cfg.Provider).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	if len(vecs) != len(batch) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrDimensionMismatch, len(vecs), len(batch))
	}
	for i, v := range vecs {
		if len(v) != e.cfg.Dim {
			return nil, fmt.Errorf("%w: vector %d has %d dims, want %d", ErrDimensionMismatch, i, len(v), e.cfg.Dim)
		}
		embedding.Normalize(v)
	}
	return vecs, nil
}

// retryable treats provider 429/5xx and transport failures as transient.
// Cancellation of the caller's context and malformed responses are not.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrDimensionMismatch) || errors.Is(err, embedding.ErrMalformedResponse) {
		return false
	}
	var se *embedding.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
