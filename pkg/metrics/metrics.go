package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Encoder
	EncoderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "articlerec_encoder_calls_total",
			Help: "Embedding provider calls by outcome",
		},
		[]string{"provider", "outcome"}, // "ok", "retry", "failed"
	)

	EncoderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "articlerec_encoder_call_duration_seconds",
			Help:    "Duration of a single embedding provider call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	EncoderBreakerOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "articlerec_encoder_breaker_open",
			Help: "1 while the provider circuit breaker is open",
		},
		[]string{"provider"},
	)

	// Vectorization pipeline
	ArticlesEncoded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "articlerec_articles_encoded_total",
			Help: "Articles whose vector was written",
		},
	)

	ArticlesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "articlerec_articles_skipped_total",
			Help: "Selected articles skipped because their text is too short",
		},
	)

	BatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "articlerec_batch_failures_total",
			Help: "Vectorization batches that were logged and skipped",
		},
		[]string{"stage"}, // "encode", "write"
	)

	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "articlerec_pipeline_runs_total",
			Help: "Vectorization runs by outcome",
		},
		[]string{"outcome"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "articlerec_pipeline_duration_seconds",
			Help:    "Wall-clock duration of a vectorization run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	// Ranker
	Recommendations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "articlerec_recommendations_total",
			Help: "Recommendation requests by result",
		},
		[]string{"result"}, // "ok", "empty", "error"
	)
)
