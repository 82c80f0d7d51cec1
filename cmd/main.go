package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"articlerec/api"
	"articlerec/config"
	"articlerec/encoder"
	"articlerec/pipeline"
	"articlerec/pkg/boltdb"
	"articlerec/pkg/embedding"
	"articlerec/pkg/kafka"
	"articlerec/pkg/mongodb"
	"articlerec/pkg/qdrantdb"
	"articlerec/recommend"
	"articlerec/repository"
	"articlerec/scheduler"

	"go.uber.org/zap"
)

func main() {
	// =========
	// Config
	// =========
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// =========
	// Logging
	// =========
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// =========
	// MongoDB
	// =========
	mongoClient, err := mongodb.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())

	articles := mongodb.NewArticleCollection(mongoClient.Database(cfg.MongoDB), cfg.PublishedPending)
	articles.SetCandidateLimit(cfg.Recommend.MaxCandidates, logger)
	if err := articles.EnsureIndexes(ctx); err != nil {
		logger.Warn("failed to ensure article indexes", zap.Error(err))
	}

	// =========
	// Encoder
	// =========
	deps := pipeline.Deps{Repo: articles, Logger: logger}
	if cfg.Encoder.Kind == config.EncoderTFIDF {
		deps.Corpus = encoder.TFIDFFitter{TopTerms: cfg.Encoder.TopTerms}
	} else {
		deps.Encoder = encoder.NewEmbedding(embeddingClient(cfg.Encoder), encoder.EmbeddingConfig{
			Provider:    cfg.Encoder.Kind,
			Model:       cfg.Encoder.Model,
			Dim:         cfg.Encoder.Dim,
			MaxBatch:    cfg.Encoder.MaxBatch,
			MaxChars:    cfg.Encoder.MaxChars,
			MaxRetries:  cfg.Encoder.MaxRetries,
			Backoff:     cfg.Encoder.Backoff,
			MaxBackoff:  cfg.Encoder.MaxBackoff,
			CallTimeout: cfg.Encoder.CallTimeout,

			BreakerFailures: cfg.Encoder.BreakerFailures,
			BreakerCooldown: cfg.Encoder.BreakerCooldown,
		}, logger)
	}

	// =========
	// Qdrant vector mirror
	// =========
	var candidates repository.CandidateSource = articles
	if cfg.QdrantHost != "" {
		qdb, err := qdrantdb.NewClient(cfg.QdrantHost, cfg.QdrantPort, cfg.Recommend.MaxCandidates, logger)
		if err != nil {
			log.Fatalf("Failed to initialize Qdrant: %v", err)
		}
		defer qdb.Close()
		if err := qdb.EnsureCollection(ctx, cfg.Encoder.Dim); err != nil {
			log.Fatalf("err: %v", err)
		}
		deps.Mirror = qdb
		if cfg.Recommend.Source == config.SourceQdrant {
			// the mirror's payload lags approvals and deletions
			candidates = recommend.NewVerifiedCandidates(qdb, articles)
		}
	}

	// =========
	// Kafka events
	// =========
	if cfg.KafkaURL != "" {
		kc, err := kafka.NewClient(cfg.KafkaURL, cfg.KafkaTopic)
		if err != nil {
			logger.Warn("kafka unavailable, vectorized events disabled", zap.Error(err))
		} else {
			defer kc.Close()
			deps.Events = kc
		}
	}

	// =========
	// Run ledger
	// =========
	ledger, err := boltdb.Open(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("Failed to open run ledger: %v", err)
	}
	defer ledger.Close()
	deps.Ledger = ledger

	// =========
	// Pipeline, ranker, scheduler
	// =========
	pl, err := pipeline.New(deps, pipeline.Config{
		StaleAfter:    cfg.Pipeline.StaleAfter,
		ProgressEvery: cfg.Pipeline.ProgressEvery,
		WriteBatch:    cfg.Pipeline.WriteBatch,
		MinChars:      cfg.Encoder.MinChars,
	})
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}

	ranker := recommend.NewRanker(articles, candidates, recommend.Options{
		K:         cfg.Recommend.K,
		Threshold: cfg.Recommend.Threshold,
	}, logger)

	sched := scheduler.New(pl, cfg.Pipeline.Cron, logger)
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	// =========
	// HTTP
	// =========
	server := api.NewServer(cfg.AppPort, ranker, pl, ledger, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown", zap.Error(err))
	}
}

func embeddingClient(cfg config.EncoderConfig) embedding.Client {
	switch cfg.Kind {
	case config.EncoderOpenAI:
		return embedding.NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dim, cfg.CallTimeout, cfg.RPM)
	case config.EncoderTEI:
		return embedding.NewTEI(cfg.BaseURL, cfg.CallTimeout, cfg.RPM)
	default:
		return embedding.NewCohere(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.CallTimeout, cfg.RPM)
	}
}
