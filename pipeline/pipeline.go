// Package pipeline keeps stored article vectors up to date.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"articlerec/encoder"
	"articlerec/pkg/metrics"
	"articlerec/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrRunInProgress = errors.New("pipeline: a vectorization run is already in progress")

	errFound = errors.New("found")
)

type Config struct {
	StaleAfter    time.Duration
	ProgressEvery int
	// WriteBatch bounds a bulk write when the encoder has no batch limit.
	WriteBatch int
	MinChars   int
}

// Deps holds the collaborators of a Pipeline. Exactly one of Encoder and
// Corpus must be set; the others are optional.
type Deps struct {
	Repo    repository.ArticleRepo
	Encoder encoder.Encoder
	Corpus  encoder.CorpusEncoder
	Mirror  repository.VectorMirror
	Events  repository.EventPublisher
	Ledger  repository.RunLedger
	Logger  *zap.Logger
}

type Pipeline struct {
	repo    repository.ArticleRepo
	encoder encoder.Encoder
	corpus  encoder.CorpusEncoder
	mirror  repository.VectorMirror
	events  repository.EventPublisher
	ledger  repository.RunLedger
	logger  *zap.Logger
	cfg     Config
	running atomic.Bool
	now     func() time.Time
}

type item struct {
	article *repository.Article
	text    string
}

func New(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Repo == nil {
		return nil, errors.New("pipeline: article repository is required")
	}
	if (deps.Encoder == nil) == (deps.Corpus == nil) {
		return nil, errors.New("pipeline: configure exactly one of Encoder and Corpus")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.WriteBatch <= 0 {
		cfg.WriteBatch = 500
	}

	return &Pipeline{
		repo:    deps.Repo,
		encoder: deps.Encoder,
		corpus:  deps.Corpus,
		mirror:  deps.Mirror,
		events:  deps.Events,
		ledger:  deps.Ledger,
		logger:  deps.Logger,
		cfg:     cfg,
		now:     time.Now,
	}, nil
}

// Run performs one vectorization pass. Failed batches are logged and
// skipped; the returned error is reserved for failures that stop the
// whole pass, such as losing the article cursor.
func (p *Pipeline) Run(ctx context.Context) (repository.RunRecord, error) {
	if !p.running.CompareAndSwap(false, true) {
		return repository.RunRecord{}, ErrRunInProgress
	}
	defer p.running.Store(false)

	run := &repository.RunRecord{
		RunID:     uuid.NewString(),
		StartedAt: p.now(),
	}
	logger := p.logger.With(zap.String("run_id", run.RunID))
	logger.Info("vectorization run started")

	var err error
	if p.corpus != nil {
		err = p.runCorpus(ctx, run, logger)
	} else {
		err = p.runStreaming(ctx, run, logger)
	}

	run.FinishedAt = p.now()
	metrics.PipelineDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	if err != nil {
		run.Error = err.Error()
		metrics.PipelineRuns.WithLabelValues("failed").Inc()
	} else {
		metrics.PipelineRuns.WithLabelValues("ok").Inc()
	}

	if p.ledger != nil {
		if lerr := p.ledger.Record(context.WithoutCancel(ctx), run); lerr != nil {
			logger.Warn("failed to record run", zap.Error(lerr))
		}
	}

	logger.Info("vectorization run finished",
		zap.String("scheme", run.Scheme),
		zap.Int("selected", run.Selected),
		zap.Int("encoded", run.Encoded),
		zap.Int("skipped", run.Skipped),
		zap.Int("failed_batches", run.FailedBatches),
		zap.Duration("took", run.FinishedAt.Sub(run.StartedAt)),
		zap.Error(err))

	return *run, err
}

func (p *Pipeline) runStreaming(ctx context.Context, run *repository.RunRecord, logger *zap.Logger) error {
	enc := p.encoder
	run.Scheme = enc.Scheme()

	size := enc.MaxBatch()
	if size <= 0 {
		size = p.cfg.WriteBatch
	}

	sel := &repository.Selection{
		Scheme:      enc.Scheme(),
		StaleBefore: run.StartedAt.Add(-p.cfg.StaleAfter),
	}

	batch := make([]item, 0, size)
	err := p.repo.Iterate(ctx, sel, func(a *repository.Article) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch = p.admit(run, a, batch, logger)
		if len(batch) >= size {
			p.flush(ctx, run, enc, batch, logger)
			batch = batch[:0]
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipeline: iterate: %w", err)
	}

	if len(batch) > 0 {
		p.flush(ctx, run, enc, batch, logger)
	}
	return nil
}

// runCorpus refits the corpus encoder and rewrites every vector together,
// since a new vocabulary changes the meaning of all existing vectors.
func (p *Pipeline) runCorpus(ctx context.Context, run *repository.RunRecord, logger *zap.Logger) error {
	stale, err := p.anyStale(ctx, run.StartedAt)
	if err != nil {
		return err
	}
	if !stale {
		logger.Info("all vectors are fresh, skipping refit")
		return nil
	}

	var items []item
	err = p.repo.Iterate(ctx, nil, func(a *repository.Article) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		items = p.admit(run, a, items, logger)
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipeline: iterate: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	texts := make([]string, len(items))
	for i := range items {
		texts[i] = items[i].text
	}
	enc := p.corpus.Fit(texts)
	run.Scheme = enc.Scheme()
	logger.Info("vocabulary built",
		zap.String("scheme", enc.Scheme()),
		zap.Int("terms", enc.Dim()),
		zap.Int("documents", len(items)))

	for start := 0; start < len(items); start += p.cfg.WriteBatch {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+p.cfg.WriteBatch, len(items))
		p.flush(ctx, run, enc, items[start:end], logger)
	}
	return nil
}

// anyStale reports whether at least one encodable article lacks a current
// corpus vector.
func (p *Pipeline) anyStale(ctx context.Context, startedAt time.Time) (bool, error) {
	sel := &repository.Selection{
		Scheme:       p.corpus.Family(),
		SchemePrefix: true,
		StaleBefore:  startedAt.Add(-p.cfg.StaleAfter),
	}
	err := p.repo.Iterate(ctx, sel, func(a *repository.Article) error {
		if _, ok := encoder.Prepare(a, p.cfg.MinChars); ok {
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("pipeline: scan stale: %w", err)
	}
	return false, nil
}

func (p *Pipeline) admit(run *repository.RunRecord, a *repository.Article, batch []item, logger *zap.Logger) []item {
	run.Selected++
	if p.cfg.ProgressEvery > 0 && run.Selected%p.cfg.ProgressEvery == 0 {
		logger.Info("vectorization progress",
			zap.Int("processed", run.Selected),
			zap.Int("encoded", run.Encoded),
			zap.Int("skipped", run.Skipped))
	}

	text, ok := encoder.Prepare(a, p.cfg.MinChars)
	if !ok {
		run.Skipped++
		metrics.ArticlesSkipped.Inc()
		return batch
	}

	// the body is no longer needed once the input text is built
	a.Text, a.Description = "", ""
	return append(batch, item{article: a, text: text})
}

func (p *Pipeline) flush(ctx context.Context, run *repository.RunRecord, enc encoder.Encoder, batch []item, logger *zap.Logger) {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].text
	}

	vecs, err := enc.Encode(ctx, texts)
	if err != nil {
		run.FailedBatches++
		metrics.BatchFailures.WithLabelValues("encode").Inc()
		logger.Error("batch encode failed, skipping",
			zap.Int("size", len(batch)),
			zap.String("first_id", batch[0].article.ID),
			zap.Error(err))
		return
	}

	at := p.now()
	updates := make([]repository.VectorUpdate, len(batch))
	for i := range batch {
		updates[i] = repository.VectorUpdate{
			ID:        batch[i].article.ID,
			Vector:    vecs[i],
			Scheme:    enc.Scheme(),
			UpdatedAt: at,
		}
	}

	if err := p.repo.BulkUpdateVectors(ctx, updates); err != nil {
		run.FailedBatches++
		metrics.BatchFailures.WithLabelValues("write").Inc()
		logger.Error("batch write failed, skipping",
			zap.Int("size", len(batch)),
			zap.String("first_id", batch[0].article.ID),
			zap.Error(err))
		return
	}

	run.Encoded += len(batch)
	metrics.ArticlesEncoded.Add(float64(len(batch)))
	p.afterCommit(ctx, run, updates, batch, logger)
}

// afterCommit feeds the optional mirror and event stream. Their failures
// never undo a committed batch.
func (p *Pipeline) afterCommit(ctx context.Context, run *repository.RunRecord, updates []repository.VectorUpdate, batch []item, logger *zap.Logger) {
	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.ID
	}

	if p.mirror != nil {
		articles := make([]repository.Article, len(batch))
		for i := range batch {
			a := *batch[i].article
			a.Vector = updates[i].Vector
			a.VectorScheme = updates[i].Scheme
			a.VectorUpdatedAt = updates[i].UpdatedAt
			articles[i] = a
		}
		if err := p.mirror.UpsertVectors(ctx, articles); err != nil {
			logger.Warn("vector mirror upsert failed", zap.Int("size", len(articles)), zap.Error(err))
		}
	}

	if p.events != nil {
		ev := repository.VectorizedEvent{
			RunID:      run.RunID,
			Scheme:     updates[0].Scheme,
			ArticleIDs: ids,
			At:         updates[0].UpdatedAt,
		}
		if err := p.events.PublishVectorized(ctx, ev); err != nil {
			logger.Warn("vectorized event publish failed", zap.Error(err))
		}
	}
}

// Running reports whether a run is in progress in this process.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}
