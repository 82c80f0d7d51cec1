// Package recommend ranks stored articles by vector similarity to a source
// article.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"articlerec/pkg/embedding"
	"articlerec/pkg/metrics"
	"articlerec/repository"

	"go.uber.org/zap"
)

type Options struct {
	K         int
	Threshold float64
}

type Recommendation struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Image string  `json:"image"`
	Tag   string  `json:"tag"`
	Score float64 `json:"score"`
}

type Ranker struct {
	repo       repository.ArticleRepo
	candidates repository.CandidateSource
	opts       Options
	logger     *zap.Logger
}

func NewRanker(repo repository.ArticleRepo, candidates repository.CandidateSource, opts Options, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{repo: repo, candidates: candidates, opts: opts, logger: logger}
}

// Recommend returns up to K articles similar to articleID. It never fails:
// unknown articles, articles without a vector and internal errors all yield
// an empty list.
func (r *Ranker) Recommend(ctx context.Context, articleID string) (recs []Recommendation) {
	logger := r.logger.With(zap.String("article_id", articleID))
	defer func() {
		if p := recover(); p != nil {
			logger.Error("recommendation panicked", zap.Any("panic", p))
			metrics.Recommendations.WithLabelValues("error").Inc()
			recs = []Recommendation{}
		}
	}()

	recs, err := r.recommend(ctx, articleID)
	if err != nil {
		logger.Error("recommendation failed", zap.Error(err))
		metrics.Recommendations.WithLabelValues("error").Inc()
		return []Recommendation{}
	}
	if len(recs) == 0 {
		metrics.Recommendations.WithLabelValues("empty").Inc()
		return []Recommendation{}
	}
	metrics.Recommendations.WithLabelValues("ok").Inc()
	return recs
}

func (r *Ranker) recommend(ctx context.Context, articleID string) ([]Recommendation, error) {
	source, err := r.repo.FindByID(ctx, articleID)
	if err != nil {
		if errors.Is(err, repository.ErrArticleNotFound) {
			r.logger.Debug("source article not found", zap.String("article_id", articleID))
			return nil, nil
		}
		return nil, fmt.Errorf("recommend: load source: %w", err)
	}
	if len(source.Vector) == 0 {
		return nil, nil
	}

	candidates, err := r.candidates.ListCandidates(ctx, source.ID, source.VectorScheme)
	if err != nil {
		return nil, fmt.Errorf("recommend: load candidates: %w", err)
	}
	return Rank(*source, candidates, r.opts), nil
}

// Rank scores candidates against source, drops those below the threshold,
// keeps the best article per tag and returns at most opts.K results. Equal
// scores keep candidate order.
func Rank(source repository.Article, candidates []repository.Article, opts Options) []Recommendation {
	recs := make([]Recommendation, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if c.ID == source.ID || len(c.Vector) == 0 {
			continue
		}
		if c.VectorScheme != source.VectorScheme || len(c.Vector) != len(source.Vector) {
			continue
		}
		score := embedding.CosineSimilarity(source.Vector, c.Vector)
		if score < opts.Threshold {
			continue
		}
		recs = append(recs, Recommendation{
			ID:    c.ID,
			Title: c.Title,
			Image: c.Image,
			Tag:   c.Tag,
			Score: score,
		})
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Score > recs[j].Score
	})

	recs = Diversify(recs)
	if len(recs) > opts.K {
		recs = recs[:max(opts.K, 0)]
	}
	return recs
}

// Diversify keeps the first recommendation of each tag, preserving order.
func Diversify(recs []Recommendation) []Recommendation {
	seen := make(map[string]struct{}, len(recs))
	out := recs[:0]
	for _, r := range recs {
		if _, ok := seen[r.Tag]; ok {
			continue
		}
		seen[r.Tag] = struct{}{}
		out = append(out, r)
	}
	return out
}
