package qdrantdb

import (
	"context"
	"fmt"

	"articlerec/repository"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

const (
	ArticleCollectionName = "articles"
)

var (
	_ repository.VectorMirror    = (*ArticleVectorClient)(nil)
	_ repository.CandidateSource = (*ArticleVectorClient)(nil)

	pointNamespace = uuid.MustParse("6f1c2a9e-3b7d-4c55-9a0e-2d8f4b6c1e73")
)

func (c *ArticleVectorClient) EnsureCollection(ctx context.Context, dim int) error {
	exists, err := c.Client.CollectionExists(ctx, ArticleCollectionName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = c.Client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: ArticleCollectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("err create article collection: %w", err)
	}

	_, err = c.Client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: ArticleCollectionName,
		FieldName:      "scheme",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("err create scheme index: %w", err)
	}
	return nil
}

func (c *ArticleVectorClient) UpsertVectors(ctx context.Context, articles []repository.Article) error {
	points := make([]*qdrant.PointStruct, 0, len(articles))
	for i := range articles {
		a := &articles[i]
		if len(a.Vector) == 0 {
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(a.ID)),
			Vectors: qdrant.NewVectorsDense(a.Vector),
			Payload: qdrant.NewValueMap(payload(a)),
		})
	}
	if len(points) == 0 {
		return nil
	}

	_, err := c.Client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: ArticleCollectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
	}
	return nil
}

// ListCandidates scrolls points of the given scheme. The payload's pending
// flag is only as fresh as the last vectorization, so publication is left to
// the caller to check against the primary store. Points come back in point
// id order, not article storage order.
func (c *ArticleVectorClient) ListCandidates(ctx context.Context, excludeID, scheme string) ([]repository.Article, error) {
	points, err := c.Client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: ArticleCollectionName,
		Filter:         candidateFilter(excludeID, scheme),
		Limit:          qdrant.PtrOf(c.limit),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: scroll candidates: %w", err)
	}

	if uint32(len(points)) >= c.limit {
		c.logger.Warn("candidate scroll hit the limit, later points are not considered",
			zap.Uint32("limit", c.limit),
			zap.String("scheme", scheme))
	}

	out := make([]repository.Article, 0, len(points))
	for _, p := range points {
		a := fromPayload(p.GetPayload())
		a.Vector = p.GetVectors().GetVector().GetData()
		if a.ID == excludeID || len(a.Vector) == 0 {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// PointID derives a stable point id from an article id.
func PointID(articleID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(articleID)).String()
}

func payload(a *repository.Article) map[string]any {
	return map[string]any{
		"article_id": a.ID,
		"title":      a.Title,
		"tag":        a.Tag,
		"image":      a.Image,
		"pending":    a.Pending,
		"scheme":     a.VectorScheme,
	}
}

func fromPayload(p map[string]*qdrant.Value) repository.Article {
	return repository.Article{
		ID:           p["article_id"].GetStringValue(),
		Title:        p["title"].GetStringValue(),
		Tag:          p["tag"].GetStringValue(),
		Image:        p["image"].GetStringValue(),
		Pending:      p["pending"].GetBoolValue(),
		VectorScheme: p["scheme"].GetStringValue(),
	}
}

func candidateFilter(excludeID, scheme string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchKeyword("scheme", scheme),
		},
		MustNot: []*qdrant.Condition{
			qdrant.NewHasID(qdrant.NewID(PointID(excludeID))),
		},
	}
}
