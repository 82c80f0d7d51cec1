package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"articlerec/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const ArticleCollectionName = "articles"

type articleDoc struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	Title           string             `bson:"title"`
	Tag             string             `bson:"tag"`
	Text            string             `bson:"text"`
	Description     string             `bson:"description,omitempty"`
	Image           string             `bson:"image,omitempty"`
	Vector          []float64          `bson:"vector,omitempty"`
	VectorUpdatedAt time.Time          `bson:"vectorUpdatedAt,omitempty"`
	VectorScheme    string             `bson:"vectorScheme,omitempty"`
	Pending         bool               `bson:"pending"`
}

type ArticleClient struct {
	col *mongo.Collection
	// value of "pending" that marks a published article
	published bool
	// caps a candidate scan; 0 means no limit
	candidateLimit int64
	logger         *zap.Logger
}

var (
	_ repository.ArticleRepo     = (*ArticleClient)(nil)
	_ repository.CandidateSource = (*ArticleClient)(nil)
	_ repository.PublishedFilter = (*ArticleClient)(nil)
)

func NewArticleCollection(db *mongo.Database, publishedPending bool) *ArticleClient {
	return &ArticleClient{
		col:       db.Collection(ArticleCollectionName),
		published: publishedPending,
		logger:    zap.NewNop(),
	}
}

// SetCandidateLimit caps candidate scans at n articles in storage order.
// Articles past the cap are never recommended, so a warning is logged
// whenever a scan hits it.
func (c *ArticleClient) SetCandidateLimit(n int, logger *zap.Logger) {
	c.candidateLimit = int64(max(n, 0))
	if logger != nil {
		c.logger = logger
	}
}

func (c *ArticleClient) EnsureIndexes(ctx context.Context) error {
	_, err := c.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "pending", Value: 1}, {Key: "vectorScheme", Value: 1}}},
		{Keys: bson.D{{Key: "vectorUpdatedAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("articlecol: create indexes: %w", err)
	}
	return nil
}

func (c *ArticleClient) FindByID(ctx context.Context, id string) (*repository.Article, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("articlecol: id %q: %w", id, repository.ErrArticleNotFound)
	}

	var doc articleDoc
	err = c.col.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("articlecol: id %q: %w", id, repository.ErrArticleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("articlecol: %w", err)
	}
	return doc.toArticle(), nil
}

func (c *ArticleClient) Iterate(ctx context.Context, sel *repository.Selection, fn func(*repository.Article) error) error {
	opts := options.Find().SetProjection(bson.D{{Key: "vector", Value: 0}})
	cur, err := c.col.Find(ctx, staleFilter(sel), opts)
	if err != nil {
		return fmt.Errorf("articlecol: find: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc articleDoc
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("articlecol: decode: %w", err)
		}
		if err := fn(doc.toArticle()); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("articlecol: cursor: %w", err)
	}
	return nil
}

// BulkUpdateVectors writes every update in one round trip.
func (c *ArticleClient) BulkUpdateVectors(ctx context.Context, updates []repository.VectorUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		oid, err := primitive.ObjectIDFromHex(u.ID)
		if err != nil {
			return fmt.Errorf("articlecol: id %q: %w", u.ID, err)
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: oid}}).
			SetUpdate(vectorUpdate(u)))
	}

	_, err := c.col.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("articlecol: bulk write: %w", err)
	}
	return nil
}

// ListCandidates returns published articles with a vector of the given
// scheme, in natural storage order.
func (c *ArticleClient) ListCandidates(ctx context.Context, excludeID, scheme string) ([]repository.Article, error) {
	oid, err := primitive.ObjectIDFromHex(excludeID)
	if err != nil {
		return nil, fmt.Errorf("articlecol: id %q: %w", excludeID, repository.ErrArticleNotFound)
	}

	opts := options.Find().SetProjection(bson.D{
		{Key: "title", Value: 1},
		{Key: "tag", Value: 1},
		{Key: "image", Value: 1},
		{Key: "pending", Value: 1},
		{Key: "vector", Value: 1},
		{Key: "vectorScheme", Value: 1},
		{Key: "vectorUpdatedAt", Value: 1},
	})
	if c.candidateLimit > 0 {
		opts.SetLimit(c.candidateLimit)
	}
	cur, err := c.col.Find(ctx, candidateFilter(oid, scheme, c.published), opts)
	if err != nil {
		return nil, fmt.Errorf("articlecol: find candidates: %w", err)
	}

	var docs []articleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("articlecol: decode candidates: %w", err)
	}

	if capReached(len(docs), c.candidateLimit) {
		c.logger.Warn("candidate scan hit the limit, later articles are not considered",
			zap.Int64("limit", c.candidateLimit),
			zap.String("scheme", scheme))
	}

	out := make([]repository.Article, len(docs))
	for i := range docs {
		out[i] = *docs[i].toArticle()
	}
	return out, nil
}

// PublishedIDs returns the subset of ids that exist and are published.
func (c *ArticleClient) PublishedIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		oids = append(oids, oid)
	}
	if len(oids) == 0 {
		return out, nil
	}

	opts := options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}})
	cur, err := c.col.Find(ctx, publishedFilter(oids, c.published), opts)
	if err != nil {
		return nil, fmt.Errorf("articlecol: find published: %w", err)
	}

	var docs []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("articlecol: decode published: %w", err)
	}
	for _, d := range docs {
		out[d.ID.Hex()] = struct{}{}
	}
	return out, nil
}

func capReached(got int, limit int64) bool {
	return limit > 0 && int64(got) >= limit
}

func publishedFilter(oids []primitive.ObjectID, published bool) bson.D {
	return bson.D{
		{Key: "_id", Value: bson.D{{Key: "$in", Value: oids}}},
		{Key: "pending", Value: published},
	}
}

func staleFilter(sel *repository.Selection) bson.D {
	if sel == nil {
		return bson.D{}
	}

	var foreignScheme bson.D
	if sel.SchemePrefix {
		foreignScheme = bson.D{{Key: "vectorScheme", Value: bson.D{{Key: "$not", Value: primitive.Regex{
			Pattern: "^" + regexp.QuoteMeta(sel.Scheme),
		}}}}}
	} else {
		foreignScheme = bson.D{{Key: "vectorScheme", Value: bson.D{{Key: "$ne", Value: sel.Scheme}}}}
	}

	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "vector.0", Value: bson.D{{Key: "$exists", Value: false}}}},
		bson.D{{Key: "vectorUpdatedAt", Value: bson.D{{Key: "$exists", Value: false}}}},
		bson.D{{Key: "vectorUpdatedAt", Value: bson.D{{Key: "$lt", Value: sel.StaleBefore}}}},
		foreignScheme,
	}}}
}

func candidateFilter(exclude primitive.ObjectID, scheme string, published bool) bson.D {
	return bson.D{
		{Key: "_id", Value: bson.D{{Key: "$ne", Value: exclude}}},
		{Key: "pending", Value: published},
		{Key: "vectorScheme", Value: scheme},
		{Key: "vector.0", Value: bson.D{{Key: "$exists", Value: true}}},
	}
}

func vectorUpdate(u repository.VectorUpdate) bson.D {
	vec := make([]float64, len(u.Vector))
	for i, x := range u.Vector {
		vec[i] = float64(x)
	}
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: "vector", Value: vec},
		{Key: "vectorUpdatedAt", Value: u.UpdatedAt},
		{Key: "vectorScheme", Value: u.Scheme},
	}}}
}

func (d *articleDoc) toArticle() *repository.Article {
	var vec []float32
	if len(d.Vector) > 0 {
		vec = make([]float32, len(d.Vector))
		for i, x := range d.Vector {
			vec[i] = float32(x)
		}
	}
	tag := d.Tag
	if tag == "" {
		tag = repository.DefaultTag
	}
	return &repository.Article{
		ID:              d.ID.Hex(),
		Title:           d.Title,
		Tag:             tag,
		Text:            d.Text,
		Description:     d.Description,
		Image:           d.Image,
		Vector:          vec,
		VectorUpdatedAt: d.VectorUpdatedAt,
		VectorScheme:    d.VectorScheme,
		Pending:         d.Pending,
	}
}
