package repository

import (
	"context"
	"errors"
	"time"
)

var ErrArticleNotFound = errors.New("article not found")

// DefaultTag is assumed for articles stored without a tag.
const DefaultTag = "general"

type Article struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Tag             string    `json:"tag"`
	Text            string    `json:"text,omitempty"`
	Description     string    `json:"description,omitempty"`
	Image           string    `json:"image,omitempty"`
	Vector          []float32 `json:"-"`
	VectorUpdatedAt time.Time `json:"vectorUpdatedAt,omitempty"`
	VectorScheme    string    `json:"vectorScheme,omitempty"`
	Pending         bool      `json:"pending"`
}

// Selection picks articles whose vector needs (re)computing: no vector, a
// vector older than StaleBefore, or a vector from another scheme. With
// SchemePrefix set, any scheme starting with Scheme counts as current.
type Selection struct {
	Scheme       string
	SchemePrefix bool
	StaleBefore  time.Time
}

type VectorUpdate struct {
	ID        string
	Vector    []float32
	Scheme    string
	UpdatedAt time.Time
}

type ArticleRepo interface {
	FindByID(ctx context.Context, id string) (*Article, error)
	// Iterate streams articles in storage order. A nil Selection visits every article.
	Iterate(ctx context.Context, sel *Selection, fn func(*Article) error) error
	BulkUpdateVectors(ctx context.Context, updates []VectorUpdate) error
}

// CandidateSource lists published articles holding a vector of the given
// scheme, excluding one article.
type CandidateSource interface {
	ListCandidates(ctx context.Context, excludeID, scheme string) ([]Article, error)
}

// PublishedFilter reports which of the given articles exist and are
// published in the primary store.
type PublishedFilter interface {
	PublishedIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
}

// VectorMirror receives committed vectors, e.g. a secondary vector index.
type VectorMirror interface {
	UpsertVectors(ctx context.Context, articles []Article) error
}

type VectorizedEvent struct {
	RunID      string    `json:"run_id"`
	Scheme     string    `json:"scheme"`
	ArticleIDs []string  `json:"article_ids"`
	At         time.Time `json:"at"`
}

type EventPublisher interface {
	PublishVectorized(ctx context.Context, ev VectorizedEvent) error
}
