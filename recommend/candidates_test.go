package recommend

import (
	"context"
	"errors"
	"testing"

	"articlerec/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublished struct {
	ids   map[string]struct{}
	err   error
	asked []string
}

func (f *fakePublished) PublishedIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	f.asked = ids
	return f.ids, f.err
}

func TestVerifiedCandidates_KeepsOnlyPublished(t *testing.T) {
	// "approved" was unpublished when mirrored, "gone" was deleted since
	mirror := &fakeCandidates{list: []repository.Article{
		article("approved", "tech", 0.9),
		article("gone", "life", 0.8),
		article("draft", "food", 0.7),
		article("live", "ops", 0.6),
	}}
	store := &fakePublished{ids: map[string]struct{}{"approved": {}, "live": {}}}

	v := NewVerifiedCandidates(mirror, store)
	got, err := v.ListCandidates(context.Background(), "src", scheme)
	require.NoError(t, err)

	gotIDs := make([]string, len(got))
	for i, a := range got {
		gotIDs[i] = a.ID
	}
	assert.Equal(t, []string{"approved", "live"}, gotIDs)
	assert.Equal(t, []string{"approved", "gone", "draft", "live"}, store.asked)
}

func TestVerifiedCandidates_StoreErrorFails(t *testing.T) {
	mirror := &fakeCandidates{list: []repository.Article{article("a", "tech", 0.9)}}
	v := NewVerifiedCandidates(mirror, &fakePublished{err: errors.New("mongo down")})

	_, err := v.ListCandidates(context.Background(), "src", scheme)
	assert.Error(t, err)
}

func TestVerifiedCandidates_EmptySkipsLookup(t *testing.T) {
	store := &fakePublished{}
	v := NewVerifiedCandidates(&fakeCandidates{}, store)

	got, err := v.ListCandidates(context.Background(), "src", scheme)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Nil(t, store.asked)
}

func TestRecommend_ThroughVerifiedCandidates(t *testing.T) {
	repo := &fakeRepo{articles: map[string]repository.Article{"src": source()}}
	mirror := &fakeCandidates{list: []repository.Article{
		article("deleted", "tech", 0.95),
		article("kept", "tech", 0.5),
	}}
	store := &fakePublished{ids: map[string]struct{}{"kept": {}}}

	r := NewRanker(repo, NewVerifiedCandidates(mirror, store), Options{K: 5, Threshold: 0.15}, nil)
	assert.Equal(t, []string{"kept"}, ids(r.Recommend(context.Background(), "src")))
}
