package qdrantdb

import (
	"testing"

	"articlerec/repository"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointID(t *testing.T) {
	id := PointID("64f0c2a1e4b0a1b2c3d4e5f6")
	assert.Equal(t, id, PointID("64f0c2a1e4b0a1b2c3d4e5f6"))
	assert.NotEqual(t, id, PointID("64f0c2a1e4b0a1b2c3d4e5f7"))

	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestPayloadRoundTrip(t *testing.T) {
	a := &repository.Article{
		ID:           "abc",
		Title:        "Go generics",
		Tag:          "tech",
		Image:        "https://img/1.png",
		Pending:      true,
		VectorScheme: "cohere:embed-english-v3.0:1024",
	}

	got := fromPayload(qdrant.NewValueMap(payload(a)))
	assert.Equal(t, *a, got)
}

func TestFromPayload_MissingFields(t *testing.T) {
	got := fromPayload(map[string]*qdrant.Value{})
	assert.Empty(t, got.ID)
	assert.False(t, got.Pending)
}

func TestCandidateFilter(t *testing.T) {
	f := candidateFilter("abc", "tei:bge:768")
	require.Len(t, f.Must, 1)
	require.Len(t, f.MustNot, 1)

	match := f.Must[0].GetField()
	assert.Equal(t, "scheme", match.GetKey())
	assert.Equal(t, "tei:bge:768", match.GetMatch().GetKeyword())

	hasID := f.MustNot[0].GetHasId().GetHasId()
	require.Len(t, hasID, 1)
	assert.Equal(t, PointID("abc"), hasID[0].GetUuid())
}
