package recommend

import (
	"context"
	"fmt"

	"articlerec/repository"
)

// VerifiedCandidates drops candidates from a secondary index that the
// primary store no longer holds as published.
type VerifiedCandidates struct {
	source repository.CandidateSource
	store  repository.PublishedFilter
}

func NewVerifiedCandidates(source repository.CandidateSource, store repository.PublishedFilter) *VerifiedCandidates {
	return &VerifiedCandidates{source: source, store: store}
}

func (v *VerifiedCandidates) ListCandidates(ctx context.Context, excludeID, scheme string) ([]repository.Article, error) {
	candidates, err := v.source.ListCandidates(ctx, excludeID, scheme)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	ids := make([]string, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].ID
	}
	published, err := v.store.PublishedIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("verify candidates: %w", err)
	}

	out := candidates[:0]
	for _, c := range candidates {
		if _, ok := published[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}
