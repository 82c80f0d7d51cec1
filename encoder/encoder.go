// Package encoder turns article text into fixed-length vectors.
//
// Two strategies exist. Embedding sends each batch to an external provider
// and yields vectors of a fixed dimensionality. TF-IDF is corpus-relative:
// a Vocabulary is fitted on the whole corpus and the resulting encoder is
// only valid for vectors produced in the same fit.
package encoder

import (
	"context"
	"errors"
)

var ErrDimensionMismatch = errors.New("encoder: vector dimension mismatch")

type Encoder interface {
	// Scheme identifies the vector space. Vectors of different schemes must
	// never be compared.
	Scheme() string
	Dim() int
	// MaxBatch is the largest number of texts sent in one provider call;
	// 0 means unbounded.
	MaxBatch() int
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// CorpusEncoder produces an Encoder fitted on a full corpus.
type CorpusEncoder interface {
	// Family is the scheme prefix shared by every fitted encoder.
	Family() string
	Fit(texts []string) Encoder
}
