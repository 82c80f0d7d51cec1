package encoder

import (
	"context"
	"encoding/hex"
	"hash/fnv"
	"math"
	"sort"

	"articlerec/pkg/embedding"
)

const tfidfFamily = "tfidf:"

// Vocabulary is the term space of one TF-IDF fit. It is built from a
// corpus by BuildVocabulary and passed explicitly to the encoder.
type Vocabulary struct {
	Terms []string
	idf   []float64
	index map[string]int
	docs  int
}

// BuildVocabulary unions each document's topTerms highest-weighted terms,
// in first-seen order. topTerms <= 0 keeps every term.
func BuildVocabulary(docs [][]string, topTerms int) *Vocabulary {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool, len(doc))
		for _, term := range doc {
			if !seen[term] {
				seen[term] = true
				df[term]++
			}
		}
	}

	n := len(docs)
	idf := func(term string) float64 {
		return 1 + math.Log(float64(n)/float64(1+df[term]))
	}

	v := &Vocabulary{index: make(map[string]int), docs: n}
	for _, doc := range docs {
		for _, ts := range rankTerms(doc, idf, topTerms) {
			if _, ok := v.index[ts.term]; ok {
				continue
			}
			v.index[ts.term] = len(v.Terms)
			v.Terms = append(v.Terms, ts.term)
			v.idf = append(v.idf, idf(ts.term))
		}
	}
	return v
}

type termScore struct {
	term  string
	score float64
}

func rankTerms(doc []string, idf func(string) float64, limit int) []termScore {
	tf := termFrequencies(doc)
	scores := make([]termScore, 0, len(tf))
	for term, count := range tf {
		scores = append(scores, termScore{term: term, score: float64(count) * idf(term)})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].term < scores[j].term
	})
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}

func termFrequencies(doc []string) map[string]int {
	tf := make(map[string]int, len(doc))
	for _, term := range doc {
		tf[term]++
	}
	return tf
}

func (v *Vocabulary) Len() int {
	return len(v.Terms)
}

// Fingerprint identifies the term space; two vocabularies with the same
// terms in the same order share it.
func (v *Vocabulary) Fingerprint() string {
	h := fnv.New64a()
	for _, t := range v.Terms {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Vectorize returns the L2-normalized tf-idf weights of tokens over v.
func (v *Vocabulary) Vectorize(tokens []string) []float32 {
	vec := make([]float32, len(v.Terms))
	for term, count := range termFrequencies(tokens) {
		if i, ok := v.index[term]; ok {
			vec[i] = float32(float64(count) * v.idf[i])
		}
	}
	return embedding.Normalize(vec)
}

// TFIDF encodes texts over a fixed Vocabulary.
type TFIDF struct {
	vocab  *Vocabulary
	scheme string
}

func NewTFIDF(vocab *Vocabulary) *TFIDF {
	return &TFIDF{vocab: vocab, scheme: tfidfFamily + vocab.Fingerprint()}
}

func (t *TFIDF) Scheme() string { return t.scheme }
func (t *TFIDF) Dim() int       { return t.vocab.Len() }
func (t *TFIDF) MaxBatch() int  { return 0 }

func (t *TFIDF) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = t.vocab.Vectorize(Tokenize(text))
	}
	return out, nil
}

// TFIDFFitter fits a fresh Vocabulary on every call to Fit.
type TFIDFFitter struct {
	TopTerms int
}

func (f TFIDFFitter) Family() string { return tfidfFamily }

func (f TFIDFFitter) Fit(texts []string) Encoder {
	docs := make([][]string, len(texts))
	for i, text := range texts {
		docs[i] = Tokenize(text)
	}
	return NewTFIDF(BuildVocabulary(docs, f.TopTerms))
}
