// Package knowledge stores the documents that ground SQL generation and serves
// the dense and sparse signals fused by retrieval.
package knowledge

import (
	"context"
	"errors"
	"math"
)

type Signal string

const (
	SignalDense  Signal = "dense"
	SignalSparse Signal = "sparse"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

type Document struct {
	ID       string   `json:"id" validate:"required"`
	Content  string   `json:"content" validate:"required"`
	Type     string   `json:"type"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// ScoredDocument is a Document as ranked by one signal. Score semantics depend
// on the signal: cosine similarity for dense, lexical rank for sparse.
type ScoredDocument struct {
	Document
	Score  float64 `json:"score"`
	Signal Signal  `json:"signal"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type DenseSearcher interface {
	SearchDense(ctx context.Context, embedding []float32, k int) ([]ScoredDocument, error)
}

type SparseSearcher interface {
	SearchSparse(ctx context.Context, text string, k int) ([]ScoredDocument, error)
}

// Writer persists documents with their embeddings. A nil embedding stores the
// document for sparse search only.
type Writer interface {
	Upsert(ctx context.Context, doc Document, embedding []float32) error
}

// Normalize scales vec to unit length so cosine distance behaves on every backend.
func Normalize(vec []float32) []float32 {
	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	magnitude = math.Sqrt(magnitude)
	if magnitude == 0 {
		return vec
	}
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / magnitude)
	}
	return out
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
