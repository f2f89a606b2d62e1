package retrieval

import (
	"sort"

	"github.com/violationsqa/violationsqa/internal/knowledge"
)

// SignalFused marks a document returned by both signals.
const SignalFused knowledge.Signal = "fused"

const DefaultRRFK = 60

// Document is one fused retrieval hit. Ranks are 1-based; 0 means the signal
// did not return the document.
type Document struct {
	knowledge.Document
	Score      float64          `json:"score"`
	Signal     knowledge.Signal `json:"signal"`
	DenseRank  int              `json:"dense_rank,omitempty"`
	SparseRank int              `json:"sparse_rank,omitempty"`
}

// Fuse merges two ranked lists with reciprocal rank fusion: a document at rank r
// in a list contributes 1/(k+r). Documents are deduplicated by id, ordered by
// fused score, then dense rank, then sparse rank, then id, and truncated to limit.
func Fuse(dense, sparse []knowledge.ScoredDocument, k, limit int) []Document {
	if k <= 0 {
		k = DefaultRRFK
	}
	byID := map[string]*Document{}
	order := make([]*Document, 0, len(dense)+len(sparse))

	accumulate := func(list []knowledge.ScoredDocument, signal knowledge.Signal) {
		for i, hit := range list {
			rank := i + 1
			doc, ok := byID[hit.ID]
			if !ok {
				doc = &Document{Document: hit.Document, Signal: signal}
				byID[hit.ID] = doc
				order = append(order, doc)
			}
			switch signal {
			case knowledge.SignalDense:
				if doc.DenseRank != 0 {
					continue
				}
				doc.DenseRank = rank
			case knowledge.SignalSparse:
				if doc.SparseRank != 0 {
					continue
				}
				doc.SparseRank = rank
			}
			if doc.Signal != signal {
				doc.Signal = SignalFused
			}
			doc.Score += 1 / float64(k+rank)
		}
	}
	accumulate(dense, knowledge.SignalDense)
	accumulate(sparse, knowledge.SignalSparse)

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if c := compareRank(a.DenseRank, b.DenseRank); c != 0 {
			return c < 0
		}
		if c := compareRank(a.SparseRank, b.SparseRank); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})

	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}
	out := make([]Document, len(order))
	for i, doc := range order {
		out[i] = *doc
	}
	return out
}

// compareRank orders present ranks ascending and absent ranks last.
func compareRank(a, b int) int {
	switch {
	case a == b:
		return 0
	case a == 0:
		return 1
	case b == 0:
		return -1
	case a < b:
		return -1
	default:
		return 1
	}
}
