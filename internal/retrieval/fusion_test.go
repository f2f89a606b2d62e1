package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/violationsqa/violationsqa/internal/knowledge"
)

func hits(signal knowledge.Signal, ids ...string) []knowledge.ScoredDocument {
	out := make([]knowledge.ScoredDocument, len(ids))
	for i, id := range ids {
		out[i] = knowledge.ScoredDocument{
			Document: knowledge.Document{ID: id, Content: "content " + id},
			Score:    float64(len(ids) - i),
			Signal:   signal,
		}
	}
	return out
}

func ids(docs []Document) []string {
	out := make([]string, len(docs))
	for i, doc := range docs {
		out[i] = doc.ID
	}
	return out
}

func TestFuseSumsReciprocalRanks(t *testing.T) {
	docs := Fuse(hits(knowledge.SignalDense, "a", "b"), hits(knowledge.SignalSparse, "b", "c"), 60, 3)

	require.Len(t, docs, 3)
	assert.Equal(t, []string{"b", "a", "c"}, ids(docs))

	assert.InDelta(t, 1.0/62+1.0/61, docs[0].Score, 1e-12)
	assert.Equal(t, SignalFused, docs[0].Signal)
	assert.Equal(t, 2, docs[0].DenseRank)
	assert.Equal(t, 1, docs[0].SparseRank)

	assert.InDelta(t, 1.0/61, docs[1].Score, 1e-12)
	assert.Equal(t, knowledge.SignalDense, docs[1].Signal)
	assert.Zero(t, docs[1].SparseRank)

	assert.InDelta(t, 1.0/62, docs[2].Score, 1e-12)
	assert.Equal(t, knowledge.SignalSparse, docs[2].Signal)
	assert.Zero(t, docs[2].DenseRank)
}

func TestFuseDeduplicatesByID(t *testing.T) {
	docs := Fuse(hits(knowledge.SignalDense, "a", "a", "b"), hits(knowledge.SignalSparse, "a"), 60, 10)

	assert.Equal(t, []string{"a", "b"}, ids(docs))
	assert.Equal(t, 1, docs[0].DenseRank)
	assert.InDelta(t, 2.0/61, docs[0].Score, 1e-12)
}

func TestFuseBreaksTiesByDenseRankThenSparseRankThenID(t *testing.T) {
	docs := Fuse(hits(knowledge.SignalDense, "x"), hits(knowledge.SignalSparse, "w"), 60, 10)
	assert.Equal(t, []string{"x", "w"}, ids(docs), "dense hit outranks sparse hit with equal score")

	docs = Fuse(hits(knowledge.SignalDense, "y", "x"), hits(knowledge.SignalSparse, "x", "y"), 60, 10)
	assert.Equal(t, []string{"y", "x"}, ids(docs), "equal sums order by dense rank")

	docs = Fuse(nil, hits(knowledge.SignalSparse, "m", "n"), 60, 10)
	assert.Equal(t, []string{"m", "n"}, ids(docs))

	docs = Fuse([]knowledge.ScoredDocument{}, nil, 60, 10)
	assert.Empty(t, docs)
}

func TestFuseIsDeterministic(t *testing.T) {
	dense := hits(knowledge.SignalDense, "d1", "d2", "shared", "d3")
	sparse := hits(knowledge.SignalSparse, "shared", "s1", "d3", "s2")

	first := Fuse(dense, sparse, 60, 5)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Fuse(dense, sparse, 60, 5))
	}
}

func TestFuseAppliesCapAndDefaultK(t *testing.T) {
	docs := Fuse(hits(knowledge.SignalDense, "a", "b", "c"), hits(knowledge.SignalSparse, "d", "e"), 0, 2)

	require.Len(t, docs, 2)
	assert.InDelta(t, 1.0/float64(DefaultRRFK+1), docs[0].Score, 1e-12)

	all := Fuse(hits(knowledge.SignalDense, "a", "b", "c"), nil, 60, 0)
	assert.Len(t, all, 3)
}

func TestFusedScoreIsBoundedByTwoTopRanks(t *testing.T) {
	docs := Fuse(hits(knowledge.SignalDense, "a", "b", "c"), hits(knowledge.SignalSparse, "c", "b", "a"), 60, 3)
	for _, doc := range docs {
		assert.LessOrEqual(t, doc.Score, 2.0/61)
		assert.Greater(t, doc.Score, 0.0)
	}
}
