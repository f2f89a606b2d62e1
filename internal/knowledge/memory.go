package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "have": {}, "how": {},
	"in": {}, "is": {}, "it": {}, "many": {}, "much": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "there": {}, "this": {}, "to": {}, "was": {}, "were": {}, "what": {},
	"which": {}, "who": {}, "with": {},
}

// MemoryStore is an in-process document collection. Sparse search is Okapi
// BM25 over content and keywords, dense search is brute-force cosine.
type MemoryStore struct {
	mu         sync.RWMutex
	docs       map[string]memoryDoc
	dimension  int
	totalTerms int
	docFreq    map[string]int
}

type memoryDoc struct {
	doc       Document
	embedding []float32
	terms     map[string]int
	length    int
}

func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{
		docs:      map[string]memoryDoc{},
		dimension: dimension,
		docFreq:   map[string]int{},
	}
}

func (s *MemoryStore) Upsert(_ context.Context, doc Document, embedding []float32) error {
	if embedding != nil && s.dimension > 0 && len(embedding) != s.dimension {
		return fmt.Errorf("document %s: %w: got %d, want %d", doc.ID, ErrDimensionMismatch, len(embedding), s.dimension)
	}
	tokens := Tokenize(doc.Content + " " + strings.Join(doc.Keywords, " "))
	terms := make(map[string]int, len(tokens))
	for _, token := range tokens {
		terms[token]++
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if previous, ok := s.docs[doc.ID]; ok {
		s.totalTerms -= previous.length
		for term := range previous.terms {
			s.docFreq[term]--
		}
	}
	for term := range terms {
		s.docFreq[term]++
	}
	s.totalTerms += len(tokens)
	s.docs[doc.ID] = memoryDoc{doc: doc, embedding: embedding, terms: terms, length: len(tokens)}
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *MemoryStore) SearchDense(_ context.Context, embedding []float32, k int) ([]ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	if s.dimension > 0 && len(embedding) != s.dimension {
		return nil, fmt.Errorf("dense search: %w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dimension)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScoredDocument, 0, len(s.docs))
	for _, item := range s.docs {
		if item.embedding == nil {
			continue
		}
		out = append(out, ScoredDocument{Document: item.doc, Score: cosine(embedding, item.embedding), Signal: SignalDense})
	}
	return topK(out, k), nil
}

func (s *MemoryStore) SearchSparse(_ context.Context, text string, k int) ([]ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	queryTerms := uniqueTokens(Tokenize(text))
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.docs) == 0 || len(queryTerms) == 0 {
		return nil, nil
	}

	n := float64(len(s.docs))
	avgLength := float64(s.totalTerms) / n
	out := make([]ScoredDocument, 0)
	for _, item := range s.docs {
		var score float64
		for _, term := range queryTerms {
			tf := float64(item.terms[term])
			if tf == 0 {
				continue
			}
			df := float64(s.docFreq[term])
			idf := math.Log(1 + (n-df+0.5)/(df+0.5))
			norm := tf + bm25K1*(1-bm25B+bm25B*float64(item.length)/avgLength)
			score += idf * tf * (bm25K1 + 1) / norm
		}
		if score > 0 {
			out = append(out, ScoredDocument{Document: item.doc, Score: score, Signal: SignalSparse})
		}
	}
	return topK(out, k), nil
}

// topK orders by score descending, then id, and keeps the first k.
func topK(docs []ScoredDocument, k int) []ScoredDocument {
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Score != docs[j].Score {
			return docs[i].Score > docs[j].Score
		}
		return docs[i].ID < docs[j].ID
	})
	if len(docs) > k {
		docs = docs[:k]
	}
	return docs
}

// Tokenize lowercases text, splits on anything that is not a letter or digit,
// and drops stop words.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, field := range fields {
		if _, stop := stopWords[field]; stop {
			continue
		}
		out = append(out, field)
	}
	return out
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}
