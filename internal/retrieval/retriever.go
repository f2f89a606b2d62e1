// Package retrieval runs dense and sparse search in parallel and fuses the results.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/violationsqa/violationsqa/internal/knowledge"
	"github.com/violationsqa/violationsqa/internal/observability"
)

// ErrRetrievalDegraded is reported when a signal failed and fusion used what remained.
var ErrRetrievalDegraded = errors.New("retrieval degraded")

type Config struct {
	DenseK  int
	SparseK int
	Cap     int
	RRFK    int
}

type Result struct {
	Documents []Document
	// Failures holds the error of every signal that failed.
	Failures map[knowledge.Signal]error
	Duration time.Duration
}

func (r Result) Degraded() bool {
	return len(r.Failures) > 0
}

// Err wraps ErrRetrievalDegraded with the failing signals, or returns nil.
func (r Result) Err() error {
	if !r.Degraded() {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, signal := range []knowledge.Signal{knowledge.SignalDense, knowledge.SignalSparse} {
		if err, ok := r.Failures[signal]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", signal, err))
		}
	}
	return fmt.Errorf("%w: %w", ErrRetrievalDegraded, errors.Join(errs...))
}

func (r Result) IDs() []string {
	ids := make([]string, len(r.Documents))
	for i, doc := range r.Documents {
		ids[i] = doc.ID
	}
	return ids
}

// Retriever is safe for concurrent use and meant to be built once per process.
// A nil Embedder or Dense searcher disables the dense signal; a nil Sparse
// searcher disables the sparse signal. Disabled signals are not failures.
type Retriever struct {
	Embedder knowledge.Embedder
	Dense    knowledge.DenseSearcher
	Sparse   knowledge.SparseSearcher
	Config   Config
	Logger   *slog.Logger
}

// Retrieve never fails: a failing signal is logged and dropped from fusion.
func (r *Retriever) Retrieve(ctx context.Context, question string) Result {
	start := time.Now()
	var (
		wg                    sync.WaitGroup
		denseHits, sparseHits []knowledge.ScoredDocument
		denseErr, sparseErr   error
	)

	if r.denseEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			denseHits, denseErr = r.searchDense(ctx, question)
		}()
	}
	if r.sparseEnabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sparseHits, sparseErr = r.Sparse.SearchSparse(ctx, question, r.Config.SparseK)
		}()
	}
	wg.Wait()

	result := Result{}
	if denseErr != nil {
		result.fail(knowledge.SignalDense, denseErr)
		denseHits = nil
	}
	if sparseErr != nil {
		result.fail(knowledge.SignalSparse, sparseErr)
		sparseHits = nil
	}
	for signal, err := range result.Failures {
		observability.IncrementRetrievalDegraded(string(signal))
		observability.LoggerWithTrace(ctx, r.Logger).WarnContext(ctx, "retrieval signal failed",
			slog.String("signal", string(signal)),
			slog.String("error", err.Error()),
		)
	}

	result.Documents = Fuse(denseHits, sparseHits, r.Config.RRFK, r.Config.Cap)
	result.Duration = time.Since(start)
	return result
}

func (r *Retriever) searchDense(ctx context.Context, question string) ([]knowledge.ScoredDocument, error) {
	embedding, err := r.Embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	return r.Dense.SearchDense(ctx, knowledge.Normalize(embedding), r.Config.DenseK)
}

func (r *Retriever) denseEnabled() bool {
	return r.Embedder != nil && r.Dense != nil && r.Config.DenseK > 0
}

func (r *Retriever) sparseEnabled() bool {
	return r.Sparse != nil && r.Config.SparseK > 0
}

func (r *Result) fail(signal knowledge.Signal, err error) {
	if r.Failures == nil {
		r.Failures = map[knowledge.Signal]error{}
	}
	r.Failures[signal] = err
}
