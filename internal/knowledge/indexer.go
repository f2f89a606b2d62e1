package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type IndexSummary struct {
	Indexed  int
	Embedded int
	Duration time.Duration
}

// Indexer embeds documents and writes them to a store.
type Indexer struct {
	Writer   Writer
	Embedder Embedder
	Logger   *slog.Logger
}

// Index writes every document. When Embedder is nil documents are stored for
// sparse search only.
func (i *Indexer) Index(ctx context.Context, docs []Document) (IndexSummary, error) {
	if i.Writer == nil {
		return IndexSummary{}, fmt.Errorf("writer is required")
	}
	start := time.Now()
	summary := IndexSummary{}
	for _, doc := range docs {
		var embedding []float32
		if i.Embedder != nil {
			vec, err := i.Embedder.Embed(ctx, doc.Content)
			if err != nil {
				return summary, fmt.Errorf("embed document %s: %w", doc.ID, err)
			}
			embedding = Normalize(vec)
			summary.Embedded++
		}
		if err := i.Writer.Upsert(ctx, doc, embedding); err != nil {
			return summary, err
		}
		summary.Indexed++
		if i.Logger != nil {
			i.Logger.DebugContext(ctx, "knowledge document indexed",
				slog.String("id", doc.ID),
				slog.String("category", doc.Category),
				slog.Bool("embedded", embedding != nil),
			)
		}
	}
	summary.Duration = time.Since(start)
	return summary, nil
}
