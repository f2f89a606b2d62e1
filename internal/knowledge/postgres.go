package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// PostgresStore keeps documents in knowledge_documents. Dense search uses
// pgvector cosine distance and sparse search uses full-text rank over the
// generated tsv column.
type PostgresStore struct {
	db        *sql.DB
	dimension int
}

func NewPostgresStore(db *sql.DB, dimension int) *PostgresStore {
	return &PostgresStore{db: db, dimension: dimension}
}

func (s *PostgresStore) Upsert(ctx context.Context, doc Document, embedding []float32) error {
	if embedding != nil && s.dimension > 0 && len(embedding) != s.dimension {
		return fmt.Errorf("document %s: %w: got %d, want %d", doc.ID, ErrDimensionMismatch, len(embedding), s.dimension)
	}
	keywords, err := json.Marshal(nonNil(doc.Keywords))
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	var vector any
	if embedding != nil {
		vector = pgvector.NewVector(embedding)
	}

	statement := `
INSERT INTO knowledge_documents (id, content, doc_type, category, keywords, embedding, updated_at)
VALUES ($1, $2, $3, $4, ARRAY(SELECT jsonb_array_elements_text($5::jsonb)), $6, NOW())
ON CONFLICT (id) DO UPDATE SET
	content = EXCLUDED.content,
	doc_type = EXCLUDED.doc_type,
	category = EXCLUDED.category,
	keywords = EXCLUDED.keywords,
	embedding = EXCLUDED.embedding,
	updated_at = NOW()`
	if _, err := s.db.ExecContext(ctx, statement, doc.ID, doc.Content, doc.Type, doc.Category, string(keywords), vector); err != nil {
		return fmt.Errorf("upsert knowledge document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *PostgresStore) SearchDense(ctx context.Context, embedding []float32, k int) ([]ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	if s.dimension > 0 && len(embedding) != s.dimension {
		return nil, fmt.Errorf("dense search: %w: got %d, want %d", ErrDimensionMismatch, len(embedding), s.dimension)
	}
	statement := `
SELECT id, content, doc_type, category, to_json(keywords)::text, 1 - (embedding <=> $1) AS score
FROM knowledge_documents
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1, id
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, statement, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	return scanScored(rows, SignalDense)
}

// SearchSparse ranks documents sharing any stemmed term with text. The parsed
// query is rewritten from AND to OR so long questions still match.
func (s *PostgresStore) SearchSparse(ctx context.Context, text string, k int) ([]ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	statement := `
WITH q AS (
	SELECT NULLIF(replace(plainto_tsquery('english', $1)::text, '&', '|'), '')::tsquery AS query
)
SELECT d.id, d.content, d.doc_type, d.category, to_json(d.keywords)::text, ts_rank_cd(d.tsv, q.query) AS score
FROM knowledge_documents d, q
WHERE q.query IS NOT NULL AND d.tsv @@ q.query
ORDER BY score DESC, d.id
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, statement, text, k)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}
	return scanScored(rows, SignalSparse)
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count knowledge documents: %w", err)
	}
	return count, nil
}

// DeleteMissing removes documents whose id is not in keep.
func (s *PostgresStore) DeleteMissing(ctx context.Context, keep []string) (int64, error) {
	ids, err := json.Marshal(nonNil(keep))
	if err != nil {
		return 0, fmt.Errorf("marshal ids: %w", err)
	}
	statement := `
DELETE FROM knowledge_documents
WHERE id <> ALL (ARRAY(SELECT jsonb_array_elements_text($1::jsonb)))`
	res, err := s.db.ExecContext(ctx, statement, string(ids))
	if err != nil {
		return 0, fmt.Errorf("delete stale knowledge documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func scanScored(rows *sql.Rows, signal Signal) ([]ScoredDocument, error) {
	defer func() { _ = rows.Close() }()

	var out []ScoredDocument
	for rows.Next() {
		var (
			doc      ScoredDocument
			keywords string
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &doc.Type, &doc.Category, &keywords, &doc.Score); err != nil {
			return nil, fmt.Errorf("scan %s result: %w", signal, err)
		}
		if err := json.Unmarshal([]byte(keywords), &doc.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords of %s: %w", doc.ID, err)
		}
		doc.Signal = signal
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s results: %w", signal, err)
	}
	return out, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
