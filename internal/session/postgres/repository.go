// Package postgres persists chat sessions in the chat_sessions and chat_messages tables.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/violationsqa/violationsqa/internal/observability"
	"github.com/violationsqa/violationsqa/internal/session"
)

type dbTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

var _ session.Store = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) Create(ctx context.Context, metadata map[string]string) (session.Session, error) {
	rawMetadata, err := encodeMetadata(metadata)
	if err != nil {
		return session.Session{}, err
	}
	query := `
INSERT INTO chat_sessions (metadata)
VALUES ($1::jsonb)
RETURNING id, start_time`
	out := session.Session{Metadata: metadata, Turns: []session.Turn{}}
	if err := r.db.QueryRowContext(ctx, query, rawMetadata).Scan(&out.ID, &out.StartTime); err != nil {
		return session.Session{}, fmt.Errorf("create session: %w", err)
	}
	return out, nil
}

func (r *Repository) List(ctx context.Context, limit int) ([]session.Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT s.id, s.start_time, COUNT(m.id)
FROM chat_sessions s
LEFT JOIN chat_messages m ON m.session_id = s.id
GROUP BY s.id, s.start_time
ORDER BY s.start_time DESC, s.id
LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]session.Summary, 0)
	for rows.Next() {
		var item session.Summary
		if err := rows.Scan(&item.ID, &item.StartTime, &item.TurnCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (r *Repository) Load(ctx context.Context, id uuid.UUID) (session.Session, error) {
	query := `
SELECT id, start_time, metadata
FROM chat_sessions
WHERE id = $1`
	var (
		out         session.Session
		rawMetadata []byte
	)
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&out.ID, &out.StartTime, &rawMetadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("load session: %w", err)
	}
	metadata, err := decodeMetadata(rawMetadata)
	if err != nil {
		return session.Session{}, err
	}
	out.Metadata = metadata

	turns, err := loadTurns(ctx, r.db, id)
	if err != nil {
		return session.Session{}, err
	}
	out.Turns = turns
	return out, nil
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows affected: %w", err)
	}
	if affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Save upserts the session row, deletes its messages and reinserts every turn in
// order inside one transaction. Turns are stored as given, including zero
// timestamps, so Load returns them in the same order. Concurrent saves of the
// same session resolve to the last commit.
func (r *Repository) Save(ctx context.Context, s session.Session) (err error) {
	defer func() { observability.ObserveSessionSave(err) }()

	if s.ID == uuid.Nil {
		return fmt.Errorf("save session: id is required")
	}
	for i, turn := range s.Turns {
		if !turn.Role.Valid() {
			return fmt.Errorf("save session: turn %d has invalid role %q", i, turn.Role)
		}
	}
	rawMetadata, err := encodeMetadata(s.Metadata)
	if err != nil {
		return err
	}
	startTime := s.StartTime
	if startTime.IsZero() {
		startTime = r.now().UTC()
	}

	return r.withTx(ctx, func(tx dbTX) error {
		upsert := `
INSERT INTO chat_sessions (id, start_time, metadata)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (id)
DO UPDATE SET metadata = EXCLUDED.metadata`
		if _, err := tx.ExecContext(ctx, upsert, s.ID, startTime, rawMetadata); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, s.ID); err != nil {
			return fmt.Errorf("delete session messages: %w", err)
		}
		insert := `
INSERT INTO chat_messages (session_id, role, content, timestamp)
VALUES ($1, $2, $3, $4)`
		for i, turn := range s.Turns {
			timestamp := turn.Timestamp.Truncate(session.TimestampPrecision)
			if _, err := tx.ExecContext(ctx, insert, s.ID, string(turn.Role), turn.Content, timestamp); err != nil {
				return fmt.Errorf("insert session message %d: %w", i, err)
			}
		}
		return nil
	})
}

func (r *Repository) withTx(ctx context.Context, fn func(tx dbTX) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func loadTurns(ctx context.Context, q dbTX, id uuid.UUID) ([]session.Turn, error) {
	query := `
SELECT role, content, timestamp
FROM chat_messages
WHERE session_id = $1
ORDER BY id ASC`
	rows, err := q.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("load session messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	turns := make([]session.Turn, 0)
	for rows.Next() {
		var (
			turn session.Turn
			role string
		)
		if err := rows.Scan(&role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("scan session message: %w", err)
		}
		turn.Role = session.Role(role)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session messages: %w", err)
	}
	return turns, nil
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode session metadata: %w", err)
	}
	return string(raw), nil
}

func decodeMetadata(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("decode session metadata: %w", err)
	}
	if len(metadata) == 0 {
		return nil, nil
	}
	return metadata, nil
}
