// Package session holds conversation state and the contract for persisting it.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// TimestampPrecision is the resolution turn timestamps are stored at.
const TimestampPrecision = time.Microsecond

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is owned by one interaction at a time. It is passed by pointer
// through the pipeline and persisted whole after every turn.
type Session struct {
	ID        uuid.UUID         `json:"id"`
	StartTime time.Time         `json:"start_time"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Turns     []Turn            `json:"turns"`
}

// Summary is one row of the session listing.
type Summary struct {
	ID        uuid.UUID `json:"id"`
	StartTime time.Time `json:"start_time"`
	TurnCount int       `json:"turn_count"`
}

func (s *Session) Append(role Role, content string, at time.Time) {
	s.Turns = append(s.Turns, Turn{Role: role, Content: content, Timestamp: at.Truncate(TimestampPrecision)})
}

// History returns a copy of the last n turns, oldest first. n <= 0 returns all turns.
func (s *Session) History(n int) []Turn {
	turns := s.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

type Store interface {
	Create(ctx context.Context, metadata map[string]string) (Session, error)
	List(ctx context.Context, limit int) ([]Summary, error)
	Load(ctx context.Context, id uuid.UUID) (Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// Save replaces every persisted turn of the session with s.Turns atomically.
	Save(ctx context.Context, s Session) error
}
