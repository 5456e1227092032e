// Package session owns persisted per-conversation state. All access goes
// through the Store API; the workflow engine never holds a second copy of a
// session that can drift across a suspension point.
package session

import (
	"context"
	"time"

	"github.com/rendis/cortex/pkg/schema"
)

// Session is the TTL-bounded state for one conversational thread.
type Session struct {
	ID                    string        `json:"id"`
	History               []schema.Turn `json:"history"`
	AwaitingClarification bool          `json:"awaiting_clarification"`
	// PendingQuery holds the ambiguous query while the session waits for a
	// clarification answer.
	PendingQuery        string    `json:"pending_query,omitempty"`
	ClarificationRounds int       `json:"clarification_rounds"`
	CreatedAt           time.Time `json:"created_at"`
	LastAccessAt        time.Time `json:"last_access_at"`
	// Version implements optimistic concurrency: Save fails when the stored
	// version no longer matches.
	Version int64 `json:"version"`
}

// AppendTurn appends to the history, evicting the oldest entry first when
// the cap is reached. The newest entry is never dropped.
func (s *Session) AppendTurn(turn schema.Turn, maxHistory int) {
	s.History = append(s.History, turn)
	if maxHistory > 0 && len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
}

// Expired reports whether the session's TTL has elapsed at the given instant.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastAccessAt) > ttl
}

// clone returns a deep copy so callers never share history slices with the
// stored session.
func (s *Session) clone() *Session {
	cp := *s
	cp.History = make([]schema.Turn, len(s.History))
	copy(cp.History, s.History)
	return &cp
}

// Store defines the session persistence contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreate returns the existing unexpired session or creates a new
	// one. Access extends the TTL.
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	// Save atomically replaces the session. It fails with
	// CONCURRENT_MODIFICATION if the session was evicted or modified
	// between read and write; the caller recreates and retries once.
	Save(ctx context.Context, sess *Session) error
	// EvictExpired removes sessions whose TTL has elapsed and returns how
	// many were removed. Safe to run concurrently with reads: a session
	// accessed after the sweep started is not evicted.
	EvictExpired(ctx context.Context) (int, error)
	// Delete removes a session unconditionally.
	Delete(ctx context.Context, id string) error
	Close() error
}

func conflictError(id string) *schema.CortexError {
	return schema.NewErrorf(schema.ErrCodeConcurrentModification,
		"session %q changed or was evicted between read and write", id)
}
