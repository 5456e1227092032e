package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore with the given TTL.
// ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// GetOrCreate returns the stored session (touching its TTL) or a fresh one.
// An expired session is treated as unseen: history empty, flags cleared.
func (m *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if sess, ok := m.sessions[id]; ok && !sess.Expired(m.ttl, now) {
		sess.LastAccessAt = now
		return sess.clone(), nil
	}

	fresh := &Session{
		ID:           id,
		CreatedAt:    now,
		LastAccessAt: now,
		Version:      1,
	}
	m.sessions[id] = fresh
	return fresh.clone(), nil
}

// Save replaces the stored session iff the caller read the current version.
// On success the caller's handle is advanced to the new version.
func (m *MemoryStore) Save(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.sessions[sess.ID]
	if !ok || current.Version != sess.Version {
		return conflictError(sess.ID)
	}

	updated := sess.clone()
	updated.Version++
	updated.LastAccessAt = m.now().UTC()
	m.sessions[sess.ID] = updated
	sess.Version = updated.Version
	return nil
}

// EvictExpired removes sessions whose TTL elapsed before the sweep started.
func (m *MemoryStore) EvictExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	evicted := 0
	for id, sess := range m.sessions {
		if sess.Expired(m.ttl, now) {
			delete(m.sessions, id)
			evicted++
		}
	}
	return evicted, nil
}

// Delete removes a session unconditionally.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Close is a no-op for the in-process store.
func (m *MemoryStore) Close() error { return nil }

// Len returns the number of live (possibly expired, not yet swept) sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

var _ Store = (*MemoryStore)(nil)
