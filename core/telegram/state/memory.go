package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory. Sessions idle longer than
// the configured timeout read as absent and are removed by Sweep.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	idle     time.Duration
	now      func() time.Time
}

// NewMemoryStore returns an empty store. idle <= 0 disables lazy expiry.
func NewMemoryStore(idle time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]*Session),
		idle:     idle,
		now:      time.Now,
	}
}

// Get returns a copy of the user's live session.
func (m *MemoryStore) Get(_ context.Context, userID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, nil
	}
	if m.expired(s, m.now()) {
		delete(m.sessions, userID)
		return nil, nil
	}
	return s.Clone(), nil
}

// Set stores a copy of s. A zero UpdatedAt is stamped with the current time.
func (m *MemoryStore) Set(_ context.Context, userID int64, s *Session) error {
	if s == nil {
		return m.Clear(context.Background(), userID)
	}
	stored := s.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = m.now()
	}

	m.mu.Lock()
	m.sessions[userID] = stored
	m.mu.Unlock()
	return nil
}

// Clear removes the user's session.
func (m *MemoryStore) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
	return nil
}

// Sweep drops sessions whose last activity is older than idle and returns
// how many were removed.
func (m *MemoryStore) Sweep(now time.Time, idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.UpdatedAt) > idle {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) expired(s *Session, now time.Time) bool {
	return m.idle > 0 && now.Sub(s.UpdatedAt) > m.idle
}
