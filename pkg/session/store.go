package session

import (
	"context"
	"sync"
	"time"
)

// Store is the session persistence boundary. Get returns (nil, nil) for an
// unknown or expired session; callers create fresh state in that case.
type Store interface {
	Get(ctx context.Context, sessionID string) (*State, error)
	Put(ctx context.Context, state *State) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// MemoryStore keeps sessions in process memory with lazy TTL expiry. This is
// the default backend and matches the volatile-cache lifecycle: state dies
// with the process.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*memoryEntry
}

type memoryEntry struct {
	state   *State
	touched time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*memoryEntry),
	}
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	entry.touched = time.Now()
	return entry.state, nil
}

func (s *MemoryStore) Put(ctx context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.sessions[state.SessionID] = &memoryEntry{state: state, touched: time.Now()}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) sweepLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.ttl)
	for id, entry := range s.sessions {
		if entry.touched.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}
