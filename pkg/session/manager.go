package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/calbot/calbot/pkg/config"
	"github.com/calbot/calbot/pkg/ports"
)

// ErrSessionBusy means a turn is already in flight for the session.
// Concurrent mutation of one session's history is undefined, so the host
// rejects the second message instead of interleaving.
var ErrSessionBusy = errors.New("a message for this session is already being processed")

// Manager pairs a Store with per-session single-flight locking.
type Manager struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store Store) *Manager {
	return &Manager{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// NewStoreFromConfig picks the configured backend.
func NewStoreFromConfig(cfg config.SessionConfig) (Store, error) {
	ttl := time.Duration(cfg.TTLMinutes) * time.Minute
	switch strings.TrimSpace(strings.ToLower(cfg.Store)) {
	case "", "memory":
		return NewMemoryStore(ttl), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, ttl)
	case "redis":
		return NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, ttl)
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

// Acquire takes the session's turn lock without blocking. The release func
// must be called when the turn finishes.
func (m *Manager) Acquire(sessionID string) (func(), error) {
	m.mu.Lock()
	lock, ok := m.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	m.mu.Unlock()

	if !lock.TryLock() {
		return nil, ErrSessionBusy
	}
	return lock.Unlock, nil
}

// Load fetches the session state, creating fresh state when none exists.
// Account refs from the inbound request replace the stored set so credential
// handles stay current.
func (m *Manager) Load(ctx context.Context, sessionID string, accounts []ports.AccountRef) (*State, error) {
	state, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return NewState(sessionID, accounts), nil
	}
	if len(accounts) > 0 {
		state.Accounts = accounts
	}
	return state, nil
}

// Save writes the session state back to the store.
func (m *Manager) Save(ctx context.Context, state *State) error {
	return m.store.Put(ctx, state)
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
