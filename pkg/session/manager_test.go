package session

import (
	"context"
	"errors"
	"testing"

	"github.com/calbot/calbot/pkg/config"
	"github.com/calbot/calbot/pkg/ports"
)

func TestManager_AcquireSingleFlight(t *testing.T) {
	m := NewManager(NewMemoryStore(0))
	defer m.Close()

	release, err := m.Acquire("s1")
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	if _, err := m.Acquire("s1"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second Acquire = %v, want ErrSessionBusy", err)
	}

	// A different session is unaffected.
	otherRelease, err := m.Acquire("s2")
	if err != nil {
		t.Fatalf("Acquire for another session failed: %v", err)
	}
	otherRelease()

	release()
	release2, err := m.Acquire("s1")
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	release2()
}

func TestManager_LoadCreatesFreshState(t *testing.T) {
	m := NewManager(NewMemoryStore(0))
	defer m.Close()

	accounts := []ports.AccountRef{{ID: "personal", Primary: true}}
	state, err := m.Load(context.Background(), "fresh", accounts)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if state.SessionID != "fresh" || len(state.History) != 0 {
		t.Errorf("unexpected fresh state: %+v", state)
	}
	if len(state.Accounts) != 1 {
		t.Errorf("accounts not applied: %+v", state.Accounts)
	}
}

func TestManager_LoadRefreshesAccounts(t *testing.T) {
	m := NewManager(NewMemoryStore(0))
	defer m.Close()

	old := []ports.AccountRef{{ID: "personal", Credential: "stale-handle", Primary: true}}
	state := NewState("s1", old)
	if err := m.Save(context.Background(), state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	fresh := []ports.AccountRef{{ID: "personal", Credential: "fresh-handle", Primary: true}}
	loaded, err := m.Load(context.Background(), "s1", fresh)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Accounts[0].Credential != "fresh-handle" {
		t.Errorf("credential handle not refreshed: %+v", loaded.Accounts)
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	store, err := NewStoreFromConfig(config.SessionConfig{Store: "memory", TTLMinutes: 10})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	store.Close()

	if _, err := NewStoreFromConfig(config.SessionConfig{Store: "etcd"}); err == nil {
		t.Error("unknown store name should fail")
	}
}
