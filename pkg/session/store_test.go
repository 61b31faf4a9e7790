package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/calbot/calbot/pkg/ports"
	"github.com/calbot/calbot/pkg/providers"
)

var storeAccounts = []ports.AccountRef{{ID: "personal", Primary: true}}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	state := NewState("s1", storeAccounts)
	state.Append(providers.Message{Role: "user", Content: "hello"})
	if err := store.Put(context.Background(), state); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	loaded, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded == nil || len(loaded.History) != 1 {
		t.Fatalf("unexpected state: %+v", loaded)
	}

	missing, err := store.Get(context.Background(), "nope")
	if err != nil || missing != nil {
		t.Errorf("unknown session should be (nil, nil), got %v, %v", missing, err)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore(20 * time.Millisecond)
	defer store.Close()

	if err := store.Put(context.Background(), NewState("s1", storeAccounts)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	loaded, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded != nil {
		t.Error("expired session should be gone")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	_ = store.Put(context.Background(), NewState("s1", storeAccounts))
	if err := store.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	loaded, _ := store.Get(context.Background(), "s1")
	if loaded != nil {
		t.Error("deleted session should be gone")
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	state := NewState("s1", storeAccounts)
	state.Append(
		providers.Message{Role: "user", Content: "move my dentist appointment"},
		providers.Message{Role: "assistant", Content: "Which day works for you?"},
	)
	if err := store.Put(context.Background(), state); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	loaded, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected stored state")
	}
	if len(loaded.History) != 2 {
		t.Errorf("history length = %d, want 2", len(loaded.History))
	}
	if len(loaded.Accounts) != 1 || loaded.Accounts[0].ID != "personal" {
		t.Errorf("accounts did not survive the round trip: %+v", loaded.Accounts)
	}

	// Upsert overwrites.
	state.Append(providers.Message{Role: "user", Content: "friday"})
	if err := store.Put(context.Background(), state); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	loaded, _ = store.Get(context.Background(), "s1")
	if len(loaded.History) != 3 {
		t.Errorf("history length after upsert = %d, want 3", len(loaded.History))
	}
}

func TestSQLiteStore_DeleteAndMiss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	_ = store.Put(context.Background(), NewState("s1", storeAccounts))
	if err := store.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	loaded, err := store.Get(context.Background(), "s1")
	if err != nil || loaded != nil {
		t.Errorf("deleted session should be (nil, nil), got %v, %v", loaded, err)
	}
}
