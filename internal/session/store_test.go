package session

import (
	"errors"
	"testing"
	"time"
)

func TestStore_SaveAndLookup(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveSessionID("conv-1", "ses_abc"); err != nil {
		t.Fatalf("SaveSessionID() error = %v", err)
	}

	id, err := store.LookupSessionID("conv-1")
	if err != nil {
		t.Fatalf("LookupSessionID() error = %v", err)
	}
	if id != "ses_abc" {
		t.Errorf("id = %q, want ses_abc", id)
	}

	// Upsert replaces the mapping.
	if err := store.SaveSessionID("conv-1", "ses_new"); err != nil {
		t.Fatalf("SaveSessionID() upsert error = %v", err)
	}
	id, _ = store.LookupSessionID("conv-1")
	if id != "ses_new" {
		t.Errorf("id after upsert = %q, want ses_new", id)
	}
}

func TestStore_LookupMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	_, err = store.LookupSessionID("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("LookupSessionID() error = %v, want ErrNotFound", err)
	}
}

func TestStore_Forget(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	_ = store.SaveSessionID("conv-1", "ses_abc")
	if err := store.Forget("conv-1"); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if _, err := store.LookupSessionID("conv-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LookupSessionID() after Forget error = %v, want ErrNotFound", err)
	}
}

func TestStore_RecordTurn(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	for i := 0; i < 3; i++ {
		if err := store.RecordTurn("conv-1", "anthropic/claude-sonnet-4-5", "idle", 2*time.Second); err != nil {
			t.Fatalf("RecordTurn() error = %v", err)
		}
	}
	_ = store.RecordTurn("conv-2", "", "cancelled", time.Second)

	n, err := store.TurnCount("conv-1")
	if err != nil {
		t.Fatalf("TurnCount() error = %v", err)
	}
	if n != 3 {
		t.Errorf("TurnCount(conv-1) = %d, want 3", n)
	}
}
