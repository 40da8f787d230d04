package host

import (
	"context"
	"errors"
	"testing"

	"github.com/HyphaGroup/conduit/internal/config"
	"github.com/HyphaGroup/conduit/internal/query"
	"github.com/HyphaGroup/conduit/internal/session"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := config.Default()
	s.BinaryPath = "/nonexistent/opencode"
	s.DataDir = t.TempDir()
	s.LogDir = t.TempDir()
	return s
}

func TestNewAndClose(t *testing.T) {
	h, err := New(testSettings(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.Close()
}

func TestQuery_MissingBinaryFailsBeforeChunks(t *testing.T) {
	h, err := New(testSettings(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer h.Close()

	ch, err := h.Query(context.Background(), "hi", query.Options{})
	if err == nil {
		t.Fatal("Query() error = nil, want spawn failure before any chunk")
	}
	if ch != nil {
		t.Error("Query() returned a channel alongside an error")
	}
}

func TestResetSession_ForgetsStoredMapping(t *testing.T) {
	settings := testSettings(t)

	// Seed a persisted conversation → session mapping.
	store, err := session.NewStore(settings.DataDir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if err := store.SaveSessionID("conv-1", "ses_old"); err != nil {
		t.Fatalf("SaveSessionID() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	h, err := New(settings)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.ResetSession("conv-1")
	h.Close()

	store, err = session.NewStore(settings.DataDir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()
	if _, err := store.LookupSessionID("conv-1"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("LookupSessionID() error = %v, want ErrNotFound", err)
	}
}
