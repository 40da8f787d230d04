package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/HyphaGroup/conduit/internal/config"
	"github.com/HyphaGroup/conduit/internal/transport"
)

func clientFor(srv *httptest.Server) ClientFunc {
	return func(ctx context.Context) (*transport.Client, error) {
		return transport.New(srv.URL), nil
	}
}

func TestManager_EnsureSession(t *testing.T) {
	var creates atomic.Int32
	var lastPolicy atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Permission map[string]string `json:"permission"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		lastPolicy.Store(body.Permission["default"])

		n := creates.Add(1)
		_, _ = fmt.Fprintf(w, `{"id":"ses_%d"}`, n)
	}))
	defer srv.Close()

	m := NewManager(clientFor(srv), config.PermissionAuto)

	id, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if id != "ses_1" {
		t.Errorf("id = %q, want ses_1", id)
	}
	if lastPolicy.Load() != "allow" {
		t.Errorf("policy = %v, want allow for auto mode", lastPolicy.Load())
	}

	// Second call returns the cached id without a create.
	id, err = m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if id != "ses_1" {
		t.Errorf("cached id = %q, want ses_1", id)
	}
	if creates.Load() != 1 {
		t.Errorf("creates = %d, want 1", creates.Load())
	}

	// Reset forces a new create; mode change applies to it.
	m.Reset()
	m.SetPermissionMode(config.PermissionAsk)
	id, err = m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if id != "ses_2" {
		t.Errorf("id after reset = %q, want ses_2", id)
	}
	if lastPolicy.Load() != "ask" {
		t.Errorf("policy = %v, want ask after mode change", lastPolicy.Load())
	}
}

func TestManager_CreateFailureLeavesCacheEmpty(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = fmt.Fprint(w, `{"id":"ses_ok"}`)
	}))
	defer srv.Close()

	m := NewManager(clientFor(srv), config.PermissionAsk)

	if _, err := m.EnsureSession(context.Background()); err == nil {
		t.Fatal("EnsureSession() should fail when create fails")
	}
	if m.SessionID() != "" {
		t.Error("failed create must leave cache empty")
	}

	id, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("retry EnsureSession() error = %v", err)
	}
	if id != "ses_ok" {
		t.Errorf("id = %q, want ses_ok", id)
	}
}

func TestManager_CreateReturnsNoID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	m := NewManager(clientFor(srv), config.PermissionAsk)
	if _, err := m.EnsureSession(context.Background()); err == nil {
		t.Error("EnsureSession() should fail when server returns no id")
	}
}

func TestManager_SetSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("adopting a session id must not hit the server")
	}))
	defer srv.Close()

	m := NewManager(clientFor(srv), config.PermissionAsk)
	m.SetSessionID("ses_persisted")

	id, err := m.EnsureSession(context.Background())
	if err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}
	if id != "ses_persisted" {
		t.Errorf("id = %q, want ses_persisted", id)
	}
}

func TestManager_ReplyPermission(t *testing.T) {
	var gotPath, gotResponse string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/session" {
			_, _ = fmt.Fprint(w, `{"id":"ses_1"}`)
			return
		}
		gotPath = r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotResponse = body["response"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewManager(clientFor(srv), config.PermissionAsk)
	if _, err := m.EnsureSession(context.Background()); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	if err := m.ReplyPermission(context.Background(), "perm_9", true); err != nil {
		t.Fatalf("ReplyPermission() error = %v", err)
	}
	if gotPath != "/session/ses_1/permissions/perm_9" {
		t.Errorf("path = %q", gotPath)
	}
	if gotResponse != "once" {
		t.Errorf("response = %q, want once", gotResponse)
	}
}

func TestManager_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			_, _ = fmt.Fprint(w, `{"id":"ses_1"}`)
		case "/session/ses_1/message":
			_, _ = fmt.Fprint(w, `{"info":{"id":"msg_1"},"parts":[{"type":"step-start"},{"type":"text","text":"first"},{"type":"text","text":"second"}]}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	m := NewManager(clientFor(srv), config.PermissionAsk)
	got, err := m.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got != "first\nsecond" {
		t.Errorf("Send() = %q, want text parts joined", got)
	}
}
