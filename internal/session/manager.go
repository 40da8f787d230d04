// Package session manages the logical conversation session against the
// agent server.
//
// Exactly one session is active at a time. The manager creates it
// lazily on first use, caches the id, and re-creates it after an
// explicit reset. The permission mode is applied only at creation; an
// existing session keeps whatever policy it was created with.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/HyphaGroup/conduit/internal/config"
	"github.com/HyphaGroup/conduit/internal/logger"
	"github.com/HyphaGroup/conduit/internal/metrics"
	"github.com/HyphaGroup/conduit/internal/transport"
)

// ClientFunc returns a transport client bound to the current server
// URL, ensuring the server is running first.
type ClientFunc func(ctx context.Context) (*transport.Client, error)

// Manager owns the cached session id.
type Manager struct {
	client ClientFunc

	mu        sync.Mutex
	sessionID string
	mode      config.PermissionMode
}

// NewManager creates a session manager that reaches the server through
// client.
func NewManager(client ClientFunc, mode config.PermissionMode) *Manager {
	if mode == "" {
		mode = config.PermissionAsk
	}
	return &Manager{client: client, mode: mode}
}

// EnsureSession returns the cached session id, creating a session
// first if none is cached. A failed creation leaves the cache empty so
// the next call retries.
func (m *Manager) EnsureSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionID != "" {
		return m.sessionID, nil
	}

	client, err := m.client(ctx)
	if err != nil {
		return "", err
	}

	id, err := createSession(ctx, client, m.mode)
	if err != nil {
		return "", err
	}

	m.sessionID = id
	metrics.SessionsCreated.Inc()
	logger.Info("session created: %s (permission mode %s)", id, m.mode)
	return id, nil
}

// SessionID returns the cached id without creating one.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// SetSessionID adopts an externally persisted session id. An empty id
// clears the cache, same as Reset.
func (m *Manager) SetSessionID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = id
}

// Reset clears the cached session id without touching the server.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = ""
}

// PermissionMode returns the mode applied at the next session creation.
func (m *Manager) PermissionMode() config.PermissionMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetPermissionMode changes the mode applied at the next session
// creation. It does not affect an already cached session.
func (m *Manager) SetPermissionMode(mode config.PermissionMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

// Revert rolls the session back to the state before the given message.
func (m *Manager) Revert(ctx context.Context, messageID string) error {
	m.mu.Lock()
	id := m.sessionID
	m.mu.Unlock()
	if id == "" {
		return fmt.Errorf("no active session to revert")
	}

	client, err := m.client(ctx)
	if err != nil {
		return err
	}

	resp, err := client.Do(ctx, http.MethodPost, "/session/"+id+"/revert", map[string]string{"messageID": messageID})
	if err != nil {
		return fmt.Errorf("revert failed: %w", err)
	}
	return resp.Err()
}

// Send performs a blocking single-answer exchange, bypassing the event
// stream: it posts the prompt and waits for the full response message,
// returning the concatenated text parts.
func (m *Manager) Send(ctx context.Context, text string) (string, error) {
	id, err := m.EnsureSession(ctx)
	if err != nil {
		return "", err
	}
	client, err := m.client(ctx)
	if err != nil {
		return "", err
	}

	body := map[string]any{
		"parts": []map[string]string{{"type": "text", "text": text}},
	}
	resp, err := client.Do(ctx, http.MethodPost, "/session/"+id+"/message", body)
	if err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}
	if err := resp.Err(); err != nil {
		return "", fmt.Errorf("send failed: %w", err)
	}

	var result struct {
		Parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"parts"`
	}
	if err := resp.DecodeJSON(&result); err != nil {
		// Not every server build wraps the answer; fall back to raw.
		return string(resp.Body), nil
	}

	var texts []string
	for _, part := range result.Parts {
		if part.Type == "text" && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// ReplyPermission answers a pending permission request.
func (m *Manager) ReplyPermission(ctx context.Context, permissionID string, allow bool) error {
	m.mu.Lock()
	id := m.sessionID
	m.mu.Unlock()
	if id == "" {
		return fmt.Errorf("no active session")
	}

	client, err := m.client(ctx)
	if err != nil {
		return err
	}

	response := "reject"
	if allow {
		response = "once"
	}
	resp, err := client.Do(ctx, http.MethodPost,
		"/session/"+id+"/permissions/"+permissionID,
		map[string]string{"response": response})
	if err != nil {
		return fmt.Errorf("permission reply failed: %w", err)
	}
	return resp.Err()
}

func createSession(ctx context.Context, client *transport.Client, mode config.PermissionMode) (string, error) {
	policy := "ask"
	if mode == config.PermissionAuto {
		policy = "allow"
	}
	body := map[string]any{
		"permission": map[string]string{"default": policy},
	}

	resp, err := client.Do(ctx, http.MethodPost, "/session", body)
	if err != nil {
		return "", fmt.Errorf("create session failed: %w", err)
	}
	if err := resp.Err(); err != nil {
		return "", fmt.Errorf("create session failed: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := resp.DecodeJSON(&result); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("create session returned no id")
	}
	return result.ID, nil
}
