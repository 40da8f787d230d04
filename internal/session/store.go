package session

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a conversation has no persisted session.
var ErrNotFound = errors.New("conversation not found")

// Store persists the conversation → session-id mapping plus per-turn
// bookkeeping, so a host can resume a prior session across restarts
// via Manager.SetSessionID.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite store under dataDir.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "conduit.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS turns (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		model TEXT,
		outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSessionID records the active session for a conversation.
func (s *Store) SaveSessionID(conversationID, sessionID string) error {
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, session_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at`,
		conversationID, sessionID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session id: %w", err)
	}
	return nil
}

// LookupSessionID returns the persisted session id for a conversation.
func (s *Store) LookupSessionID(conversationID string) (string, error) {
	var sessionID string
	err := s.db.QueryRow(
		`SELECT session_id FROM conversations WHERE id = ?`, conversationID,
	).Scan(&sessionID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query session id: %w", err)
	}
	return sessionID, nil
}

// Forget removes the persisted mapping for a conversation.
func (s *Store) Forget(conversationID string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, conversationID)
	return err
}

// RecordTurn stores one completed query turn for diagnostics.
func (s *Store) RecordTurn(conversationID, model, outcome string, duration time.Duration) error {
	_, err := s.db.Exec(
		`INSERT INTO turns (id, conversation_id, model, outcome, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, model, outcome, duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// TurnCount returns the number of recorded turns for a conversation.
func (s *Store) TurnCount(conversationID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM turns WHERE conversation_id = ?`, conversationID,
	).Scan(&n)
	return n, err
}
