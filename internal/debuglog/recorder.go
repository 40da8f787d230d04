// Package debuglog persists one structured record per query turn.
//
// Records are line-delimited JSON, one file per conversation, appended
// after every query regardless of outcome. The recorder never fails a
// query: write errors are logged and swallowed.
package debuglog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/conduit/internal/event"
	"github.com/HyphaGroup/conduit/internal/logger"
)

// Meta carries per-turn diagnostics.
type Meta struct {
	DurationMs   int64  `json:"duration_ms"`
	Model        string `json:"model,omitempty"`
	MentionCount int    `json:"mention_count"`
	Outcome      string `json:"outcome"` // idle, error, cancelled
	Warning      string `json:"warning,omitempty"`
}

// Turn is one debug record.
type Turn struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversation_id"`
	UserPrompt     string         `json:"user_prompt"`
	Events         []*event.Event `json:"events"`
	Meta           Meta           `json:"meta"`
}

// Recorder appends turns to per-conversation JSONL files under dir.
type Recorder struct {
	dir     string
	mu      sync.Mutex
	enabled bool
}

// NewRecorder creates a recorder rooted at dir.
func NewRecorder(dir string, enabled bool) *Recorder {
	return &Recorder{dir: dir, enabled: enabled}
}

// SetEnabled toggles recording at runtime.
func (r *Recorder) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// Enabled reports whether turns are being recorded.
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Append writes one turn. Missing ids and timestamps are filled in.
func (r *Recorder) Append(turn *Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.enabled {
		return
	}

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	if turn.ConversationID == "" {
		turn.ConversationID = "default"
	}

	if err := r.append(turn); err != nil {
		logger.Error("failed to write debug turn: %v", err)
	}
}

func (r *Recorder) append(turn *Turn) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}

	line, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}

	path := filepath.Join(r.dir, sanitize(turn.ConversationID)+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = f.Write(append(line, '\n'))
	return err
}

// Read loads all turns recorded for a conversation, oldest first.
// Truncated or corrupt lines are skipped.
func (r *Recorder) Read(conversationID string) ([]*Turn, error) {
	path := filepath.Join(r.dir, sanitize(conversationID)+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var turns []*Turn
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var turn Turn
		if err := json.Unmarshal([]byte(line), &turn); err != nil {
			continue
		}
		turns = append(turns, &turn)
	}
	return turns, nil
}

// sanitize keeps conversation ids filesystem-safe.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
