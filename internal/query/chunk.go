package query

import (
	"encoding/json"

	"github.com/HyphaGroup/conduit/internal/event"
)

// ChunkKind identifies a stream chunk variant.
type ChunkKind string

const (
	ChunkText              ChunkKind = "text"
	ChunkThinking          ChunkKind = "thinking"
	ChunkToolUse           ChunkKind = "tool_use"
	ChunkToolResult        ChunkKind = "tool_result"
	ChunkPermissionRequest ChunkKind = "permission_request"
	ChunkServerMessage     ChunkKind = "server_message"
	ChunkError             ChunkKind = "error"
	ChunkDone              ChunkKind = "done"
)

// Chunk is one element of a query's response sequence. Kind is always
// set; the populated fields depend on it. Every query ends with
// exactly one ChunkDone, after which the channel is closed.
type Chunk struct {
	Kind ChunkKind `json:"kind"`

	// Text, thinking and error content
	Content string `json:"content,omitempty"`

	// Tool use / result fields
	ToolName    string            `json:"toolName,omitempty"`
	ToolInput   map[string]any    `json:"toolInput,omitempty"`
	ToolUseID   string            `json:"toolUseId,omitempty"`
	Result      string            `json:"result,omitempty"`
	Attachments []json.RawMessage `json:"attachments,omitempty"`

	// Permission request, forwarded verbatim
	Permission *event.PermissionRequest `json:"permission,omitempty"`

	// Server message fields
	Role      string `json:"role,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}
