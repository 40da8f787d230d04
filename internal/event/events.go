// Package event decodes agent server bus events.
//
// The server emits one JSON object per SSE data block, shaped as
// {"type": "...", "properties": {...}}. Decoding happens once, here, at
// the bus boundary; consumers match on the typed payloads instead of
// re-parsing properties per event.
package event

// Event types emitted on the server's /event stream
const (
	// Session events
	TypeSessionCreated = "session.created"
	TypeSessionUpdated = "session.updated"
	TypeSessionDeleted = "session.deleted"
	TypeSessionStatus  = "session.status"
	TypeSessionIdle    = "session.idle"
	TypeSessionError   = "session.error"

	// Message events
	TypeMessageUpdated     = "message.updated"
	TypeMessageRemoved     = "message.removed"
	TypeMessagePartUpdated = "message.part.updated"
	TypeMessagePartRemoved = "message.part.removed"

	// Permission events
	TypePermissionAsked   = "permission.asked"
	TypePermissionReplied = "permission.replied"

	// Server events
	TypeServerConnected = "server.connected"
	TypeServerHeartbeat = "server.heartbeat"
)

// Part types in server messages
const (
	PartTypeText      = "text"
	PartTypeReasoning = "reasoning"
	PartTypeTool      = "tool"
	PartTypeFile      = "file"
	PartTypeStepStart = "step-start"
	PartTypeStepEnd   = "step-finish"
)

// Tool part states
const (
	ToolStatusPending   = "pending"
	ToolStatusRunning   = "running"
	ToolStatusCompleted = "completed"
	ToolStatusError     = "error"
)

// Session status values
const (
	StatusActive  = "active"
	StatusPending = "pending"
	StatusIdle    = "idle"
)
