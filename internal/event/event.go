package event

import (
	"encoding/json"
	"fmt"
)

// Event is one decoded bus event. Type is always set; at most one of
// the typed payload fields is non-nil, matching the event type.
// Properties keeps the raw payload for debug-turn records.
type Event struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`

	Message    *MessageInfo       `json:"-"`
	Part       *PartUpdate        `json:"-"`
	Permission *PermissionRequest `json:"-"`
	Error      *SessionError      `json:"-"`
	Status     *SessionStatus     `json:"-"`
}

// MessageInfo is the payload of message.updated / message.removed.
type MessageInfo struct {
	ID           string `json:"id"`
	SessionID    string `json:"sessionID"`
	Role         string `json:"role"`
	FinishReason string `json:"finishReason"`
	Time         struct {
		Completed float64 `json:"completed"`
	} `json:"time"`
}

// PartUpdate is the payload of message.part.updated. Delta carries the
// incremental text for streaming text/reasoning parts; an absent delta
// means the part is a full re-emit.
type PartUpdate struct {
	Part  Part   `json:"part"`
	Delta string `json:"delta"`
}

// Part is one message part.
type Part struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionID"`
	MessageID string     `json:"messageID"`
	Type      string     `json:"type"`
	Text      string     `json:"text"`
	Tool      string     `json:"tool"`
	CallID    string     `json:"callID"`
	State     *ToolState `json:"state"`
}

// ToolState is the state block of a tool part. Output is left raw
// because the server emits either a plain string or an object carrying
// text plus attachments.
type ToolState struct {
	Status string          `json:"status"`
	Input  map[string]any  `json:"input"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
	Title  string          `json:"title"`
}

// OutputText extracts the textual form of a tool output, handling both
// the plain-string and the {text, attachments} object shapes.
func (s *ToolState) OutputText() (text string, attachments []json.RawMessage) {
	if len(s.Output) == 0 {
		return "", nil
	}
	var plain string
	if err := json.Unmarshal(s.Output, &plain); err == nil {
		return plain, nil
	}
	var obj struct {
		Text        string            `json:"text"`
		Output      string            `json:"output"`
		Attachments []json.RawMessage `json:"attachments"`
	}
	if err := json.Unmarshal(s.Output, &obj); err == nil {
		if obj.Text != "" {
			return obj.Text, obj.Attachments
		}
		return obj.Output, obj.Attachments
	}
	return string(s.Output), nil
}

// PermissionRequest is the payload of permission.asked, kept whole so
// it can be forwarded to the caller verbatim.
type PermissionRequest struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	Raw       map[string]any `json:"-"`
}

// SessionError is the payload of session.error.
type SessionError struct {
	SessionID string `json:"sessionID"`
	Err       struct {
		Name string `json:"name"`
		Data struct {
			Message string `json:"message"`
		} `json:"data"`
	} `json:"error"`
}

// Message returns a human-readable message for the error, falling back
// to the error name and then a generic label.
func (e *SessionError) Message() string {
	if e.Err.Data.Message != "" {
		return e.Err.Data.Message
	}
	if e.Err.Name != "" {
		return e.Err.Name
	}
	return "session error"
}

// SessionStatus is the payload of session.status and session.idle.
type SessionStatus struct {
	SessionID string `json:"sessionID"`
	Status    struct {
		Type string `json:"type"`
	} `json:"status"`
}

// Decode parses one SSE data payload into an Event. Unknown event
// types decode to a bare Event with only Type and Properties set.
func Decode(data []byte) (*Event, error) {
	var raw struct {
		Type       string          `json:"type"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("malformed event: missing type")
	}

	ev := &Event{Type: raw.Type, Properties: raw.Properties}

	switch raw.Type {
	case TypeMessageUpdated, TypeMessageRemoved:
		var props struct {
			Info MessageInfo `json:"info"`
		}
		if err := json.Unmarshal(raw.Properties, &props); err == nil {
			ev.Message = &props.Info
		}

	case TypeMessagePartUpdated:
		var props PartUpdate
		if err := json.Unmarshal(raw.Properties, &props); err == nil {
			ev.Part = &props
		}

	case TypePermissionAsked:
		var props PermissionRequest
		if err := json.Unmarshal(raw.Properties, &props); err == nil {
			_ = json.Unmarshal(raw.Properties, &props.Raw)
			ev.Permission = &props
		}

	case TypeSessionError:
		var props SessionError
		if err := json.Unmarshal(raw.Properties, &props); err == nil {
			ev.Error = &props
		}

	case TypeSessionIdle, TypeSessionStatus:
		var props SessionStatus
		if err := json.Unmarshal(raw.Properties, &props); err == nil {
			ev.Status = &props
		}
	}

	return ev, nil
}

// MatchesSession reports whether the event belongs to sessionID.
//
// The correlation key differs per event type: message events carry the
// session under info.sessionID (or, for session-level updates, info.id
// is itself the session id); part events embed it in the part; the
// permission and session event families put it directly on properties.
// Events with no recognizable session key do not match.
func (e *Event) MatchesSession(sessionID string) bool {
	if sessionID == "" {
		return false
	}
	switch {
	case e.Message != nil:
		return e.Message.SessionID == sessionID || e.Message.ID == sessionID
	case e.Part != nil:
		return e.Part.Part.SessionID == sessionID
	case e.Permission != nil:
		return e.Permission.SessionID == sessionID
	case e.Error != nil:
		// Session errors sometimes omit the session id; a broadcast
		// error applies to the active session.
		return e.Error.SessionID == "" || e.Error.SessionID == sessionID
	case e.Status != nil:
		return e.Status.SessionID == sessionID
	}
	return false
}

// IsIdle reports whether the event signals that the session finished
// its turn: an explicit idle event or an idle session status.
func (e *Event) IsIdle() bool {
	if e.Type == TypeSessionIdle {
		return true
	}
	return e.Type == TypeSessionStatus && e.Status != nil && e.Status.Status.Type == StatusIdle
}

// terminal finish reasons for an assistant message
var terminalFinishReasons = map[string]bool{
	"stop":     true,
	"end_turn": true,
	"length":   true,
	"aborted":  true,
}

// AssistantDone reports whether the event is an assistant message
// update whose finish reason ends the turn. Tool-call finishes keep
// the turn open.
func (e *Event) AssistantDone() bool {
	if e.Type != TypeMessageUpdated || e.Message == nil {
		return false
	}
	return e.Message.Role == "assistant" && terminalFinishReasons[e.Message.FinishReason]
}
