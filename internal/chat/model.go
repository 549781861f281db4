package chat

import (
	"encoding/json"
	"time"
)

// ---------------------------------------------
// Frame types
// ---------------------------------------------

const (
	FrameChat         = "chat"
	FrameDelete       = "delete"
	FrameError        = "error"
	FrameWelcome      = "welcome"
	FrameUserJoin     = "user_join"
	FrameUserLeave    = "user_leave"
	FrameUserList     = "user_list_update"
	FrameDebugLog     = "debug_log"
	FrameHeartbeat    = "heartbeat"
	FrameAuthFailed   = "auth_failed"
	FrameOffer        = "offer"
	FrameAnswer       = "answer"
	FrameCandidate    = "candidate"
	FrameCallEnd      = "call_end"
	FrameGeminiChat   = "gemini_chat"
	FrameDeepSeekChat = "deepseek_chat"
	FrameKimiChat     = "kimi_chat"
)

// Message types stored in the log.
const (
	MessageChat   = "chat"
	MessageSystem = "system"
	MessageError  = "error"
)

// Frame is one JSON object on the wire, in either direction.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func encodeFrame(typ string, payload any) []byte {
	data, err := json.Marshal(outFrame{Type: typ, Payload: payload})
	if err != nil {
		// Only metadata from a callback can hold unencodable values.
		data, _ = json.Marshal(outFrame{Type: FrameError, Payload: errorPayload{Message: err.Error()}})
	}
	return data
}

// ---------------------------------------------
// Log records
// ---------------------------------------------

// Message is one entry of a room's log. Timestamp is Unix milliseconds.
type Message struct {
	ID        string         `json:"id"`
	Username  string         `json:"username"`
	Timestamp int64          `json:"timestamp"`
	Text      string         `json:"text"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ---------------------------------------------
// Payloads
// ---------------------------------------------

type chatPayload struct {
	Text string `json:"text"`
}

type deletePayload struct {
	ID string `json:"id"`
}

type welcomePayload struct {
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId"`
	History   []Message `json:"history"`
	HasMore   bool      `json:"hasMore"`
	UserCount int       `json:"userCount"`
}

type presencePayload struct {
	Username  string `json:"username"`
	UserCount int    `json:"userCount"`
}

type UserEntry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type userListPayload struct {
	Users     []UserEntry `json:"users"`
	UserCount int         `json:"userCount"`
}

type heartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// DebugEntry is one line of the room's in-memory debug log.
type DebugEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
}

// SystemPayload is an operator notice broadcast as a debug_log frame.
type SystemPayload struct {
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ---------------------------------------------
// Sessions
// ---------------------------------------------

type SessionState string

const (
	StateActive SessionState = "active"
	StateIdle   SessionState = "idle"
)

// Session is one live connection registered in a room.
type Session struct {
	ID       string
	Username string
	JoinedAt time.Time
	LastSeen time.Time
	sender   Sender
}

// State is ACTIVE while the last frame arrived within window.
func (s *Session) State(now time.Time, window time.Duration) SessionState {
	if now.Sub(s.LastSeen) <= window {
		return StateActive
	}
	return StateIdle
}

// SessionInfo is the exported view of a Session.
type SessionInfo struct {
	ID       string       `json:"id"`
	Username string       `json:"username"`
	JoinedAt time.Time    `json:"joinedAt"`
	LastSeen time.Time    `json:"lastSeen"`
	State    SessionState `json:"state"`
}

// RoomStatus is returned by the status endpoint.
type RoomStatus struct {
	RoomName     string        `json:"roomName"`
	MessageCount int           `json:"messageCount"`
	UserCount    int           `json:"userCount"`
	HasWhitelist bool          `json:"hasWhitelist"`
	UserList     []string      `json:"userList"`
	Sessions     []SessionInfo `json:"sessions"`
}
