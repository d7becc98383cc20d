// Package realtime serves the assistant over a persistent websocket
// connection.
package realtime

import (
	"encoding/json"

	"github.com/ashureev/jobmato-assistant/internal/domain"
)

// Event types.
const (
	EventInitChat       = "init_chat"
	EventSessionJoined  = "session_joined"
	EventSendMessage    = "send_message"
	EventChatResponse   = "chat_response"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventGetHistory     = "get_session_history"
	EventSessionHistory = "session_history"
	EventClearSession   = "clear_session"
	EventSessionCleared = "session_cleared"
	EventResumeUploaded = "resume_uploaded"
	EventPing           = "ping"
	EventPong           = "pong"
	EventAuthStatus     = "auth_status"
	EventError          = "error"
)

// Error codes carried by EventError.
const (
	CodeAuthFailed      = "AUTH_FAILED"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeMessageError    = "MESSAGE_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeProtocolError   = "PROTOCOL_ERROR"
	CodeAgentError      = "AGENT_ERROR"
	CodeStorageError    = "STORAGE_ERROR"
)

// Envelope is the wire frame for every event.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is an event on its way to a client.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// InitChat requests a new or resumed session.
type InitChat struct {
	SessionID string `json:"sessionId,omitempty"`
}

// SessionJoined confirms the session bound to the connection.
type SessionJoined struct {
	SessionID string `json:"sessionId"`
	Resumed   bool   `json:"resumed"`
}

// SendMessage carries a user message.
type SendMessage struct {
	Message string `json:"message"`
}

// HistoryRequest asks for the most recent messages; a zero limit uses the default.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// SessionHistory returns stored messages, oldest first.
type SessionHistory struct {
	SessionID string            `json:"sessionId"`
	Messages  []*domain.Message `json:"messages"`
}

// SessionCleared confirms a cleared session.
type SessionCleared struct {
	SessionID string `json:"sessionId"`
}

// Typing is broadcast with typing_start and typing_stop.
type Typing struct {
	SessionID string `json:"sessionId,omitempty"`
	Assistant bool   `json:"assistant,omitempty"`
}

// ResumeUploaded notifies viewers of an upload made over HTTP.
type ResumeUploaded struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Filename  string `json:"filename"`
}

// AuthStatus reports the outcome of connection authentication.
type AuthStatus struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// State is the lifecycle position of a connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateSessionBound
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSessionBound:
		return "session_bound"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
