package domain

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystem marks bookkeeping entries such as upload notices.
	RoleSystem Role = "system"
)

// Message is one immutable entry of a conversation.
type Message struct {
	ID              int64            `json:"id,omitempty" bson:"seq,omitempty"`
	Role            Role             `json:"role" bson:"role"`
	Text            string           `json:"text" bson:"text"`
	Timestamp       time.Time        `json:"timestamp" bson:"timestamp"`
	Category        Category         `json:"category,omitempty" bson:"category,omitempty"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty" bson:"toolInvocations,omitempty"`
}

// ToolName names one of the external capabilities.
type ToolName string

const (
	ToolProfile      ToolName = "profile"
	ToolResume       ToolName = "resume"
	ToolJobSearch    ToolName = "jobSearch"
	ToolResumeUpload ToolName = "resumeUpload"
)

// ToolStatus is the normalized outcome of a tool call.
type ToolStatus string

const (
	ToolStatusOK      ToolStatus = "ok"
	ToolStatusTimeout ToolStatus = "timeout"
	ToolStatusError   ToolStatus = "error"
	ToolStatusSkipped ToolStatus = "skipped"
)

// ToolInvocation records one call to an external capability.
type ToolInvocation struct {
	ToolName  ToolName       `json:"toolName" bson:"toolName"`
	Params    map[string]any `json:"params,omitempty" bson:"params,omitempty"`
	Status    ToolStatus     `json:"status" bson:"status"`
	Result    any            `json:"result,omitempty" bson:"result,omitempty"`
	Error     string         `json:"error,omitempty" bson:"error,omitempty"`
	LatencyMS int64          `json:"latencyMs" bson:"latencyMs"`
}

// OK reports whether the invocation produced a usable result.
func (t ToolInvocation) OK() bool {
	return t.Status == ToolStatusOK
}

// ConversationStats summarizes the durable log of one session.
type ConversationStats struct {
	SessionID    string    `json:"sessionId"`
	MessageCount int       `json:"messageCount"`
	FirstMessage time.Time `json:"firstMessage,omitzero"`
	LastMessage  time.Time `json:"lastMessage,omitzero"`
}
