// Package agent turns a classified user message into tool calls and a reply.
package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
)

var (
	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrMessageTooLong is returned when a message exceeds the configured length.
	ErrMessageTooLong = errors.New("message too long")
	// ErrUploadFailed is returned when the résumé upload tool did not succeed.
	ErrUploadFailed = errors.New("resume upload failed")
)

// GenerationError reports that the text backend could not compose an answer.
type GenerationError struct {
	Category domain.Category
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("compose %s answer: %v", e.Category, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Upload is a file attached to a turn.
type Upload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Request is what the dispatcher needs to plan and run tool calls.
type Request struct {
	Text           string
	Classification domain.Classification
	Claims         domain.AuthClaims
	Upload         *Upload
}

// Turn is one inbound user message.
type Turn struct {
	SessionID string
	UserID    string
	Text      string
	Claims    domain.AuthClaims
}

// Reply is the assistant's answer to a turn.
type Reply struct {
	Text            string                  `json:"text"`
	Category        domain.Category         `json:"category"`
	ToolInvocations []domain.ToolInvocation `json:"toolInvocations"`
}

// Config holds agent configuration.
type Config struct {
	ToolBudget       int
	DispatchDeadline time.Duration
	ComposeTimeout   time.Duration
	TurnTimeout      time.Duration
	MaxMessageLength int
}

// DefaultConfig returns default agent configuration.
func DefaultConfig() Config {
	return Config{
		ToolBudget:       4,
		DispatchDeadline: 12 * time.Second,
		ComposeTimeout:   15 * time.Second,
		TurnTimeout:      30 * time.Second,
		MaxMessageLength: 1000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ToolBudget <= 0 {
		c.ToolBudget = d.ToolBudget
	}
	if c.DispatchDeadline <= 0 {
		c.DispatchDeadline = d.DispatchDeadline
	}
	if c.ComposeTimeout <= 0 {
		c.ComposeTimeout = d.ComposeTimeout
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = d.TurnTimeout
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = d.MaxMessageLength
	}
	return c
}
