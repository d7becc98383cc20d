// Package llm provides text-generation backends used for classification and
// answer composition.
package llm

import (
	"context"
	"errors"
)

// Roles used in prompts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion is returned when the backend produced no text.
var ErrEmptyCompletion = errors.New("llm returned an empty completion")

// Message is one prompt entry.
type Message struct {
	Role    string
	Content string
}

// Completer generates a reply for a prompt.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, messages []Message) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}
