// Package classifier assigns a category and search fields to each user turn.
package classifier

import (
	"context"

	"github.com/ashureev/jobmato-assistant/internal/domain"
)

// Sources recorded on a Classification.
const (
	SourceLLM   = "llm"
	SourceRules = "rules"
)

// Classifier labels a user message given the recent conversation.
type Classifier interface {
	Classify(ctx context.Context, text string, history []*domain.Message) (domain.Classification, error)
}
