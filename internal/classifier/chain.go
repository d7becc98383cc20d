package classifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
)

// Chain tries a primary classifier under a strict timeout and falls back to
// Rules on error, timeout, or low confidence. It never fails.
type Chain struct {
	primary       Classifier
	rules         *Rules
	timeout       time.Duration
	minConfidence float64
}

// NewChain creates a chain. A nil primary means rules only.
func NewChain(primary Classifier, rules *Rules, timeout time.Duration, minConfidence float64) *Chain {
	if rules == nil {
		rules = NewRules(nil)
	}
	return &Chain{primary: primary, rules: rules, timeout: timeout, minConfidence: minConfidence}
}

// Classify returns the primary verdict when it is usable, otherwise the rule verdict.
func (c *Chain) Classify(ctx context.Context, text string, history []*domain.Message) (domain.Classification, error) {
	fallback := c.rules.classify(text, history)
	if c.primary == nil {
		return fallback, nil
	}

	pctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	verdict, err := c.primary.Classify(pctx, text, history)
	if err != nil {
		slog.Warn("Classifier fell back to rules", "error", err)
		return fallback, nil
	}
	if verdict.Confidence < c.minConfidence {
		slog.Debug("Classifier confidence below threshold, using rules",
			"category", verdict.Category, "confidence", verdict.Confidence)
		return fallback, nil
	}

	// Fill gaps the model left with what the rules found.
	if verdict.Fields.JobTitle == "" {
		verdict.Fields.JobTitle = fallback.Fields.JobTitle
	}
	if verdict.Fields.Location == "" {
		verdict.Fields.Location = fallback.Fields.Location
	}
	if len(verdict.Fields.Skills) == 0 {
		verdict.Fields.Skills = fallback.Fields.Skills
	}
	if verdict.Category == domain.CategoryJobSearch && verdict.SearchQuery == "" {
		verdict.SearchQuery = searchQuery(text, verdict.Fields)
	}
	return verdict, nil
}
