package agent

import (
	"strings"

	"github.com/ashureev/jobmato-assistant/internal/catalog"
	"github.com/ashureev/jobmato-assistant/internal/domain"
)

// Condition decides whether a step applies to a request.
type Condition func(Request) bool

// Step is one planned tool call. After names tools whose results the step
// needs; a nil When means always.
type Step struct {
	Tool  domain.ToolName
	After []domain.ToolName
	When  Condition
}

// Policy maps each category to its ordered steps.
type Policy map[domain.Category][]Step

// DefaultPolicy returns the standard tool selection.
func DefaultPolicy() Policy {
	afterResume := []domain.ToolName{domain.ToolResume}
	return Policy{
		domain.CategoryJobSearch: {
			{Tool: domain.ToolJobSearch},
		},
		domain.CategoryCareerAdvice: {
			{Tool: domain.ToolProfile},
			{Tool: domain.ToolResume},
			{Tool: domain.ToolJobSearch, After: afterResume},
		},
		domain.CategoryResumeAnalysis: {
			{Tool: domain.ToolResume},
			{Tool: domain.ToolProfile},
		},
		domain.CategoryProjectSuggestion: {
			{Tool: domain.ToolProfile},
			{Tool: domain.ToolResume},
			{Tool: domain.ToolJobSearch, After: afterResume},
		},
		domain.CategoryProfileInfo: {
			{Tool: domain.ToolProfile},
			{Tool: domain.ToolResume},
		},
		domain.CategoryGeneralChat: {
			{Tool: domain.ToolProfile, When: Not(IsGreeting)},
			{Tool: domain.ToolResume, When: Not(IsGreeting)},
			{Tool: domain.ToolJobSearch, After: afterResume, When: MarketInterest},
		},
		domain.CategoryResumeUpload: {
			{Tool: domain.ToolResumeUpload, When: HasUpload},
		},
	}
}

var (
	greetingPhrases = []string{"hi", "hello", "hey", "hii", "namaste", "good morning", "good afternoon", "good evening"}
	marketPhrases   = []string{
		"job", "jobs", "market", "opportunities", "hiring", "openings", "available",
		"positions", "roles", "career", "work", "employment",
	}
)

// mentions reports whether text contains any phrase as whole words.
func mentions(text string, phrases ...string) bool {
	padded := " " + strings.Join(catalog.Tokenize(text), " ") + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// IsGreeting matches small talk that needs no personal data.
func IsGreeting(r Request) bool {
	return mentions(r.Text, greetingPhrases...)
}

// MarketInterest matches messages about jobs or the hiring market.
func MarketInterest(r Request) bool {
	return mentions(r.Text, marketPhrases...)
}

// HasUpload matches requests carrying a file.
func HasUpload(r Request) bool {
	return r.Upload != nil && len(r.Upload.Content) > 0
}

// Not negates a condition.
func Not(c Condition) Condition {
	return func(r Request) bool { return !c(r) }
}
