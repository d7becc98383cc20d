package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulesCategories(t *testing.T) {
	r := NewRules(nil)

	tests := []struct {
		text string
		want domain.Category
	}{
		{"Android jobs in Mumbai", domain.CategoryJobSearch},
		{"I want to upload my resume", domain.CategoryResumeUpload},
		{"Can you review my resume?", domain.CategoryResumeAnalysis},
		{"Suggest some project ideas for React", domain.CategoryProjectSuggestion},
		{"What career path should I take after college", domain.CategoryCareerAdvice},
		{"What is my name on my profile?", domain.CategoryProfileInfo},
		{"hello there", domain.CategoryGeneralChat},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := r.Classify(context.Background(), tt.text, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Category)
			assert.Equal(t, SourceRules, got.Source)
		})
	}
}

func TestRulesExtractsJobFields(t *testing.T) {
	got, err := NewRules(nil).Classify(context.Background(), "Android jobs in Mumbai", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.CategoryJobSearch, got.Category)
	assert.Equal(t, "Android Developer", got.Fields.JobTitle)
	assert.Equal(t, "Mumbai", got.Fields.Location)
	assert.Equal(t, "Android Developer jobs in Mumbai", got.SearchQuery)
	assert.GreaterOrEqual(t, got.Confidence, 0.6)
}

func TestRulesDeterministic(t *testing.T) {
	r := NewRules(nil)
	first, _ := r.Classify(context.Background(), "remote python internships in Pune", nil)
	for i := 0; i < 20; i++ {
		again, _ := r.Classify(context.Background(), "remote python internships in Pune", nil)
		assert.Equal(t, first, again)
	}
}

func TestRulesFollowUpInheritsCategory(t *testing.T) {
	history := []*domain.Message{
		{Role: domain.RoleUser, Text: "Android jobs in Mumbai"},
		{Role: domain.RoleAssistant, Text: "Found 3 jobs", Category: domain.CategoryJobSearch},
	}
	got, err := NewRules(nil).Classify(context.Background(), "what about kotlin?", history)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryJobSearch, got.Category)

	got, err = NewRules(nil).Classify(context.Background(), "thanks!", history)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryGeneralChat, got.Category)
}

func TestParseVerdict(t *testing.T) {
	raw := "```json\n{\"category\": \"job search\", \"confidence\": 0.93, \"extractedData\": {\"job_title\": \"android developer\", \"skills\": \"Kotlin, Java\", \"experience_min\": 2, \"internship\": false}, \"searchQuery\": \"android developer jobs\"}\n```"
	got, err := ParseVerdict(raw)
	require.NoError(t, err)

	assert.Equal(t, domain.CategoryJobSearch, got.Category)
	assert.InDelta(t, 0.93, got.Confidence, 1e-9)
	assert.Equal(t, "android developer", got.Fields.JobTitle)
	assert.Equal(t, []string{"Kotlin", "Java"}, got.Fields.Skills)
	require.NotNil(t, got.Fields.ExperienceMin)
	assert.Equal(t, 2, *got.Fields.ExperienceMin)
	require.NotNil(t, got.Fields.Internship)
	assert.False(t, *got.Fields.Internship)
	assert.Equal(t, SourceLLM, got.Source)
}

func TestParseVerdictBraceIsolationAndDefaults(t *testing.T) {
	got, err := ParseVerdict(`Sure! Here you go: {"category":"CAREER_ADVICE"} hope that helps`)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryCareerAdvice, got.Category)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
}

func TestParseVerdictErrors(t *testing.T) {
	_, err := ParseVerdict(`{"confidence": 0.9}`)
	assert.ErrorIs(t, err, ErrMissingCategory)

	_, err = ParseVerdict(`{"category": "WEATHER"}`)
	assert.ErrorIs(t, err, ErrUnknownCategory)

	_, err = ParseVerdict(`no json here`)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func completer(reply string, err error) llm.Completer {
	return llm.CompleterFunc(func(context.Context, []llm.Message) (string, error) {
		return reply, err
	})
}

func TestChainUsesLLMVerdict(t *testing.T) {
	c := NewChain(NewLLM(completer(`{"category":"CAREER_ADVICE","confidence":0.9}`, nil)), nil, time.Second, 0.6)
	got, err := c.Classify(context.Background(), "Android jobs in Mumbai", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryCareerAdvice, got.Category)
	assert.Equal(t, SourceLLM, got.Source)
	assert.Equal(t, "Android Developer", got.Fields.JobTitle, "rule fields fill model gaps")
}

func TestChainFallsBack(t *testing.T) {
	blocking := llm.CompleterFunc(func(ctx context.Context, _ []llm.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	tests := []struct {
		name      string
		primary   Classifier
		timeout   time.Duration
		threshold float64
	}{
		{"error", NewLLM(completer("", errors.New("upstream 500"))), time.Second, 0.6},
		{"timeout", NewLLM(blocking), 20 * time.Millisecond, 0.6},
		{"unknown category", NewLLM(completer(`{"category":"SPORTS"}`, nil)), time.Second, 0.6},
		{"low confidence", NewLLM(completer(`{"category":"CAREER_ADVICE","confidence":0.3}`, nil)), time.Second, 0.6},
		{"no primary", nil, time.Second, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChain(tt.primary, nil, tt.timeout, tt.threshold)
			got, err := c.Classify(context.Background(), "Android jobs in Mumbai", nil)
			require.NoError(t, err)
			assert.Equal(t, domain.CategoryJobSearch, got.Category)
			assert.Equal(t, SourceRules, got.Source)
		})
	}
}
