package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/jobmato-assistant/internal/conversation"
	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/llm"
)

var (
	// ErrMissingCategory is returned when the model reply names no category.
	ErrMissingCategory = errors.New("classification reply has no category")
	// ErrUnknownCategory is returned when the model names a category we do not route.
	ErrUnknownCategory = errors.New("classification reply has an unknown category")
	// ErrNoJSON is returned when no JSON object can be found in the reply.
	ErrNoJSON = errors.New("classification reply contains no JSON object")
)

const defaultLLMConfidence = 0.8

const systemPrompt = `You classify messages sent to the JobMato career assistant. Reply with a single JSON object and nothing else.

Only career, job, resume and professional development topics are in scope. Greetings, harmful content and unrelated topics are GENERAL_CHAT; set content_filtered or out_of_scope in extractedData when that applies.

Categories:
JOB_SEARCH - looking for jobs, internships or openings
RESUME_ANALYSIS - wants resume review or feedback
CAREER_ADVICE - career guidance, paths, skill development
PROJECT_SUGGESTION - project ideas for building skills
RESUME_UPLOAD - wants to upload or replace their resume
PROFILE_INFO - asks about their own profile or stored details
GENERAL_CHAT - anything else

Format:
{"category": "JOB_SEARCH", "confidence": 0.95, "extractedData": {"job_title": "", "company": "", "location": "", "skills": "", "experience_min": 0, "experience_max": 0, "job_type": "", "work_mode": "", "industry": "", "domain": ""}, "searchQuery": "Android Developer jobs in Bangalore"}

Extract only what the user stated. Omit fields that were not mentioned.`

// LLM classifies with a text-generation backend.
type LLM struct {
	completer llm.Completer
}

// NewLLM creates a model-backed classifier.
func NewLLM(c llm.Completer) *LLM {
	return &LLM{completer: c}
}

// Classify asks the model for a verdict and parses it.
func (l *LLM) Classify(ctx context.Context, text string, history []*domain.Message) (domain.Classification, error) {
	user := "User Query: " + text
	if recent := conversation.FormatContext(history, conversation.ContextMessages); recent != "" {
		user += "\n\nRecent conversation:\n" + recent
	}

	reply, err := l.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: user},
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("classify: %w", err)
	}
	return ParseVerdict(reply)
}

type verdict struct {
	Category      string         `json:"category"`
	Confidence    *float64       `json:"confidence"`
	ExtractedData map[string]any `json:"extractedData"`
	SearchQuery   string         `json:"searchQuery"`
}

// ParseVerdict decodes a model reply. Markdown code fences are stripped and,
// failing a direct decode, the outermost braces are isolated.
func ParseVerdict(raw string) (domain.Classification, error) {
	body := stripFence(raw)

	var v verdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
		if start < 0 || end <= start {
			return domain.Classification{}, ErrNoJSON
		}
		if err := json.Unmarshal([]byte(body[start:end+1]), &v); err != nil {
			return domain.Classification{}, fmt.Errorf("decode classification: %w", err)
		}
	}

	if strings.TrimSpace(v.Category) == "" {
		return domain.Classification{}, ErrMissingCategory
	}
	cat, ok := domain.ParseCategory(v.Category)
	if !ok {
		return domain.Classification{}, fmt.Errorf("%w: %q", ErrUnknownCategory, v.Category)
	}

	confidence := defaultLLMConfidence
	if v.Confidence != nil {
		confidence = min(max(*v.Confidence, 0), 1)
	}

	return domain.Classification{
		Category:    cat,
		Fields:      fieldsFrom(v.ExtractedData),
		Confidence:  confidence,
		SearchQuery: strings.TrimSpace(v.SearchQuery),
		Source:      SourceLLM,
	}, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func fieldsFrom(data map[string]any) domain.ExtractedFields {
	return domain.ExtractedFields{
		JobTitle:        str(data, "job_title", "jobTitle"),
		Company:         str(data, "company"),
		Location:        str(data, "location", "locations"),
		Skills:          list(data, "skills"),
		ExperienceMin:   num(data, "experience_min", "experienceMin"),
		ExperienceMax:   num(data, "experience_max", "experienceMax"),
		JobType:         str(data, "job_type", "jobType"),
		WorkMode:        str(data, "work_mode", "workMode"),
		Industry:        str(data, "industry"),
		Domain:          str(data, "domain"),
		Internship:      boolean(data, "internship"),
		ContentFiltered: flag(data, "content_filtered", "contentFiltered"),
		OutOfScope:      flag(data, "out_of_scope", "outOfScope"),
	}
}

func str(data map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := data[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case []any:
			var parts []string
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, strings.TrimSpace(s))
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		}
	}
	return ""
}

func list(data map[string]any, key string) []string {
	var out []string
	switch v := data[key].(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}

func num(data map[string]any, keys ...string) *int {
	for _, k := range keys {
		switch v := data[k].(type) {
		case float64:
			n := int(v)
			return &n
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return &n
			}
		}
	}
	return nil
}

func boolean(data map[string]any, key string) *bool {
	if b, ok := data[key].(bool); ok {
		return &b
	}
	return nil
}

func flag(data map[string]any, keys ...string) bool {
	for _, k := range keys {
		if b, ok := data[k].(bool); ok && b {
			return true
		}
	}
	return false
}
