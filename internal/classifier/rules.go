package classifier

import (
	"context"
	"strings"

	"github.com/ashureev/jobmato-assistant/internal/catalog"
	"github.com/ashureev/jobmato-assistant/internal/domain"
)

// priority breaks score ties; earlier wins.
var priority = []domain.Category{
	domain.CategoryResumeUpload,
	domain.CategoryJobSearch,
	domain.CategoryResumeAnalysis,
	domain.CategoryProjectSuggestion,
	domain.CategoryCareerAdvice,
	domain.CategoryProfileInfo,
}

type keywords struct {
	words   []string
	phrases []string
}

var categoryKeywords = map[domain.Category]keywords{
	domain.CategoryResumeUpload: {
		words:   []string{"upload", "uploading", "attach", "reupload"},
		phrases: []string{"upload resume", "upload my resume", "update my resume", "upload cv", "upload my cv", "new resume"},
	},
	domain.CategoryJobSearch: {
		words: []string{"job", "jobs", "opening", "openings", "vacancy", "vacancies", "hiring", "internship",
			"internships", "intern", "position", "positions", "opportunity", "opportunities", "role", "roles"},
		phrases: []string{"looking for", "find me", "search for", "apply for", "show me"},
	},
	domain.CategoryResumeAnalysis: {
		words:   []string{"resume", "cv", "feedback", "review", "analyze", "analyse", "analysis", "ats", "improve"},
		phrases: []string{"review my resume", "analyze my resume", "analyse my resume", "resume feedback", "my resume", "my cv"},
	},
	domain.CategoryProjectSuggestion: {
		words:   []string{"project", "projects", "portfolio", "build", "ideas"},
		phrases: []string{"project ideas", "side project", "what should i build", "suggest projects"},
	},
	domain.CategoryCareerAdvice: {
		words: []string{"career", "advice", "guidance", "path", "switch", "transition", "growth", "roadmap",
			"interview", "interviews", "salary", "learn", "mentor"},
		phrases: []string{"career path", "career advice", "how to become", "should i", "how do i become", "skills should"},
	},
	domain.CategoryProfileInfo: {
		words:   []string{"profile", "account", "details"},
		phrases: []string{"my profile", "my name", "who am i", "about me", "my details", "my email"},
	},
}

var greetings = map[string]bool{
	"hi": true, "hello": true, "hey": true, "thanks": true, "thank": true, "bye": true, "ok": true, "okay": true,
}

const followUpMaxTokens = 6

// Rules is a deterministic keyword classifier. The same input always yields
// the same output.
type Rules struct {
	catalog *catalog.Catalog
}

// NewRules creates a rule classifier. A nil catalog uses the built-in table.
func NewRules(c *catalog.Catalog) *Rules {
	if c == nil {
		c = catalog.Default()
	}
	return &Rules{catalog: c}
}

// Classify never returns an error.
func (r *Rules) Classify(_ context.Context, text string, history []*domain.Message) (domain.Classification, error) {
	return r.classify(text, history), nil
}

func (r *Rules) classify(text string, history []*domain.Message) domain.Classification {
	tokens := catalog.Tokenize(text)
	padded := " " + strings.Join(tokens, " ") + " "

	fields := r.extract(text, tokens)

	scores := make(map[domain.Category]int, len(priority))
	for cat, kw := range categoryKeywords {
		for _, w := range kw.words {
			if strings.Contains(padded, " "+w+" ") {
				scores[cat]++
			}
		}
		for _, p := range kw.phrases {
			if strings.Contains(padded, " "+p+" ") {
				scores[cat] += 2
			}
		}
	}
	if fields.Location != "" {
		scores[domain.CategoryJobSearch]++
	}

	best, bestScore := domain.CategoryGeneralChat, 0
	for _, cat := range priority {
		if scores[cat] > bestScore {
			best, bestScore = cat, scores[cat]
		}
	}

	out := domain.Classification{Category: best, Fields: fields, Source: SourceRules}
	switch {
	case bestScore > 0:
		out.Confidence = 0.6 + 0.1*float64(min(bestScore, 3))
	case r.isFollowUp(tokens):
		if prev := lastAssistantCategory(history); prev != "" {
			out.Category = prev
			out.Confidence = 0.6
		} else {
			out.Confidence = 0.5
		}
	default:
		out.Confidence = 0.5
	}

	if out.Category == domain.CategoryJobSearch {
		out.SearchQuery = searchQuery(text, fields)
	}
	return out
}

func (r *Rules) extract(text string, tokens []string) domain.ExtractedFields {
	var f domain.ExtractedFields
	if role, ok := r.catalog.MatchRole(tokens); ok {
		f.JobTitle = role.Title
	}
	if loc, ok := r.catalog.MatchLocation(text); ok {
		f.Location = loc
	}
	f.Skills = r.catalog.ExtractSkills(text)
	return f
}

func (r *Rules) isFollowUp(tokens []string) bool {
	if len(tokens) == 0 || len(tokens) > followUpMaxTokens {
		return false
	}
	for _, t := range tokens {
		if greetings[t] {
			return false
		}
	}
	return true
}

func lastAssistantCategory(history []*domain.Message) domain.Category {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != domain.RoleAssistant {
			continue
		}
		if msg.Category == domain.CategoryGeneralChat {
			return ""
		}
		return msg.Category
	}
	return ""
}

func searchQuery(text string, f domain.ExtractedFields) string {
	if f.JobTitle == "" {
		return strings.TrimSpace(text)
	}
	q := f.JobTitle + " jobs"
	if f.Location != "" {
		q += " in " + f.Location
	}
	return q
}
