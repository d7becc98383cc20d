package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/jobmato-assistant/internal/conversation"
	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/llm"
)

const (
	maxResultChars = 4000
	topJobs        = 5
)

// Fallback texts.
const (
	TextApology   = "I apologize, but I'm experiencing technical difficulties right now. Please try again in a moment."
	TextNoJobs    = "No jobs found matching your criteria. Try adjusting your search parameters."
	TextNoResume  = "I couldn't find a resume on your profile. Upload one (PDF, DOC or DOCX) and I can give you personalized feedback."
	TextUploadAsk = "Please use the upload button to share your resume as a PDF, DOC or DOCX file (up to 10MB)."
	TextUploaded  = "Your resume was uploaded successfully. Ask me to review it whenever you're ready."
	TextWelcome   = "Hi! I'm the JobMato assistant. I can find jobs, review your resume, suggest projects and help plan your career. What would you like to do?"
)

const brand = "You are the JobMato AI career assistant and operate exclusively within the JobMato platform. " +
	"Never mention other companies or the model behind you. Answer in the user's language (English, Hindi or Hinglish). " +
	"Base your answer on the tool results below; do not invent jobs, profile details or resume contents. " +
	"If a tool failed, answer with what you have and do not mention internal errors."

var personas = map[domain.Category]string{
	domain.CategoryJobSearch: "You are the JobMato Job Search Specialist. Summarize the most relevant openings " +
		"with title, company and location, and suggest how to refine the search.",
	domain.CategoryCareerAdvice: "You are the JobMato Career Advisor. Give concrete, personalized guidance grounded in " +
		"the user's profile, resume and current openings.",
	domain.CategoryResumeAnalysis: "You are the JobMato Resume Analysis Expert. Give specific, encouraging feedback " +
		"with prioritized improvements and ATS tips.",
	domain.CategoryProjectSuggestion: "You are the JobMato Project Suggestion Expert. Recommend practical portfolio " +
		"projects that fit the user's skills and the roles they target.",
	domain.CategoryProfileInfo: "You are the JobMato Profile Information Specialist. Answer questions about the " +
		"user's profile and resume accurately and concisely.",
	domain.CategoryGeneralChat: "You are the JobMato career companion. Be friendly and brief, and steer the " +
		"conversation toward how JobMato can help.",
	domain.CategoryResumeUpload: "You are the JobMato resume assistant. Help the user upload or update their resume.",
}

// Composer writes the final answer from tool results.
type Composer struct {
	completer llm.Completer
	timeout   time.Duration
}

// NewComposer creates a composer. A nil completer always uses templates.
func NewComposer(completer llm.Completer, timeout time.Duration) *Composer {
	if timeout <= 0 {
		timeout = DefaultConfig().ComposeTimeout
	}
	return &Composer{completer: completer, timeout: timeout}
}

// Generate asks the text backend for an answer. Failures are *GenerationError.
func (c *Composer) Generate(ctx context.Context, req Request, history []*domain.Message, invs []domain.ToolInvocation) (string, error) {
	category := req.Classification.Category
	if c.completer == nil {
		return "", &GenerationError{Category: category, Err: errors.New("no text backend configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	text, err := c.completer.Complete(ctx, Prompt(req, history, invs))
	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmptyCompletion
	}
	if err != nil {
		return "", &GenerationError{Category: category, Err: err}
	}
	return strings.TrimSpace(text), nil
}

// Compose returns a generated answer, or a template built from the
// successful results when generation fails. It never returns "".
func (c *Composer) Compose(ctx context.Context, req Request, history []*domain.Message, invs []domain.ToolInvocation) string {
	text, err := c.Generate(ctx, req, history, invs)
	if err == nil {
		return text
	}
	if c.completer != nil {
		slog.Warn("Answer generation failed, using template", "category", req.Classification.Category, "error", err)
	}
	return Template(req, invs)
}

// Prompt builds the messages sent to the text backend.
func Prompt(req Request, history []*domain.Message, invs []domain.ToolInvocation) []llm.Message {
	persona, ok := personas[req.Classification.Category]
	if !ok {
		persona = personas[domain.CategoryGeneralChat]
	}

	var b strings.Builder
	if ctx := conversation.FormatContext(history, conversation.ContextMessages); ctx != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}
	b.WriteString("User request: ")
	b.WriteString(req.Text)
	b.WriteString("\n")

	if len(invs) > 0 {
		b.WriteString("\nTool results:\n")
		for _, inv := range invs {
			fmt.Fprintf(&b, "- %s (%s): ", inv.ToolName, inv.Status)
			if inv.OK() {
				b.WriteString(renderResult(inv.Result))
			} else {
				b.WriteString("unavailable")
			}
			b.WriteString("\n")
		}
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: persona + "\n\n" + brand},
		{Role: llm.RoleUser, Content: b.String()},
	}
}

func renderResult(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	s := string(raw)
	if len(s) > maxResultChars {
		s = s[:maxResultChars] + "..."
	}
	return s
}

// Template builds an answer directly from the successful invocations.
func Template(req Request, invs []domain.ToolInvocation) string {
	var parts []string
	var attempted, succeeded int
	for _, inv := range invs {
		if inv.Status == domain.ToolStatusSkipped {
			continue
		}
		attempted++
		if inv.OK() {
			succeeded++
		}
		switch inv.ToolName {
		case domain.ToolJobSearch:
			if inv.OK() {
				parts = append(parts, jobsText(inv.Result))
			}
		case domain.ToolProfile:
			if s := profileText(inv.Result); inv.OK() && s != "" {
				parts = append(parts, s)
			}
		case domain.ToolResume:
			if !inv.OK() {
				parts = append(parts, TextNoResume)
			} else if skills := ResumeSkills(inv.Result); len(skills) > 0 {
				parts = append(parts, "Your resume highlights: "+strings.Join(skills, ", ")+".")
			}
		case domain.ToolResumeUpload:
			if inv.OK() {
				parts = append(parts, TextUploaded)
			}
		}
	}

	switch {
	case len(parts) > 0:
		return strings.Join(parts, "\n\n")
	case attempted > 0 && succeeded == 0:
		return TextApology
	case req.Classification.Category == domain.CategoryResumeUpload:
		return TextUploadAsk
	case req.Classification.Category == domain.CategoryGeneralChat:
		return TextWelcome
	default:
		return TextApology
	}
}

// Jobs extracts the job list from a search result.
func Jobs(result any) []map[string]any {
	var list []any
	switch x := result.(type) {
	case []any:
		list = x
	case map[string]any:
		if l, ok := x["jobs"].([]any); ok {
			list = l
		} else if data, ok := x["data"]; ok {
			return Jobs(data)
		}
	}
	jobs := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			jobs = append(jobs, m)
		}
	}
	return jobs
}

func jobsText(result any) string {
	jobs := Jobs(result)
	if len(jobs) == 0 {
		return TextNoJobs
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d job opportunities matching your search:", len(jobs))
	for i, job := range jobs {
		if i == topJobs {
			break
		}
		fmt.Fprintf(&b, "\n%d. %s at %s (%s)", i+1,
			firstString(job, "Untitled role", "job_title", "title"),
			companyName(job),
			location(job))
	}
	return b.String()
}

func firstString(m map[string]any, fallback string, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return fallback
}

func companyName(job map[string]any) string {
	if c, ok := job["company"].(map[string]any); ok {
		return firstString(c, "Company not specified", "name")
	}
	return firstString(job, "Company not specified", "company", "company_name")
}

func location(job map[string]any) string {
	if locs := stringList(job["locations"]); len(locs) > 0 {
		return strings.Join(locs, ", ")
	}
	return firstString(job, "Location not specified", "location", "city")
}

func profileText(result any) string {
	m, ok := result.(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range resultKeys {
		if inner, ok := m[key].(map[string]any); ok {
			m = inner
			break
		}
	}
	var facts []string
	if name := firstString(m, "", "name", "fullName", "full_name"); name != "" {
		facts = append(facts, "name: "+name)
	}
	if email := firstString(m, "", "email"); email != "" {
		facts = append(facts, "email: "+email)
	}
	if role := firstString(m, "", "current_role", "currentRole", "designation", "headline"); role != "" {
		facts = append(facts, "role: "+role)
	}
	if skills := stringList(m["skills"]); len(skills) > 0 {
		facts = append(facts, "skills: "+strings.Join(skills, ", "))
	}
	if len(facts) == 0 {
		return ""
	}
	return "From your profile, " + strings.Join(facts, "; ") + "."
}
