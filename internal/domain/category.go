package domain

import "strings"

// Category is the routing label assigned to a user turn.
type Category string

const (
	CategoryJobSearch         Category = "JOB_SEARCH"
	CategoryResumeAnalysis    Category = "RESUME_ANALYSIS"
	CategoryCareerAdvice      Category = "CAREER_ADVICE"
	CategoryProjectSuggestion Category = "PROJECT_SUGGESTION"
	CategoryProfileInfo       Category = "PROFILE_INFO"
	CategoryGeneralChat       Category = "GENERAL_CHAT"
	CategoryResumeUpload      Category = "RESUME_UPLOAD"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryJobSearch,
	CategoryResumeAnalysis,
	CategoryCareerAdvice,
	CategoryProjectSuggestion,
	CategoryProfileInfo,
	CategoryGeneralChat,
	CategoryResumeUpload,
}

// ParseCategory maps free-form text onto a known category.
func ParseCategory(s string) (Category, bool) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	for _, c := range Categories {
		if string(c) == norm {
			return c, true
		}
	}
	return "", false
}

// ExtractedFields are the structured search parameters pulled from a message.
type ExtractedFields struct {
	JobTitle        string   `json:"jobTitle,omitempty"`
	Company         string   `json:"company,omitempty"`
	Location        string   `json:"location,omitempty"`
	Skills          []string `json:"skills,omitempty"`
	ExperienceMin   *int     `json:"experienceMin,omitempty"`
	ExperienceMax   *int     `json:"experienceMax,omitempty"`
	JobType         string   `json:"jobType,omitempty"`
	WorkMode        string   `json:"workMode,omitempty"`
	Industry        string   `json:"industry,omitempty"`
	Domain          string   `json:"domain,omitempty"`
	Internship      *bool    `json:"internship,omitempty"`
	ContentFiltered bool     `json:"contentFiltered,omitempty"`
	OutOfScope      bool     `json:"outOfScope,omitempty"`
}

// Classification is the classifier's verdict for one message.
type Classification struct {
	Category    Category        `json:"category"`
	Fields      ExtractedFields `json:"extractedFields"`
	Confidence  float64         `json:"confidence"`
	SearchQuery string          `json:"searchQuery,omitempty"`
	// Source is "llm" or "rules".
	Source string `json:"source"`
}
