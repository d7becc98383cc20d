package agent

import (
	"strings"

	"github.com/ashureev/jobmato-assistant/internal/catalog"
	"github.com/ashureev/jobmato-assistant/internal/domain"
	"github.com/ashureev/jobmato-assistant/internal/gateway"
)

const (
	defaultJobLimit  = 20
	specificJobLimit = 25
	specificParams   = 5
	maxSkills        = 10
)

var (
	internshipWords = []string{"intern", "interns", "internship", "internships", "trainee", "trainees", "graduate", "graduates"}
	remoteWords     = []string{"remote", "work from home", "wfh"}
	onsiteWords     = []string{"onsite", "on site", "office"}
	hybridWords     = []string{"hybrid"}
	juniorWords     = []string{"junior", "entry level", "fresher", "freshers", "fresh graduate"}
	seniorWords     = []string{"senior", "lead", "principal"}
	midWords        = []string{"mid level", "intermediate"}
)

// JobParams builds job-search query parameters from the classified fields,
// keywords in the message, the role catalog and, when the user named no
// skills, the skills on their résumé.
func JobParams(req Request, cat *catalog.Catalog, resume any) map[string]any {
	f := req.Classification.Fields
	p := map[string]any{"limit": defaultJobLimit, "page": 1}

	setString := func(key, v string) {
		if v = strings.TrimSpace(v); v != "" {
			p[key] = v
		}
	}
	setString("job_title", f.JobTitle)
	setString("company", f.Company)
	setString("locations", f.Location)
	setString("industry", f.Industry)
	setString("domain", f.Domain)
	setString("job_type", f.JobType)
	setString("work_mode", f.WorkMode)
	if f.ExperienceMin != nil {
		p["experience_min"] = *f.ExperienceMin
	}
	if f.ExperienceMax != nil {
		p["experience_max"] = *f.ExperienceMax
	}
	if f.Internship != nil {
		p["internship"] = *f.Internship
	}

	text := req.Text
	if mentions(text, internshipWords...) {
		p["internship"] = true
		p["job_type"] = "internship"
		p["experience_max"] = 1
	}
	switch {
	case mentions(text, remoteWords...):
		p["work_mode"] = "remote"
	case mentions(text, onsiteWords...):
		p["work_mode"] = "on-site"
	case mentions(text, hybridWords...):
		p["work_mode"] = "hybrid"
	}
	switch {
	case mentions(text, juniorWords...):
		p["experience_min"] = 0
		p["experience_max"] = 2
	case mentions(text, seniorWords...):
		p["experience_min"] = 5
	case mentions(text, midWords...):
		p["experience_min"] = 2
		p["experience_max"] = 5
	}

	skills := append([]string(nil), f.Skills...)
	if len(skills) == 0 {
		skills = ResumeSkills(resume)
	}
	if cat != nil && f.JobTitle != "" {
		skills = mergeSkills(skills, cat.SkillsFor(f.JobTitle))
	}
	if len(skills) > maxSkills {
		skills = skills[:maxSkills]
	}
	if len(skills) > 0 {
		p["skills"] = skills
	}

	if _, ok := p["job_title"]; !ok && len(skills) == 0 {
		query := req.Classification.SearchQuery
		if query == "" {
			query = text
		}
		setString("query", query)
	}

	if specificCount(p) > specificParams {
		p["limit"] = specificJobLimit
	}
	return p
}

func specificCount(p map[string]any) int {
	n := 0
	for k, v := range p {
		if k == "limit" || k == "page" {
			continue
		}
		switch x := v.(type) {
		case bool:
			if x {
				n++
			}
		case int:
			if x != 0 {
				n++
			}
		default:
			n++
		}
	}
	return n
}

func mergeSkills(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, s := range list {
			key := strings.ToLower(strings.TrimSpace(s))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// resultKeys are the envelopes the backend wraps payloads in.
var resultKeys = []string{"data", "resume", "profile", "parsedData", "parsed_data"}

// ResumeSkills digs the skill list out of a résumé payload.
func ResumeSkills(result any) []string {
	m, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	if skills := stringList(m["skills"]); len(skills) > 0 {
		return skills
	}
	for _, key := range resultKeys {
		if skills := ResumeSkills(m[key]); len(skills) > 0 {
			return skills
		}
	}
	return nil
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return mergeSkills(nil, x)
	case string:
		return mergeSkills(nil, strings.Split(x, ","))
	case []any:
		var out []string
		for _, item := range x {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case map[string]any:
				if name, ok := s["name"].(string); ok {
					out = append(out, name)
				}
			}
		}
		return mergeSkills(nil, out)
	}
	return nil
}

func uploadParams(u *Upload) map[string]any {
	if u == nil {
		return nil
	}
	return map[string]any{
		gateway.ParamFilename:    u.Filename,
		gateway.ParamContent:     u.Content,
		gateway.ParamContentType: u.ContentType,
	}
}

func paramsFor(tool domain.ToolName, req Request, cat *catalog.Catalog, results map[domain.ToolName]domain.ToolInvocation) map[string]any {
	switch tool {
	case domain.ToolJobSearch:
		var resume any
		if inv, ok := results[domain.ToolResume]; ok && inv.OK() {
			resume = inv.Result
		}
		return JobParams(req, cat, resume)
	case domain.ToolResumeUpload:
		return uploadParams(req.Upload)
	default:
		return nil
	}
}
