// Package catalog maps job-role keywords to titles and skills, and recognizes
// technology skills and city names in free text.
package catalog

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Role is one entry of the skill map.
type Role struct {
	Keywords []string `yaml:"keywords"`
	Title    string   `yaml:"title"`
	Skills   []string `yaml:"skills"`
}

// City is a canonical city name with alternative spellings.
type City struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases,omitempty"`
}

// File is the on-disk YAML layout accepted by LoadFile.
type File struct {
	Roles  []Role   `yaml:"roles"`
	Skills []string `yaml:"skills"`
	Cities []City   `yaml:"cities"`
}

type phrase struct {
	norm  string
	index int
}

// Catalog answers keyword lookups. It is immutable after construction and
// safe for concurrent use.
type Catalog struct {
	roles     []Role
	skills    []string
	cities    []City
	roleKeys  []phrase
	skillKeys []phrase
	cityKeys  []phrase
}

// New builds a catalog from explicit tables.
func New(roles []Role, skills []string, cities []City) *Catalog {
	c := &Catalog{roles: roles, skills: skills, cities: cities}
	for i, r := range roles {
		for _, kw := range r.Keywords {
			c.roleKeys = append(c.roleKeys, phrase{norm: normalize(kw), index: i})
		}
	}
	for i, s := range skills {
		c.skillKeys = append(c.skillKeys, phrase{norm: normalize(s), index: i})
	}
	for i, city := range cities {
		c.cityKeys = append(c.cityKeys, phrase{norm: normalize(city.Name), index: i})
		for _, alias := range city.Aliases {
			c.cityKeys = append(c.cityKeys, phrase{norm: normalize(alias), index: i})
		}
	}
	return c
}

// LoadFile reads a YAML skill map. Sections the file leaves empty keep the
// built-in tables.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skill map: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse skill map: %w", err)
	}
	for i, r := range f.Roles {
		if r.Title == "" || len(r.Keywords) == 0 {
			return nil, fmt.Errorf("skill map role %d: title and keywords are required", i)
		}
	}

	if len(f.Roles) == 0 {
		f.Roles = defaultRoles
	}
	if len(f.Skills) == 0 {
		f.Skills = defaultSkills
	}
	if len(f.Cities) == 0 {
		f.Cities = defaultCities
	}
	return New(f.Roles, f.Skills, f.Cities), nil
}

// Tokenize lower-cases text and splits it into words. Characters that appear
// inside technology names (+, #, .) are kept within a word.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#' && r != '.'
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "."); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.Join(Tokenize(s), " ")
}

// padded wraps the normalized text in spaces so phrases match on word boundaries.
func padded(tokens []string) string {
	return " " + strings.Join(tokens, " ") + " "
}

// longest returns the index of the longest phrase present in text, or -1.
func longest(text string, keys []phrase) int {
	best, bestLen := -1, 0
	for _, k := range keys {
		if len(k.norm) > bestLen && strings.Contains(text, " "+k.norm+" ") {
			best, bestLen = k.index, len(k.norm)
		}
	}
	return best
}

// MatchRole finds the role whose keyword best matches the tokens.
func (c *Catalog) MatchRole(tokens []string) (Role, bool) {
	i := longest(padded(tokens), c.roleKeys)
	if i < 0 {
		return Role{}, false
	}
	return c.roles[i], true
}

// SkillsFor returns the skills of the role with the given title or keyword.
func (c *Catalog) SkillsFor(title string) []string {
	norm := normalize(title)
	for _, r := range c.roles {
		if normalize(r.Title) == norm {
			return append([]string(nil), r.Skills...)
		}
	}
	if r, ok := c.MatchRole(Tokenize(title)); ok {
		return append([]string(nil), r.Skills...)
	}
	return nil
}

// ExtractSkills returns the known skills mentioned in text, in catalog order.
func (c *Catalog) ExtractSkills(text string) []string {
	p := padded(Tokenize(text))
	var out []string
	seen := make(map[int]bool)
	for _, k := range c.skillKeys {
		if !seen[k.index] && strings.Contains(p, " "+k.norm+" ") {
			seen[k.index] = true
			out = append(out, c.skills[k.index])
		}
	}
	return out
}

// MatchLocation returns the canonical name of a city mentioned in text.
func (c *Catalog) MatchLocation(text string) (string, bool) {
	i := longest(padded(Tokenize(text)), c.cityKeys)
	if i < 0 {
		return "", false
	}
	return c.cities[i].Name, true
}

// Roles returns a copy of the role table.
func (c *Catalog) Roles() []Role {
	return append([]Role(nil), c.roles...)
}
