package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Need C++/Node.js roles, in Mumbai.")
	assert.Equal(t, []string{"need", "c++", "node.js", "roles", "in", "mumbai"}, got)
}

func TestMatchRole(t *testing.T) {
	c := Default()

	tests := []struct {
		text  string
		title string
		ok    bool
	}{
		{"Android jobs in Mumbai", "Android Developer", true},
		{"looking for full stack openings", "Full Stack Developer", true},
		{"data scientist roles", "Data Scientist", true},
		{"machine learning internships", "Machine Learning Engineer", true},
		{"javascript work", "", false},
		{"hello there", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			role, ok := c.MatchRole(Tokenize(tt.text))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.title, role.Title)
		})
	}
}

func TestSkillsFor(t *testing.T) {
	c := Default()
	assert.Equal(t, []string{"Android", "Kotlin", "Java"}, c.SkillsFor("Android Developer"))
	assert.Equal(t, []string{"Android", "Kotlin", "Java"}, c.SkillsFor("android"))
	assert.Nil(t, c.SkillsFor("astronaut"))

	skills := c.SkillsFor("Android Developer")
	skills[0] = "mutated"
	assert.Equal(t, "Android", c.SkillsFor("Android Developer")[0])
}

func TestExtractSkills(t *testing.T) {
	c := Default()
	got := c.ExtractSkills("I know python, machine learning and docker. Also c++")
	assert.Equal(t, []string{"Python", "C++", "Docker", "Machine Learning"}, got)
	assert.Empty(t, c.ExtractSkills("nothing relevant"))
}

func TestMatchLocation(t *testing.T) {
	c := Default()

	loc, ok := c.MatchLocation("jobs in bengaluru please")
	assert.True(t, ok)
	assert.Equal(t, "Bangalore", loc)

	loc, ok = c.MatchLocation("remote roles near New Delhi")
	assert.True(t, ok)
	assert.Equal(t, "New Delhi", loc)

	_, ok = c.MatchLocation("remote only")
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.yaml")
	content := `
roles:
  - keywords: ["rust"]
    title: Rust Developer
    skills: [Rust, Tokio]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)

	role, ok := c.MatchRole(Tokenize("rust jobs"))
	require.True(t, ok)
	assert.Equal(t, "Rust Developer", role.Title)

	_, ok = c.MatchRole(Tokenize("android jobs"))
	assert.False(t, ok, "file roles replace the built-in table")

	loc, ok := c.MatchLocation("pune")
	assert.True(t, ok, "cities fall back to the built-in table")
	assert.Equal(t, "Pune", loc)
}

func TestLoadFileInvalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("roles:\n  - title: \"\"\n"), 0o600))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}
