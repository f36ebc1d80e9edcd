package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSetIsComplete(t *testing.T) {
	t.Parallel()

	set := Default()
	for name, text := range map[string]string{
		"cv":      set.CVExtraction,
		"jd":      set.JDExtraction,
		"single":  set.MatchSingle,
		"multi":   set.MatchMulti,
		"summary": set.MatchSummary,
	} {
		assert.NotEmpty(t, text, name)
	}
	assert.Contains(t, set.MatchSingle, PlaceholderRequirements)
	assert.Contains(t, set.MatchMulti, PlaceholderCategory)
	assert.Contains(t, set.MatchSummary, PlaceholderNotes)
}

func TestLoadOverridesNonEmptyFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("match_summary: \"short summary {{NOTES_JSON}}\"\n"), 0o600))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "short summary {{NOTES_JSON}}", set.MatchSummary)
	assert.Equal(t, Default().CVExtraction, set.CVExtraction)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRender(t *testing.T) {
	t.Parallel()

	out := Render("eval {{CATEGORY}}: {{REQUIREMENTS_JSON}}", PlaceholderCategory, "Hard Skill", PlaceholderRequirements, "[]")
	assert.Equal(t, "eval Hard Skill: []", out)
}
