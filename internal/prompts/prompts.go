package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultSet []byte

const (
	PlaceholderRequirements = "{{REQUIREMENTS_JSON}}"
	PlaceholderCategory     = "{{CATEGORY}}"
	PlaceholderNotes        = "{{NOTES_JSON}}"
)

// Set 全部指令模板。
type Set struct {
	CVExtraction string `yaml:"cv_extraction"`
	JDExtraction string `yaml:"jd_extraction"`
	MatchSingle  string `yaml:"match_single"`
	MatchMulti   string `yaml:"match_multi"`
	MatchSummary string `yaml:"match_summary"`
}

// Default 返回内置模板。
func Default() Set {
	var set Set
	if err := yaml.Unmarshal(defaultSet, &set); err != nil {
		panic(fmt.Sprintf("embedded prompts invalid: %v", err))
	}
	return set
}

// Load 读取内置模板，并用 path 指向的 YAML 中非空字段覆盖。
func Load(path string) (Set, error) {
	set := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return set, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("read prompts file: %w", err)
	}
	var override Set
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Set{}, fmt.Errorf("parse prompts file: %w", err)
	}
	set.merge(override)
	return set, nil
}

func (s *Set) merge(o Set) {
	pick := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	pick(&s.CVExtraction, o.CVExtraction)
	pick(&s.JDExtraction, o.JDExtraction)
	pick(&s.MatchSingle, o.MatchSingle)
	pick(&s.MatchMulti, o.MatchMulti)
	pick(&s.MatchSummary, o.MatchSummary)
}

// Render 依次替换 key/value 对。
func Render(template string, pairs ...string) string {
	if len(pairs)%2 != 0 {
		pairs = pairs[:len(pairs)-1]
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
