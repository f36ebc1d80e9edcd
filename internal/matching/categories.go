package matching

import (
	"strings"

	"talent-radar/internal/model"
)

// Category 多轮匹配的固定类别，最后一个为兜底类别。
type Category struct {
	Name     string
	Keywords []string
}

// Categories 按关键字匹配标签的顺序。
var Categories = []Category{
	{Name: "Hard Skill", Keywords: []string{"hard", "technical", "tool"}},
	{Name: "Soft Skill", Keywords: []string{"soft", "interpersonal", "communication"}},
	{Name: "Domain Knowledge", Keywords: []string{"domain", "industry", "knowledge"}},
	{Name: "Operational"},
}

// Categorize 按第一个命中关键字的标签归类，均未命中归入兜底类别。
func Categorize(tags []string) string {
	for _, tag := range tags {
		lower := strings.ToLower(tag)
		for _, c := range Categories {
			for _, kw := range c.Keywords {
				if strings.Contains(lower, kw) {
					return c.Name
				}
			}
		}
	}
	return Categories[len(Categories)-1].Name
}

// Group 一个类别下的要求。
type Group struct {
	Category     string
	Requirements []model.Requirement
}

// Partition 将要求分到固定类别，按类别顺序返回非空分组。
func Partition(reqs []model.Requirement) []Group {
	byName := make(map[string][]model.Requirement, len(Categories))
	for _, r := range reqs {
		name := Categorize(r.TagNames())
		byName[name] = append(byName[name], r)
	}
	groups := make([]Group, 0, len(Categories))
	for _, c := range Categories {
		if rs := byName[c.Name]; len(rs) > 0 {
			groups = append(groups, Group{Category: c.Name, Requirements: rs})
		}
	}
	return groups
}
