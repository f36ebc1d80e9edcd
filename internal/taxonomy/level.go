package taxonomy

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultLevelName 无法解析等级时使用的默认等级。
	DefaultLevelName     = "Beginner"
	DefaultLevelProgress = 15
	// DefaultTypeName 未给出类别时使用。
	DefaultTypeName = "General"
)

var levelPattern = regexp.MustCompile(`^(.+?)\s*\((\d+)%\)`)

// LevelLabel 解析后的等级标签。
type LevelLabel struct {
	Name     string
	Progress int
	// Exact 为 true 表示标签形如 "Advanced (80%)"，按 (名称, 进度) 精确匹配。
	Exact bool
}

// ParseLevelLabel 解析 "<名称> (<整数>%)"；不符合该形状时仅保留名称。
func ParseLevelLabel(label string) LevelLabel {
	label = strings.TrimSpace(label)
	m := levelPattern.FindStringSubmatch(label)
	if m == nil {
		return LevelLabel{Name: label}
	}
	progress, err := strconv.Atoi(m[2])
	if err != nil {
		return LevelLabel{Name: label}
	}
	return LevelLabel{Name: strings.TrimSpace(m[1]), Progress: progress, Exact: true}
}
