package matching

import (
	"fmt"
	"strings"

	"talent-radar/internal/normalize"
)

const statementSchema = `{
  "type": "object",
  "required": ["requirement_id", "match_fit"],
  "properties": {
    "requirement_id": {"type": ["integer", "string"]},
    "match_fit": {"type": "string"},
    "explanation": {"type": ["string", "null"]}
  }
}`

const summaryProps = `
    "overall_fit": {"type": ["string", "array", "null"]},
    "key_strengths": {"type": ["string", "array", "null"]},
    "missing_gaps": {"type": ["string", "array", "null"]}`

var (
	singleShape = normalize.MustShape("single_match", `{
  "type": "object",
  "required": ["statements"],
  "properties": {`+summaryProps+`,
    "statements": {"type": "array", "items": `+statementSchema+`}
  }
}`)

	categoryShape = normalize.MustShape("category_match", `{
  "type": "object",
  "required": ["statements"],
  "properties": {
    "statements": {"type": "array", "items": `+statementSchema+`}
  }
}`)

	summaryShape = normalize.MustShape("match_summary", `{
  "type": "object",
  "required": ["overall_fit"],
  "properties": {`+summaryProps+`
  }
}`)
)

// statementItem 服务返回的单条评估。
type statementItem struct {
	RequirementID uint   `json:"requirement_id"`
	MatchFit      string `json:"match_fit"`
	Explanation   string `json:"explanation"`
}

// summary 服务返回的总体评价；字段可能是字符串或字符串数组。
type summary struct {
	OverallFit   any `json:"overall_fit"`
	KeyStrengths any `json:"key_strengths"`
	MissingGaps  any `json:"missing_gaps"`
}

type singleResult struct {
	OverallFit   any             `json:"overall_fit"`
	KeyStrengths any             `json:"key_strengths"`
	MissingGaps  any             `json:"missing_gaps"`
	Statements   []statementItem `json:"statements"`
}

func (r singleResult) summary() summary {
	return summary{OverallFit: r.OverallFit, KeyStrengths: r.KeyStrengths, MissingGaps: r.MissingGaps}
}

type categoryResult struct {
	Statements []statementItem `json:"statements"`
}

// flatten 将字符串或列表统一为文本。
func flatten(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []any:
		lines := make([]string, 0, len(val))
		for _, item := range val {
			if s := flatten(item); s != "" {
				lines = append(lines, "- "+s)
			}
		}
		return strings.Join(lines, "\n")
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
