package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"talent-radar/internal/apperr"
)

// UnparsableResponseError 所有解析手段均失败，Raw 保留原始输出便于排查。
type UnparsableResponseError struct {
	Raw    string
	Reason string
}

func (e *UnparsableResponseError) Error() string {
	return "unparsable response: " + e.Reason
}

// Kind 归类为 unparsable_response。
func (e *UnparsableResponseError) Kind() apperr.Kind { return apperr.KindUnparsable }

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)[ \\t]*\\r?\\n?(.*?)```")

// Parse 从服务输出中提取结构化值，依次尝试：整体解析、json 代码块、首个配平的花括号片段。
func Parse(raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &UnparsableResponseError{Raw: raw, Reason: "empty response"}
	}

	if v, ok := decodeJSON(trimmed); ok {
		return v, nil
	}
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		if v, ok := decodeJSON(strings.TrimSpace(m[1])); ok {
			return v, nil
		}
	}
	if span, ok := firstBraceSpan(raw); ok {
		if v, ok := decodeJSON(span); ok {
			return v, nil
		}
	}
	return nil, &UnparsableResponseError{Raw: raw, Reason: "no structured data found"}
}

func decodeJSON(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// 拒绝尾随内容，如 "{...} thanks"。
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return v, true
}

// firstBraceSpan 返回第一个顶层配平的 {...}，忽略字符串内的花括号。
func firstBraceSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Unparsable 构造带原始文本的解析错误。
func Unparsable(raw, format string, args ...any) error {
	return &UnparsableResponseError{Raw: raw, Reason: fmt.Sprintf(format, args...)}
}
