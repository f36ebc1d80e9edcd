package normalize

import (
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Shape 某个调用点期望的输出结构：JSON Schema 校验 + 宽松类型解码。
type Shape struct {
	name   string
	source string
	schema *jsonschema.Schema
}

// MustShape 编译 schema，失败时 panic，仅用于包级变量。
func MustShape(name, schemaJSON string) *Shape {
	return &Shape{
		name:   name,
		source: schemaJSON,
		schema: jsonschema.MustCompileString(name+".json", schemaJSON),
	}
}

// Name 调用点名称。
func (s *Shape) Name() string { return s.name }

// Schema 原始 schema 文本，附在提示词中。
func (s *Shape) Schema() string { return s.source }

// Decode 解析 raw、按 schema 校验并解码到 out。
func (s *Shape) Decode(raw string, out any) error {
	v, err := Parse(raw)
	if err != nil {
		return err
	}
	if err := s.schema.Validate(v); err != nil {
		return Unparsable(raw, "%s shape mismatch: %v", s.name, err)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return Unparsable(raw, "%s decoder: %v", s.name, err)
	}
	if err := dec.Decode(v); err != nil {
		return Unparsable(raw, "%s decode: %v", s.name, err)
	}
	return nil
}
