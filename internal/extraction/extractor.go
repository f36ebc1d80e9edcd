package extraction

import (
	"context"

	"talent-radar/internal/apperr"
	"talent-radar/internal/document"
	"talent-radar/internal/llm"
	"talent-radar/internal/logger"
	"talent-radar/internal/normalize"
	"talent-radar/internal/prompts"
	"talent-radar/internal/taxonomy"

	"go.uber.org/zap"
)

const instruction = "You are an expert recruiting assistant that extracts structured data from CVs. Respond with JSON only."

var profileShape = normalize.MustShape("cv_profile", `{
  "type": "object",
  "properties": {
    "name":     {"type": ["string", "null"]},
    "email":    {"type": ["string", "null"]},
    "phone":    {"type": ["string", "null", "number"]},
    "linkedin": {"type": ["string", "null"]},
    "degree":   {"type": ["string", "null"]},
    "skills": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "type":  {"type": ["string", "null"]},
          "skill": {"type": ["string", "null"]},
          "level": {"type": ["string", "null"]}
        }
      }
    }
  }
}`)

// Fields 从简历中解析出的结构化资料。
type Fields struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Phone    string          `json:"phone"`
	LinkedIn string          `json:"linkedin"`
	Degree   string          `json:"degree"`
	Skills   []taxonomy.Item `json:"skills"`
}

// Result 解析结果与原始响应。
type Result struct {
	Fields Fields
	Raw    string
}

// Extractor 调用文本理解服务解析简历。
type Extractor struct {
	client  llm.Client
	prompts prompts.Set
	logger  *zap.Logger
}

// NewExtractor 创建解析器。
func NewExtractor(client llm.Client, set prompts.Set, log *zap.Logger) *Extractor {
	return &Extractor{client: client, prompts: set, logger: logger.OrNop(log)}
}

// Validate 运行前置检查，返回 configuration 类错误。
func (e *Extractor) Validate() error {
	return e.client.Validate()
}

// Extract 发送文档并解析响应。服务调用期间不应持有事务。
func (e *Extractor) Extract(ctx context.Context, payload document.Payload) (Result, error) {
	const op = "extraction.extract"
	prepared, err := document.Prepare(payload)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindInvalidInput, op, err)
	}

	raw, err := e.client.Generate(ctx, llm.Request{
		Operation:   "cv_extraction",
		Instruction: instruction,
		Prompt:      e.prompts.CVExtraction,
		Document:    &llm.Document{Name: prepared.Name, MIMEType: prepared.MIMEType, Data: prepared.Data},
		Shape:       profileShape.Schema(),
	})
	if err != nil {
		return Result{}, err
	}

	var fields Fields
	if err := profileShape.Decode(raw, &fields); err != nil {
		e.logger.Warn("unparsable extraction response",
			zap.String("document", prepared.Name),
			zap.String("raw", logger.TruncateForLog(raw, 500)),
			zap.Error(err))
		return Result{Raw: raw}, err
	}
	e.logger.Debug("cv extracted", zap.String("document", prepared.Name), zap.Int("skills", len(fields.Skills)))
	return Result{Fields: fields, Raw: raw}, nil
}
