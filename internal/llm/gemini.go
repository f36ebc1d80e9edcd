package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"talent-radar/internal/apperr"
	"talent-radar/internal/logger"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient 通过 genai 调用 Gemini，文档以内联字节发送。
type GeminiClient struct {
	models modelsAPI
	model  string
	logger *zap.Logger
}

// NewGeminiClient 创建 Gemini 客户端。
func NewGeminiClient(ctx context.Context, cfg Config, log *zap.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     strings.TrimSpace(cfg.APIKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.timeout()},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{models: client.Models, model: strings.TrimSpace(cfg.Model), logger: logger.OrNop(log)}, nil
}

// Validate 已构造的客户端总是可用。
func (g *GeminiClient) Validate() error { return nil }

// Generate 发送指令与文档，返回拼接后的文本输出。
func (g *GeminiClient) Generate(ctx context.Context, req Request) (string, error) {
	op := "gemini." + req.Operation

	parts := make([]*genai.Part, 0, 2)
	if req.Document != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: req.Document.MIMEType, Data: req.Document.Data}})
	}
	parts = append(parts, &genai.Part{Text: composePrompt(req)})

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	}
	if instr := strings.TrimSpace(req.Instruction); instr != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instr}}}
	}

	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", apperr.Wrap(apperr.KindExternalService, op, err)
	}

	output := responseText(resp)
	if output == "" {
		return "", apperr.Wrap(apperr.KindExternalService, op, errors.New("empty response"))
	}
	g.logger.Debug("gemini response received",
		zap.String("operation", req.Operation),
		zap.String("output", logger.TruncateForLog(output, 300)),
	)
	return output, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text)
		}
	}
	return strings.TrimSpace(b.String())
}
