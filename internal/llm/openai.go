package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"talent-radar/internal/apperr"
	"talent-radar/internal/logger"

	"go.uber.org/zap"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

// OpenAIClient 调用 OpenAI 兼容的 chat/completions 接口（OpenAI、DeepSeek 等）。
type OpenAIClient struct {
	base   string
	apiKey string
	model  string
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIClient 创建客户端，httpClient 为空时按配置超时新建。
func NewOpenAIClient(cfg Config, httpClient *http.Client, log *zap.Logger) *OpenAIClient {
	base := strings.TrimSpace(cfg.APIBase)
	if base == "" {
		base = defaultOpenAIBase
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.timeout()}
	}
	return &OpenAIClient{
		base:   strings.TrimRight(base, "/"),
		apiKey: strings.TrimSpace(cfg.APIKey),
		model:  strings.TrimSpace(cfg.Model),
		client: httpClient,
		logger: logger.OrNop(log),
	}
}

// Validate 检查凭据。
func (c *OpenAIClient) Validate() error {
	if c.apiKey == "" || c.model == "" {
		return apperr.New(apperr.KindConfiguration, "openai.validate", "api key or model missing")
	}
	return nil
}

// Generate 文本类文档直接内联，其它类型以 data URL 文件片段发送。
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	op := "openai." + req.Operation
	if err := c.Validate(); err != nil {
		return "", err
	}

	messages := make([]chatMessage, 0, 2)
	if instr := strings.TrimSpace(req.Instruction); instr != "" {
		messages = append(messages, chatMessage{Role: "system", Content: instr})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userContent(req)})

	payload := chatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", apperr.Wrap(apperr.KindExternalService, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", apperr.Wrap(apperr.KindExternalService, op,
			fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperr.Wrap(apperr.KindExternalService, op, fmt.Errorf("decode response: %w", err))
	}
	if len(body.Choices) == 0 || strings.TrimSpace(body.Choices[0].Message.Content) == "" {
		return "", apperr.Wrap(apperr.KindExternalService, op, errors.New("empty response"))
	}

	output := strings.TrimSpace(body.Choices[0].Message.Content)
	c.logger.Debug("openai response received",
		zap.String("operation", req.Operation),
		zap.String("output", logger.TruncateForLog(output, 300)),
	)
	return output, nil
}

func userContent(req Request) any {
	prompt := composePrompt(req)
	doc := req.Document
	if doc == nil {
		return prompt
	}
	if strings.HasPrefix(doc.MIMEType, "text/") {
		return fmt.Sprintf("%s\n\n--- DOCUMENT: %s ---\n%s", prompt, doc.Name, string(doc.Data))
	}

	dataURL := "data:" + doc.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(doc.Data)
	var filePart contentPart
	if strings.HasPrefix(doc.MIMEType, "image/") {
		filePart = contentPart{Type: "image_url", ImageURL: &imageURL{URL: dataURL}}
	} else {
		filePart = contentPart{Type: "file", File: &filePayload{Filename: doc.Name, FileData: dataURL}}
	}
	return []contentPart{filePart, {Type: "text", Text: prompt}}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	File     *filePayload `json:"file,omitempty"`
	ImageURL *imageURL    `json:"image_url,omitempty"`
}

type filePayload struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
