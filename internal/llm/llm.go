package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"talent-radar/internal/apperr"
	"talent-radar/internal/logger"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	ExtractModeManual = "manual_send"
	ExtractModeOff    = "no_send"
)

// Config 文本理解服务配置。凭据与模型缺失不阻止启动，但会在每次运行前置检查时报错。
type Config struct {
	Provider          string        `mapstructure:"provider" yaml:"provider" json:"provider"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	Model             string        `mapstructure:"model" yaml:"model" json:"model"`
	APIBase           string        `mapstructure:"api_base" yaml:"api_base" json:"api_base"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	ExtractMode       string        `mapstructure:"extract_mode" yaml:"extract_mode" json:"extract_mode"`
}

// Validate 运行前置检查，返回 configuration 类错误。
func (c Config) Validate() error {
	const op = "llm.validate"
	if strings.EqualFold(strings.TrimSpace(c.ExtractMode), ExtractModeOff) {
		return apperr.New(apperr.KindConfiguration, op, "extraction is disabled (extract_mode=no_send)")
	}
	switch c.provider() {
	case ProviderGemini, ProviderOpenAI:
	default:
		return apperr.New(apperr.KindConfiguration, op, fmt.Sprintf("unsupported provider %q", c.Provider))
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return apperr.New(apperr.KindConfiguration, op, "api key is not configured")
	}
	if strings.TrimSpace(c.Model) == "" {
		return apperr.New(apperr.KindConfiguration, op, "model is not configured")
	}
	return nil
}

func (c Config) provider() string {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	if p == "" {
		return ProviderGemini
	}
	return p
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 120 * time.Second
	}
	return c.Timeout
}

// Document 随请求发送的文件。
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Request 一次调用：指令模板、可选文档、期望输出结构。
type Request struct {
	Operation   string
	Instruction string
	Prompt      string
	Document    *Document
	Shape       string
}

// Client 文本理解服务，返回原始文本，由调用方负责解析。
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
	Validate() error
}

// New 按配置构造客户端；配置不完整时返回一个在调用时报告配置错误的客户端。
func New(ctx context.Context, cfg Config, log *zap.Logger) Client {
	log = logger.WithFields(log, logger.CommonFields(cfg.provider(), cfg.Model)...)
	if err := cfg.Validate(); err != nil {
		log.Warn("text-understanding service not configured", zap.Error(err))
		return unconfigured{err: err}
	}

	var (
		client Client
		err    error
	)
	switch cfg.provider() {
	case ProviderOpenAI:
		client = NewOpenAIClient(cfg, nil, log)
	default:
		client, err = NewGeminiClient(ctx, cfg, log)
	}
	if err != nil {
		return unconfigured{err: apperr.Wrap(apperr.KindConfiguration, "llm.new", err)}
	}
	if cfg.RequestsPerMinute > 0 {
		client = WithRateLimit(client, cfg.RequestsPerMinute)
	}
	return client
}

type unconfigured struct {
	err error
}

func (u unconfigured) Validate() error { return u.err }

func (u unconfigured) Generate(context.Context, Request) (string, error) { return "", u.err }

type limited struct {
	Client
	limiter *rate.Limiter
}

// WithRateLimit 限制每分钟调用次数。
func WithRateLimit(c Client, perMinute int) Client {
	if perMinute <= 0 {
		return c
	}
	return &limited{Client: c, limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)}
}

func (l *limited) Generate(ctx context.Context, req Request) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", apperr.Wrap(apperr.KindExternalService, "llm.rate_limit", err)
	}
	return l.Client.Generate(ctx, req)
}

// composePrompt 将期望输出结构附加在提示词后。
func composePrompt(req Request) string {
	prompt := strings.TrimSpace(req.Prompt)
	if shape := strings.TrimSpace(req.Shape); shape != "" {
		prompt += "\n\nRespond with a single JSON object matching this JSON schema:\n" + shape
	}
	return prompt
}
