package fetcher

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"talent-radar/internal/apperr"
	"talent-radar/internal/document"
	"talent-radar/internal/logger"

	"go.uber.org/zap"
)

// Config 定义抓取配置。
type Config struct {
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes" yaml:"max_bytes" json:"max_bytes"`
}

// DocumentFetcher 按 URL 下载职位描述或简历。
type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (document.Payload, error)
}

// HTTPFetcher 通过 HTTP GET 下载文档。
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

// NewHTTPFetcher 创建抓取器，client 为空时按配置超时新建。
func NewHTTPFetcher(cfg Config, client *http.Client, log *zap.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPFetcher{client: client, maxBytes: cfg.MaxBytes, logger: logger.OrNop(log)}
}

// Fetch 下载 rawURL，返回带 MIME 类型的文档。
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (document.Payload, error) {
	const op = "fetcher.fetch"
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return document.Payload{}, apperr.New(apperr.KindInvalidInput, op, fmt.Sprintf("invalid document url %q", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return document.Payload{}, fmt.Errorf("new request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return document.Payload{}, apperr.Wrap(apperr.KindExternalService, op, fmt.Errorf("http get: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return document.Payload{}, apperr.New(apperr.KindExternalService, op, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return document.Payload{}, apperr.Wrap(apperr.KindExternalService, op, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > f.maxBytes {
		return document.Payload{}, apperr.New(apperr.KindInvalidInput, op, fmt.Sprintf("document exceeds %d bytes", f.maxBytes))
	}

	payload := document.Payload{
		Name:     fileName(resp, u),
		MIMEType: document.DetectMIME(resp.Header.Get("Content-Type"), body),
		Data:     body,
	}
	f.logger.Debug("document fetched",
		zap.String("url", u.String()),
		zap.String("mime", payload.MIMEType),
		zap.Int("bytes", len(body)),
	)
	return payload, nil
}

func fileName(resp *http.Response, u *url.URL) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}
	if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
		return base
	}
	return u.Host
}
