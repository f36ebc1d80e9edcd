package notifier

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"
)

// EmailConfig 邮件配置。
type EmailConfig struct {
	Host     string `mapstructure:"host" yaml:"host" json:"host"`
	Port     int    `mapstructure:"port" yaml:"port" json:"port"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"password"`
	From     string `mapstructure:"from" yaml:"from" json:"from"`
	Subject  string `mapstructure:"subject" yaml:"subject" json:"subject"`
}

// Enabled 判断 SMTP 配置是否完整。
func (c EmailConfig) Enabled() bool {
	return c.Host != "" && c.Port != 0 && c.From != ""
}

// EmailMessage 表示一封邮件。
type EmailMessage struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// EmailSender 抽象发送接口，便于测试替换。
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// SMTPClient 封装 SMTP 发送。
type SMTPClient struct {
	addr string
	auth smtp.Auth
}

func NewSMTPClient(cfg EmailConfig) *SMTPClient {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPClient{addr: addr, auth: auth}
}

func (c *SMTPClient) Send(ctx context.Context, msg EmailMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return smtp.SendMail(c.addr, c.auth, msg.From, msg.To, []byte(buildEmailData(msg, time.Now())))
}

// EmailNotifier 将通知以邮件发给指定地址。
type EmailNotifier struct {
	cfg    EmailConfig
	sender EmailSender
}

// NewEmailNotifier 创建 EmailNotifier，sender 为空时使用 SMTP。
func NewEmailNotifier(cfg EmailConfig, sender EmailSender) *EmailNotifier {
	if sender == nil {
		sender = NewSMTPClient(cfg)
	}
	if cfg.Subject == "" {
		cfg.Subject = "[talent-radar]"
	}
	return &EmailNotifier{cfg: cfg, sender: sender}
}

// Send 发送通知到 to。
func (n *EmailNotifier) Send(ctx context.Context, to string, msg Message) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("send email: empty recipient address")
	}
	err := n.sender.Send(ctx, EmailMessage{
		From:    n.cfg.From,
		To:      []string{to},
		Subject: strings.TrimSpace(n.cfg.Subject + " " + msg.Title),
		Body:    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// buildEmailData 生成 RFC 5322 报文：主题按 RFC 2047 编码，正文统一为 CRLF 换行。
func buildEmailData(msg EmailMessage, now time.Time) string {
	headers := [][2]string{
		{"From", msg.From},
		{"To", strings.Join(msg.To, ", ")},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", now.Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=utf-8"},
		{"Content-Transfer-Encoding", "8bit"},
	}
	var b strings.Builder
	for _, h := range headers {
		b.WriteString(h[0] + ": " + h[1] + "\r\n")
	}
	b.WriteString("\r\n")
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.String()
}
