package recipient

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"talent-radar/internal/apperr"
	"talent-radar/internal/model"
	"talent-radar/internal/notifier"
)

// Store 定义持久化接口。
type Store interface {
	CreateRecipient(ctx context.Context, r *model.Recipient) error
}

// Config 控制可用渠道。
type Config struct {
	AllowedChannels []string `mapstructure:"allowed_channels" yaml:"allowed_channels" json:"allowed_channels"`
}

// Request 登记接收人的请求。
type Request struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Channel string `json:"channel"`
}

// Service 负责校验与写入通知接收人。
type Service struct {
	store    Store
	channels map[string]struct{}
}

// NewService 创建服务，未配置渠道时只允许 email 与 log。
func NewService(store Store, cfg Config) *Service {
	channels := make(map[string]struct{})
	for _, ch := range cfg.AllowedChannels {
		if trimmed := strings.ToLower(strings.TrimSpace(ch)); trimmed != "" {
			channels[trimmed] = struct{}{}
		}
	}
	if len(channels) == 0 {
		channels[notifier.ChannelEmail] = struct{}{}
		channels[notifier.ChannelLog] = struct{}{}
	}
	return &Service{store: store, channels: channels}
}

// Create 校验请求并写入数据库。email 渠道要求合法地址。
func (s *Service) Create(ctx context.Context, req Request) (model.Recipient, error) {
	const op = "recipient.create"

	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	if channel == "" {
		channel = notifier.ChannelEmail
	}
	if _, ok := s.channels[channel]; !ok {
		return model.Recipient{}, apperr.New(apperr.KindInvalidInput, op, fmt.Sprintf("unsupported channel %s", channel))
	}

	email := strings.TrimSpace(req.Email)
	if email == "" && channel == notifier.ChannelEmail {
		return model.Recipient{}, apperr.New(apperr.KindInvalidInput, op, "email required")
	}
	name := strings.TrimSpace(req.Name)
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			return model.Recipient{}, apperr.Wrap(apperr.KindInvalidInput, op, fmt.Errorf("invalid email: %w", err))
		}
		email = addr.Address
		if name == "" {
			name = addr.Name
		}
	}

	r := model.Recipient{Name: name, Email: email, Channel: channel}
	if err := s.store.CreateRecipient(ctx, &r); err != nil {
		return model.Recipient{}, apperr.Wrap(apperr.KindPersistence, op, err)
	}
	return r, nil
}
