package notifier

import (
	"context"
	"fmt"
	"strings"

	"talent-radar/internal/logger"
	"talent-radar/internal/model"

	"go.uber.org/zap"
)

// RecipientStore 读取接收人。
type RecipientStore interface {
	GetRecipient(ctx context.Context, id uint) (*model.Recipient, error)
}

// Dispatcher 按接收人渠道投递通知，无法投递时退回日志。
type Dispatcher struct {
	store    RecipientStore
	email    *EmailNotifier
	fallback *LogNotifier
	logger   *zap.Logger
}

// NewDispatcher 创建分发器；email 为 nil 表示未启用邮件。
func NewDispatcher(store RecipientStore, email *EmailNotifier, log *zap.Logger) *Dispatcher {
	log = logger.OrNop(log)
	return &Dispatcher{store: store, email: email, fallback: NewLogNotifier(log), logger: log}
}

// Notify 投递消息。接收人不存在或邮件失败时仍写日志，并返回原因。
func (d *Dispatcher) Notify(ctx context.Context, recipientID *uint, msg Message) error {
	if recipientID == nil || d.store == nil {
		return d.fallback.Notify(ctx, recipientID, msg)
	}

	recipient, err := d.store.GetRecipient(ctx, *recipientID)
	if err != nil {
		_ = d.fallback.Notify(ctx, recipientID, msg)
		return fmt.Errorf("get recipient %d: %w", *recipientID, err)
	}

	switch strings.ToLower(strings.TrimSpace(recipient.Channel)) {
	case ChannelEmail, "":
		if d.email == nil {
			d.logger.Debug("email disabled, logging notification", zap.Uint("recipient_id", recipient.ID))
			return d.fallback.Notify(ctx, recipientID, msg)
		}
		if err := d.email.Send(ctx, recipient.Email, msg); err != nil {
			_ = d.fallback.Notify(ctx, recipientID, msg)
			return err
		}
		return nil
	default:
		return d.fallback.Notify(ctx, recipientID, msg)
	}
}
