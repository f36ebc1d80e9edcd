package notifier

import (
	"context"

	"talent-radar/internal/logger"

	"go.uber.org/zap"
)

// LogNotifier 仅写日志，适合开发阶段或未配置邮件时使用。
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier 创建日志通知器。
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.OrNop(log).Named("notify")}
}

// Notify 按级别写出通知。
func (n *LogNotifier) Notify(_ context.Context, recipientID *uint, msg Message) error {
	fields := []zap.Field{zap.String("title", msg.Title), zap.String("body", msg.Body)}
	if recipientID != nil {
		fields = append(fields, zap.Uint("recipient_id", *recipientID))
	}
	if msg.Level == LevelWarning {
		n.logger.Warn("notification", fields...)
		return nil
	}
	n.logger.Info("notification", fields...)
	return nil
}
