package notifier

import "context"

// Level 通知级别。
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
)

const (
	ChannelEmail = "email"
	ChannelLog   = "log"
)

// Message 一条结构化通知。
type Message struct {
	Title string
	Body  string
	Level Level
}

// Notifier 在处理事务之外投递通知；recipientID 为空时走默认渠道。
type Notifier interface {
	Notify(ctx context.Context, recipientID *uint, msg Message) error
}
