package transport

import "context"

// ChatTarget identifies where a notification goes.
// Username (e.g. "@mychannel") wins over ChatID when both are set.
type ChatTarget struct {
	ChatID   int64
	Username string
	ThreadID int // telegram forum topic thread id (0 if none)
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 && t.Username == "" }

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type Notification struct {
	Channel  string // "telegram" now
	Priority int    // 0 low .. 10 high
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

// Adapter is the outbound messaging surface.
type Adapter interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	Stop(ctx context.Context) error
}
