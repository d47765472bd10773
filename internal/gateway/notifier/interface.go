package notifier

import "context"

// TextNotifier 发送一条纯文本通知。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}
