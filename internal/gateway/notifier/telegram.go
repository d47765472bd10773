package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// Telegram 将实盘成交 / 平仓 / 错误推送到指定群或频道。
type Telegram struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Client   *http.Client
	Retries  int
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: strings.TrimSpace(botToken),
		ChatID:   strings.TrimSpace(chatID),
		BaseURL:  defaultTelegramBaseURL,
		Client:   &http.Client{Timeout: 15 * time.Second},
		Retries:  3,
	}
}

// SendText 发送 Markdown 文本，失败时按 1s,2s... 退避重试。
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("Telegram 配置不完整")
	}
	base := strings.TrimRight(t.BaseURL, "/")
	if base == "" {
		base = defaultTelegramBaseURL
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	retries := t.Retries
	if retries <= 0 {
		retries = 1
	}
	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * time.Second):
			}
		}
		lastErr = t.post(ctx, url, body)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (t *Telegram) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	return nil
}
