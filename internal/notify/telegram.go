package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender pushes alerts to a Telegram chat through the bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send delivers the alert as one Markdown message with the title bolded.
func (t *TelegramSender) Send(ctx context.Context, title, body string) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      fmt.Sprintf("*%s*\n%s", title, body),
		ParseMode: "Markdown",
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPI, t.token)
	if err := postJSON(ctx, t.client, url, msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name identifies the channel.
func (t *TelegramSender) Name() string { return "telegram" }
