package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DiscordSender pushes alerts to a Discord channel through a webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordMessage struct {
	Content string `json:"content"`
}

// Send delivers the alert as one webhook message with the title bolded.
// Discord answers 204 No Content on success.
func (d *DiscordSender) Send(ctx context.Context, title, body string) error {
	msg := discordMessage{Content: fmt.Sprintf("**%s**\n%s", title, body)}
	if err := postJSON(ctx, d.client, d.webhookURL, msg); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name identifies the channel.
func (d *DiscordSender) Name() string { return "discord" }
