// Package notify pushes operator alerts to chat channels. Only
// engine-degrading conditions travel through here (feed loss, failed ledger
// credits, settlements with no oracle data); the lifecycle events players see
// flow over the signal bus instead.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Sender delivers one formatted alert to a single channel.
type Sender interface {
	Send(ctx context.Context, title, body string) error

	// Name identifies the channel in logs and combined errors.
	Name() string
}

// Notifier fans an alert out to every configured channel, filtered by the
// operator's subscribed event set.
type Notifier struct {
	senders    []Sender
	subscribed map[string]bool
	logger     *slog.Logger
}

// NewNotifier creates a Notifier over the given channels. events names the
// alert types the operator wants delivered; an empty list subscribes to all
// of them.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	subscribed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			subscribed[e] = true
		}
	}
	return &Notifier{
		senders:    senders,
		subscribed: subscribed,
		logger:     logger.With(slog.String("component", "notify")),
	}
}

// Notify delivers the alert to every channel when the event is subscribed.
// Channel failures are joined, so one dead webhook never hides the others.
func (n *Notifier) Notify(ctx context.Context, event, title, body string) error {
	if len(n.subscribed) > 0 && !n.subscribed[event] {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, body); err != nil {
			n.logger.ErrorContext(ctx, "alert delivery failed",
				slog.String("channel", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "alert delivered",
			slog.String("channel", s.Name()),
			slog.String("event", event),
		)
	}
	return errors.Join(errs...)
}

// postJSON is the shared HTTP push used by the webhook-style senders.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
