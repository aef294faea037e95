package notify

import (
	"context"
	"fmt"
	"time"
)

// Operator alert event types. These are the names the notify.events config
// list refers to; the subscription filter decides which of them actually
// reach a channel.
const (
	EventFeedDown         = "feed_down"
	EventFeedRestored     = "feed_restored"
	EventLedgerFailure    = "ledger_failure"
	EventOracleDark       = "oracle_dark"
	EventArchiveCompleted = "archive_completed"
)

// Alerts wraps a Notifier with the engine's operator notifications. Each
// method formats one well-known degradation or milestone; the lifecycle events
// users see flow through the signal bus, not here.
type Alerts struct {
	n *Notifier
}

// NewAlerts creates an Alerts facade over the given Notifier.
func NewAlerts(n *Notifier) *Alerts {
	return &Alerts{n: n}
}

// FeedDown reports that the streaming price feed gave up reconnecting and the
// engine is running on the polling fallback.
func (a *Alerts) FeedDown(ctx context.Context, attempts int) {
	_ = a.n.Notify(ctx, EventFeedDown, "Price feed down",
		fmt.Sprintf("Streaming feed gave up after %d reconnect attempts; serving prices from the REST fallback.", attempts))
}

// FeedRestored reports that the streaming price feed reconnected.
func (a *Alerts) FeedRestored(ctx context.Context) {
	_ = a.n.Notify(ctx, EventFeedRestored, "Price feed restored",
		"Streaming feed reconnected; live ticks are flowing again.")
}

// LedgerFailure reports a failed balance credit that was queued for retry.
func (a *Alerts) LedgerFailure(ctx context.Context, betID, userID, amount string) {
	_ = a.n.Notify(ctx, EventLedgerFailure, "Ledger credit failed",
		fmt.Sprintf("Credit of %s for user %s (bet %s) failed and was queued for out-of-band retry.", amount, userID, betID))
}

// OracleDark reports a settlement that had to fall back to the locked price.
func (a *Alerts) OracleDark(ctx context.Context, betID string) {
	_ = a.n.Notify(ctx, EventOracleDark, "Oracle dark at settlement",
		fmt.Sprintf("Bet %s settled as a draw because no final price was available.", betID))
}

// ArchiveCompleted reports a finished cold-storage archive run.
func (a *Alerts) ArchiveCompleted(ctx context.Context, count int, path string, took time.Duration) {
	_ = a.n.Notify(ctx, EventArchiveCompleted, "Archive run completed",
		fmt.Sprintf("Archived %d settled bets to %s in %s.", count, path, took.Round(time.Millisecond)))
}
