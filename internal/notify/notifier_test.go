package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (s *recordingSender) Send(ctx context.Context, title, body string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifyFiltersUnsubscribedEvents(t *testing.T) {
	ctx := context.Background()
	sender := &recordingSender{name: "chat"}
	n := NewNotifier([]Sender{sender}, []string{EventFeedDown, EventLedgerFailure}, testLogger())

	if err := n.Notify(ctx, EventOracleDark, "dark", "x"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := n.Notify(ctx, EventFeedDown, "down", "x"); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(sender.titles) != 1 || sender.titles[0] != "down" {
		t.Fatalf("delivered = %v, want only the subscribed event", sender.titles)
	}
}

func TestNotifyEmptySubscriptionDeliversEverything(t *testing.T) {
	sender := &recordingSender{name: "chat"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	if err := n.Notify(context.Background(), EventOracleDark, "dark", "x"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.titles) != 1 {
		t.Fatalf("delivered = %v, want the event", sender.titles)
	}
}

func TestNotifyDeliversPastFailedChannel(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("webhook gone")}
	working := &recordingSender{name: "working"}
	n := NewNotifier([]Sender{broken, working}, nil, testLogger())

	err := n.Notify(context.Background(), EventFeedDown, "down", "x")
	if err == nil {
		t.Fatal("expected the broken channel's error")
	}
	if len(working.titles) != 1 {
		t.Fatalf("working channel got %v, want the alert despite the broken one", working.titles)
	}
}

func TestAlertEventsMatchConfiguredNames(t *testing.T) {
	// The notify.events config list is matched against these exact strings;
	// a drifted name silently mutes the alert.
	sender := &recordingSender{name: "chat"}
	n := NewNotifier([]Sender{sender},
		[]string{"feed_down", "feed_restored", "ledger_failure", "oracle_dark"}, testLogger())
	alerts := NewAlerts(n)

	ctx := context.Background()
	alerts.FeedDown(ctx, 10)
	alerts.FeedRestored(ctx)
	alerts.LedgerFailure(ctx, "bet-1", "alice", "190 USDT")
	alerts.OracleDark(ctx, "bet-1")

	if len(sender.titles) != 4 {
		t.Fatalf("delivered %d alerts, want all 4 subscribed ones", len(sender.titles))
	}
}
