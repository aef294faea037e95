package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/store/memory"
)

type fakeWriter struct {
	puts map[string][]byte
	err  error
}

func (w *fakeWriter) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	if w.puts == nil {
		w.puts = make(map[string][]byte)
	}
	w.puts[path] = b
	return nil
}

func seedTerminalBet(t *testing.T, store *memory.BetStore, id string, finishedAgo time.Duration) {
	t.Helper()
	ctx := context.Background()
	bet := domain.Bet{
		ID:              id,
		OwnerID:         "alice",
		Symbol:          "BTCUSDT",
		Direction:       domain.DirectionUp,
		Stake:           decimal.NewFromInt(100),
		AssetUnit:       "USDT",
		DurationSeconds: 30,
		LockedPrice:     65000,
		LockedAt:        time.Now().Add(-finishedAgo),
		Status:          domain.BetStatusPending,
	}
	if err := store.Create(ctx, bet); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Cancel(ctx, id, "seed"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// Backdate the terminal transition so retention logic sees it as old.
	store.SetUpdatedAt(id, time.Now().Add(-finishedAgo))
}

func TestArchiverMovesOldTerminalBets(t *testing.T) {
	store := memory.NewBetStore()
	seedTerminalBet(t, store, "old-1", 48*time.Hour)
	seedTerminalBet(t, store, "old-2", 72*time.Hour)
	seedTerminalBet(t, store, "fresh", time.Hour)

	w := &fakeWriter{}
	a := NewArchiver(ArchiverConfig{Retention: 24 * time.Hour}, w, store, memory.NewAuditStore(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 2 {
		t.Fatalf("archived %d bets, want 2", n)
	}

	if len(w.puts) != 1 {
		t.Fatalf("uploads = %d, want 1", len(w.puts))
	}
	for _, data := range w.puts {
		lines := 0
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			var rec map[string]any
			if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
				t.Fatalf("invalid JSONL line: %v", err)
			}
			lines++
		}
		if lines != 2 {
			t.Errorf("JSONL lines = %d, want 2", lines)
		}
	}

	ctx := context.Background()
	if _, err := store.GetByID(ctx, "old-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Error("old-1 still in primary store after archive")
	}
	if _, err := store.GetByID(ctx, "fresh"); err != nil {
		t.Errorf("fresh bet was purged: %v", err)
	}
}

func TestArchiverKeepsRowsOnUploadFailure(t *testing.T) {
	store := memory.NewBetStore()
	seedTerminalBet(t, store, "old-1", 48*time.Hour)

	w := &fakeWriter{err: errors.New("bucket unavailable")}
	a := NewArchiver(ArchiverConfig{Retention: 24 * time.Hour}, w, store, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := a.Run(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
	if _, err := store.GetByID(context.Background(), "old-1"); err != nil {
		t.Errorf("bet purged despite failed upload: %v", err)
	}
}

func TestArchiverNoopWhenNothingEligible(t *testing.T) {
	store := memory.NewBetStore()
	seedTerminalBet(t, store, "fresh", time.Hour)

	w := &fakeWriter{}
	a := NewArchiver(ArchiverConfig{Retention: 24 * time.Hour}, w, store, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 0 || len(w.puts) != 0 {
		t.Errorf("archived %d bets with %d uploads, want none", n, len(w.puts))
	}
}
