package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStream struct {
	ticks     chan domain.PriceTick
	connected bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ticks: make(chan domain.PriceTick, 16), connected: true}
}

func (s *fakeStream) Ticks() <-chan domain.PriceTick { return s.ticks }
func (s *fakeStream) Connected() bool                { return s.connected }

type fakePoller struct {
	mu      sync.Mutex
	price   float64
	err     error
	fetches []string
}

func (p *fakePoller) FetchPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches = append(p.fetches, symbol)
	if p.err != nil {
		return 0, time.Time{}, p.err
	}
	return p.price, time.Now().UTC(), nil
}

func (p *fakePoller) fetched() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.fetches...)
}

func newTestAdapter(cfg Config) (*Adapter, *memory.LockStore) {
	locks := memory.NewLockStore()
	a := New(cfg, nil, nil, locks, nil, nil, testLogger())
	return a, locks
}

// feed pushes a tick straight through the apply path, as the Run loop would.
func feed(a *Adapter, symbol string, price float64, at time.Time) {
	a.apply(context.Background(), domain.PriceTick{Symbol: symbol, Price: price, At: at})
}

func TestLatestPriceColdCache(t *testing.T) {
	a, _ := newTestAdapter(Config{})

	_, err := a.LatestPrice(context.Background(), "BTCUSDT")
	if !errors.Is(err, domain.ErrNoPrice) {
		t.Fatalf("LatestPrice on cold cache = %v, want ErrNoPrice", err)
	}
}

func TestLatestPriceServesStaleWithTimestamp(t *testing.T) {
	a, _ := newTestAdapter(Config{FreshFor: time.Second})
	old := time.Now().Add(-time.Minute)
	feed(a, "BTCUSDT", 50000, old)

	pt, err := a.LatestPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if pt.Price != 50000 {
		t.Errorf("price = %v, want 50000", pt.Price)
	}
	// Stale values are served as-is; the caller judges age from the
	// observation timestamp.
	if pt.Age(time.Now()) < time.Second {
		t.Errorf("age = %v, expected the stale observation time", pt.Age(time.Now()))
	}
}

func TestLatestPriceTriggersRefreshOnStale(t *testing.T) {
	a, _ := newTestAdapter(Config{FreshFor: time.Millisecond})
	feed(a, "BTCUSDT", 50000, time.Now().Add(-time.Second))

	if _, err := a.LatestPrice(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}

	select {
	case symbol := <-a.refreshCh:
		if symbol != "BTCUSDT" {
			t.Errorf("refresh request for %q, want BTCUSDT", symbol)
		}
	default:
		t.Fatal("no refresh queued for a stale read")
	}
}

func TestTickOverwritesCachedPrice(t *testing.T) {
	a, _ := newTestAdapter(Config{})
	feed(a, "ETHUSDT", 3000, time.Now())
	feed(a, "ETHUSDT", 3100, time.Now())

	pt, err := a.LatestPrice(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if pt.Price != 3100 {
		t.Errorf("price = %v, want the newest tick 3100", pt.Price)
	}
}

func TestLockPriceFreezesSnapshot(t *testing.T) {
	a, _ := newTestAdapter(Config{LockTTL: time.Minute})
	ctx := context.Background()
	feed(a, "BTCUSDT", 50000, time.Now())

	lock, err := a.LockPrice(ctx, "BTCUSDT", "bet-1")
	if err != nil {
		t.Fatalf("LockPrice: %v", err)
	}
	if lock.Price != 50000 || lock.BetID != "bet-1" {
		t.Fatalf("lock = %+v", lock)
	}

	// Later ticks must not move the locked snapshot.
	feed(a, "BTCUSDT", 60000, time.Now())
	got, err := a.GetLockedPrice(ctx, "bet-1")
	if err != nil {
		t.Fatalf("GetLockedPrice: %v", err)
	}
	if got.Price != 50000 {
		t.Errorf("locked price = %v, want the frozen 50000", got.Price)
	}
}

func TestLockPriceColdCacheFails(t *testing.T) {
	a, _ := newTestAdapter(Config{})

	_, err := a.LockPrice(context.Background(), "BTCUSDT", "bet-1")
	if !errors.Is(err, domain.ErrNoPrice) {
		t.Fatalf("LockPrice on cold cache = %v, want ErrNoPrice", err)
	}
}

func TestGetLockedPriceLazilyDeletesExpired(t *testing.T) {
	a, locks := newTestAdapter(Config{LockTTL: time.Minute})
	ctx := context.Background()

	expired := domain.LockedPrice{
		BetID:     "bet-1",
		Symbol:    "BTCUSDT",
		Price:     50000,
		LockedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	if err := locks.Put(ctx, expired); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	_, err := a.GetLockedPrice(ctx, "bet-1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetLockedPrice on expired lock = %v, want ErrNotFound", err)
	}
	if _, err := locks.Get(ctx, "bet-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expired lock still stored after lazy delete")
	}
}

func TestReleaseLockIsIdempotent(t *testing.T) {
	a, _ := newTestAdapter(Config{LockTTL: time.Minute})
	ctx := context.Background()
	feed(a, "BTCUSDT", 50000, time.Now())

	if _, err := a.LockPrice(ctx, "BTCUSDT", "bet-1"); err != nil {
		t.Fatalf("LockPrice: %v", err)
	}
	if err := a.ReleaseLock(ctx, "bet-1"); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	if err := a.ReleaseLock(ctx, "bet-1"); err != nil {
		t.Fatalf("second ReleaseLock: %v", err)
	}
	if _, err := a.GetLockedPrice(ctx, "bet-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("lock survives release: %v", err)
	}
}

func TestRunIngestsStreamTicks(t *testing.T) {
	stream := newFakeStream()
	locks := memory.NewLockStore()
	a := New(Config{Symbols: []string{"BTCUSDT"}}, stream, nil, locks, nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	stream.ticks <- domain.PriceTick{Symbol: "BTCUSDT", Price: 50000, At: time.Now()}

	deadline := time.Now().Add(2 * time.Second)
	for {
		pt, err := a.LatestPrice(ctx, "BTCUSDT")
		if err == nil && pt.Price == 50000 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tick never applied: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestRunPollsWhileStreamDown(t *testing.T) {
	stream := newFakeStream()
	stream.connected = false
	poller := &fakePoller{price: 48000}
	locks := memory.NewLockStore()
	a := New(Config{
		Symbols:   []string{"BTCUSDT"},
		PollEvery: 20 * time.Millisecond,
	}, stream, poller, locks, nil, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		pt, err := a.LatestPrice(ctx, "BTCUSDT")
		if err == nil && pt.Price == 48000 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("poll fallback never populated the cache: %v (fetches %v)", err, poller.fetched())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestRunSweepsExpiredLocks(t *testing.T) {
	locks := memory.NewLockStore()
	a := New(Config{SweepEvery: 20 * time.Millisecond}, nil, nil, locks, nil, nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	expired := domain.LockedPrice{
		BetID:     "bet-old",
		Symbol:    "BTCUSDT",
		Price:     50000,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	live := domain.LockedPrice{
		BetID:     "bet-live",
		Symbol:    "BTCUSDT",
		Price:     50000,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	_ = locks.Put(ctx, expired)
	_ = locks.Put(ctx, live)

	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := locks.Get(ctx, "bet-old"); errors.Is(err, domain.ErrNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired lock never swept")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := locks.Get(ctx, "bet-live"); err != nil {
		t.Errorf("live lock swept: %v", err)
	}

	cancel()
	<-done
}
