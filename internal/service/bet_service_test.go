package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubOracle struct {
	mu       sync.Mutex
	price    domain.PricePoint
	priceErr error
	locks    map[string]domain.LockedPrice
	released []string
}

func newStubOracle(price float64) *stubOracle {
	return &stubOracle{
		price: domain.PricePoint{Price: price, At: time.Now()},
		locks: make(map[string]domain.LockedPrice),
	}
}

func (o *stubOracle) LatestPrice(ctx context.Context, symbol string) (domain.PricePoint, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.priceErr != nil {
		return domain.PricePoint{}, o.priceErr
	}
	return o.price, nil
}

func (o *stubOracle) LockPrice(ctx context.Context, symbol, betID string) (domain.LockedPrice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.priceErr != nil {
		return domain.LockedPrice{}, o.priceErr
	}
	lock := domain.LockedPrice{
		BetID:    betID,
		Symbol:   symbol,
		Price:    o.price.Price,
		LockedAt: time.Now().UTC(),
	}
	o.locks[betID] = lock
	return lock, nil
}

func (o *stubOracle) ReleaseLock(ctx context.Context, betID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.locks, betID)
	o.released = append(o.released, betID)
	return nil
}

type stubMatcher struct {
	mu        sync.Mutex
	submitted []domain.Bet
	removed   []string
	removeErr error
}

func (m *stubMatcher) Submit(ctx context.Context, bet domain.Bet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, bet)
	return nil
}

func (m *stubMatcher) Remove(ctx context.Context, betID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, betID)
	return m.removeErr
}

func newTestService(t *testing.T, o *stubOracle, m *stubMatcher) (*BetService, *memory.BetStore, *memory.SignalBus) {
	t.Helper()
	store := memory.NewBetStore()
	bus := memory.NewSignalBus()
	policies := memory.NewPolicyStore(
		domain.MatchPolicy{MatchmakingEnabled: true, Mode: domain.MatchModeP2P},
		[]domain.StakeBounds{{
			AssetUnit: "USDT",
			Min:       decimal.NewFromInt(1),
			Max:       decimal.NewFromInt(1000),
		}},
	)
	svc := NewBetService(Config{
		SupportedSymbols: []string{"BTCUSDT", "ETHUSDT"},
		MaxPriceAge:      30 * time.Second,
	}, store, o, m, policies, bus, testLogger())
	return svc, store, bus
}

func validRequest() CreateBetRequest {
	return CreateBetRequest{
		OwnerID:         "alice",
		Symbol:          "btcusdt",
		Direction:       "UP",
		Stake:           "100",
		AssetUnit:       "USDT",
		DurationSeconds: 30,
	}
}

func TestCreateLocksPriceAndSubmits(t *testing.T) {
	o := newStubOracle(65000)
	m := &stubMatcher{}
	svc, store, _ := newTestService(t, o, m)

	bet, err := svc.Create(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if bet.Symbol != "BTCUSDT" {
		t.Errorf("symbol not normalized: %q", bet.Symbol)
	}
	if bet.Status != domain.BetStatusPending {
		t.Errorf("status = %s, want PENDING", bet.Status)
	}
	if bet.LockedPrice != 65000 {
		t.Errorf("locked price = %v, want 65000", bet.LockedPrice)
	}
	if _, ok := o.locks[bet.ID]; !ok {
		t.Error("no price lock recorded for bet")
	}
	if len(m.submitted) != 1 || m.submitted[0].ID != bet.ID {
		t.Errorf("matcher submissions = %+v, want the created bet", m.submitted)
	}
	if _, err := store.GetByID(context.Background(), bet.ID); err != nil {
		t.Errorf("bet not persisted: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateBetRequest)
	}{
		{"missing owner", func(r *CreateBetRequest) { r.OwnerID = "" }},
		{"bad direction", func(r *CreateBetRequest) { r.Direction = "SIDEWAYS" }},
		{"duration too short", func(r *CreateBetRequest) { r.DurationSeconds = 3 }},
		{"duration too long", func(r *CreateBetRequest) { r.DurationSeconds = 90 }},
		{"unsupported symbol", func(r *CreateBetRequest) { r.Symbol = "DOGEUSDT" }},
		{"zero stake", func(r *CreateBetRequest) { r.Stake = "0" }},
		{"negative stake", func(r *CreateBetRequest) { r.Stake = "-5" }},
		{"non-numeric stake", func(r *CreateBetRequest) { r.Stake = "lots" }},
		{"stake above bounds", func(r *CreateBetRequest) { r.Stake = "5000" }},
		{"stake below bounds", func(r *CreateBetRequest) { r.Stake = "0.5" }},
		{"unsupported asset", func(r *CreateBetRequest) { r.AssetUnit = "EUR" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newStubOracle(65000)
			m := &stubMatcher{}
			svc, _, _ := newTestService(t, o, m)

			req := validRequest()
			tt.mutate(&req)
			_, err := svc.Create(context.Background(), req)
			if !errors.Is(err, domain.ErrInvalidBet) {
				t.Fatalf("err = %v, want ErrInvalidBet", err)
			}
			if len(m.submitted) != 0 {
				t.Error("invalid request reached the matcher")
			}
		})
	}
}

func TestCreateRejectsStalePrice(t *testing.T) {
	o := newStubOracle(65000)
	o.price.At = time.Now().Add(-2 * time.Minute)
	m := &stubMatcher{}
	svc, _, _ := newTestService(t, o, m)

	_, err := svc.Create(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrStalePrice) {
		t.Fatalf("err = %v, want ErrStalePrice", err)
	}
}

func TestCreateRejectsColdOracle(t *testing.T) {
	o := newStubOracle(0)
	o.priceErr = domain.ErrNoPrice
	m := &stubMatcher{}
	svc, _, _ := newTestService(t, o, m)

	_, err := svc.Create(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrStalePrice) {
		t.Fatalf("err = %v, want ErrStalePrice", err)
	}
}

func TestCancelPending(t *testing.T) {
	o := newStubOracle(65000)
	m := &stubMatcher{}
	svc, store, _ := newTestService(t, o, m)

	bet, err := svc.Create(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Cancel(context.Background(), bet.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := store.GetByID(context.Background(), bet.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.BetStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
	if len(m.removed) != 1 || m.removed[0] != bet.ID {
		t.Errorf("pool removals = %v, want [%s]", m.removed, bet.ID)
	}
	if len(o.released) != 1 || o.released[0] != bet.ID {
		t.Errorf("released locks = %v, want [%s]", o.released, bet.ID)
	}
}

func TestCancelToleratesPoolMiss(t *testing.T) {
	o := newStubOracle(65000)
	m := &stubMatcher{removeErr: domain.ErrPoolConflict}
	svc, _, _ := newTestService(t, o, m)

	bet, err := svc.Create(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Cancel(context.Background(), bet.ID); err != nil {
		t.Fatalf("Cancel with pool miss: %v", err)
	}
}

func TestCancelRejectsMatchedBet(t *testing.T) {
	o := newStubOracle(65000)
	m := &stubMatcher{}
	svc, store, _ := newTestService(t, o, m)

	bet, err := svc.Create(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.MarkMatched(context.Background(), bet.ID, "bob", "peer-1"); err != nil {
		t.Fatalf("MarkMatched: %v", err)
	}

	err = svc.Cancel(context.Background(), bet.ID)
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
	if len(m.removed) != 0 {
		t.Error("rejected cancel still touched the pool")
	}
	if len(o.released) != 0 {
		t.Error("rejected cancel released the price lock")
	}
}

func TestListByOwner(t *testing.T) {
	o := newStubOracle(65000)
	m := &stubMatcher{}
	svc, _, _ := newTestService(t, o, m)

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(context.Background(), validRequest()); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	req := validRequest()
	req.OwnerID = "bob"
	if _, err := svc.Create(context.Background(), req); err != nil {
		t.Fatalf("Create: %v", err)
	}

	bets, err := svc.ListByOwner(context.Background(), "alice", domain.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(bets) != 3 {
		t.Fatalf("got %d bets for alice, want 3", len(bets))
	}
	for _, b := range bets {
		if b.OwnerID != "alice" {
			t.Errorf("bet %s owner = %s, want alice", b.ID, b.OwnerID)
		}
	}
}
