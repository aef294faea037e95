package settle

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
	"github.com/updownlabs/updown/internal/sched"
	"github.com/updownlabs/updown/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubOracle struct {
	mu       sync.Mutex
	price    float64
	priceErr error
	released []string
}

func (o *stubOracle) LatestPrice(ctx context.Context, symbol string) (domain.PricePoint, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.priceErr != nil {
		return domain.PricePoint{}, o.priceErr
	}
	return domain.PricePoint{Price: o.price, At: time.Now()}, nil
}

func (o *stubOracle) ReleaseLock(ctx context.Context, betID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released = append(o.released, betID)
	return nil
}

type credit struct {
	userID string
	amount decimal.Decimal
	ref    string
}

type recordingLedger struct {
	mu      sync.Mutex
	credits []credit
	err     error
}

func (l *recordingLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal, assetUnit, ref string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.credits = append(l.credits, credit{userID: userID, amount: amount, ref: ref})
	return nil
}

func (l *recordingLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal, assetUnit, ref string) error {
	return nil
}

func (l *recordingLedger) creditsFor(userID string) []credit {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []credit
	for _, c := range l.credits {
		if c.userID == userID {
			out = append(out, c)
		}
	}
	return out
}

type heldClaims struct{}

func (heldClaims) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type testEnv struct {
	store  *memory.BetStore
	oracle *stubOracle
	ledger *recordingLedger
	bus    *memory.SignalBus
	audit  *memory.AuditStore
	sched  *sched.Scheduler
	engine *Engine
}

func newTestEnv(t *testing.T, finalPrice float64) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  memory.NewBetStore(),
		oracle: &stubOracle{price: finalPrice},
		ledger: &recordingLedger{},
		bus:    memory.NewSignalBus(),
		audit:  memory.NewAuditStore(),
		sched:  sched.New(testLogger()),
	}
	t.Cleanup(env.sched.Close)
	env.engine = NewEngine(Config{}, env.store, env.oracle, env.ledger, env.bus, env.audit, nil, env.sched, testLogger())
	return env
}

// seedPair creates two IN_PROGRESS bets paired against each other.
func (env *testEnv) seedPair(t *testing.T, lockedPrice float64, stake int64) (a, b domain.Bet) {
	t.Helper()
	ctx := context.Background()
	a = domain.Bet{
		ID: "bet-a", OwnerID: "alice",
		Symbol: "BTCUSDT", Direction: domain.DirectionUp,
		Stake: decimal.NewFromInt(stake), AssetUnit: "USDT",
		DurationSeconds: 30, LockedPrice: lockedPrice,
		Status: domain.BetStatusPending,
	}
	b = domain.Bet{
		ID: "bet-b", OwnerID: "bob",
		Symbol: "BTCUSDT", Direction: domain.DirectionDown,
		Stake: decimal.NewFromInt(stake), AssetUnit: "USDT",
		DurationSeconds: 30, LockedPrice: lockedPrice,
		Status: domain.BetStatusPending,
	}
	for _, bet := range []domain.Bet{a, b} {
		if err := env.store.Create(ctx, bet); err != nil {
			t.Fatalf("seed create: %v", err)
		}
	}
	if err := env.store.MarkMatched(ctx, a.ID, b.OwnerID, b.ID); err != nil {
		t.Fatalf("seed match a: %v", err)
	}
	if err := env.store.MarkMatched(ctx, b.ID, a.OwnerID, a.ID); err != nil {
		t.Fatalf("seed match b: %v", err)
	}
	if err := env.store.MarkInProgress(ctx, a.ID); err != nil {
		t.Fatalf("seed in progress a: %v", err)
	}
	if err := env.store.MarkInProgress(ctx, b.ID); err != nil {
		t.Fatalf("seed in progress b: %v", err)
	}
	return a, b
}

// seedHouseBotBet creates one IN_PROGRESS bet paired with the automated
// counterparty.
func (env *testEnv) seedHouseBotBet(t *testing.T, lockedPrice float64, stake int64) domain.Bet {
	t.Helper()
	ctx := context.Background()
	bet := domain.Bet{
		ID: "bet-solo", OwnerID: "alice",
		Symbol: "BTCUSDT", Direction: domain.DirectionUp,
		Stake: decimal.NewFromInt(stake), AssetUnit: "USDT",
		DurationSeconds: 30, LockedPrice: lockedPrice,
		Status: domain.BetStatusPending,
	}
	if err := env.store.Create(ctx, bet); err != nil {
		t.Fatalf("seed create: %v", err)
	}
	if err := env.store.MarkMatched(ctx, bet.ID, domain.HouseBotID, ""); err != nil {
		t.Fatalf("seed match: %v", err)
	}
	if err := env.store.MarkInProgress(ctx, bet.ID); err != nil {
		t.Fatalf("seed in progress: %v", err)
	}
	return bet
}

func TestCompleteSettlesBothSidesFromOneComputation(t *testing.T) {
	env := newTestEnv(t, 110)
	a, b := env.seedPair(t, 100, 100)
	ctx := context.Background()

	settled, err := env.engine.Complete(ctx, a.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if settled.Result != domain.BetResultWin {
		t.Fatalf("winner result = %s, want WIN", settled.Result)
	}
	if !settled.Payout.Equal(decimal.NewFromInt(190)) {
		t.Errorf("winner payout = %s, want 190", settled.Payout)
	}
	if !settled.Fee.Equal(decimal.NewFromInt(10)) {
		t.Errorf("winner fee = %s, want 10", settled.Fee)
	}

	peer, err := env.store.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("reload peer: %v", err)
	}
	if peer.Status != domain.BetStatusCompleted {
		t.Fatalf("peer status = %s, want COMPLETED", peer.Status)
	}
	if peer.Result != domain.BetResultLoss {
		t.Errorf("peer result = %s, want LOSS", peer.Result)
	}
	if !peer.Payout.IsZero() || !peer.Fee.IsZero() {
		t.Errorf("loser payout/fee = %s/%s, want 0/0", peer.Payout, peer.Fee)
	}

	if got := env.ledger.creditsFor("alice"); len(got) != 1 || !got[0].amount.Equal(decimal.NewFromInt(190)) {
		t.Errorf("alice credits = %+v, want one credit of 190", got)
	}
	if got := env.ledger.creditsFor("bob"); len(got) != 0 {
		t.Errorf("bob credits = %+v, want none", got)
	}
	if len(env.oracle.released) != 2 {
		t.Errorf("released locks = %v, want both sides", env.oracle.released)
	}
}

func TestCompleteDrawRefundsBothStakes(t *testing.T) {
	env := newTestEnv(t, 100)
	a, b := env.seedPair(t, 100, 100)
	ctx := context.Background()

	settled, err := env.engine.Complete(ctx, a.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if settled.Result != domain.BetResultDraw {
		t.Fatalf("result = %s, want DRAW", settled.Result)
	}
	if !settled.Fee.IsZero() {
		t.Errorf("draw fee = %s, want 0", settled.Fee)
	}

	peer, _ := env.store.GetByID(ctx, b.ID)
	if peer.Result != domain.BetResultDraw {
		t.Errorf("peer result = %s, want DRAW", peer.Result)
	}

	stake := decimal.NewFromInt(100)
	if got := env.ledger.creditsFor("alice"); len(got) != 1 || !got[0].amount.Equal(stake) {
		t.Errorf("alice credits = %+v, want stake refund", got)
	}
	if got := env.ledger.creditsFor("bob"); len(got) != 1 || !got[0].amount.Equal(stake) {
		t.Errorf("bob credits = %+v, want stake refund", got)
	}
}

func TestCompleteOracleDarkForcesDraw(t *testing.T) {
	env := newTestEnv(t, 0)
	env.oracle.priceErr = domain.ErrNoPrice
	a, _ := env.seedPair(t, 100, 100)

	settled, err := env.engine.Complete(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if settled.Result != domain.BetResultDraw {
		t.Fatalf("result = %s, want DRAW when oracle is dark", settled.Result)
	}
	if settled.FinalPrice != 100 {
		t.Errorf("final price = %v, want locked price 100", settled.FinalPrice)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t, 110)
	a, _ := env.seedPair(t, 100, 100)
	ctx := context.Background()

	first, err := env.engine.Complete(ctx, a.ID)
	if err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	second, err := env.engine.Complete(ctx, a.ID)
	if err != nil {
		t.Fatalf("second Complete: %v", err)
	}

	if second.Result != first.Result || !second.Payout.Equal(first.Payout) {
		t.Errorf("second settlement differs: %s/%s vs %s/%s",
			second.Result, second.Payout, first.Result, first.Payout)
	}
	if got := env.ledger.creditsFor("alice"); len(got) != 1 {
		t.Errorf("alice credited %d times, want exactly once", len(got))
	}
}

func TestCompleteHouseBotGetsNoCredit(t *testing.T) {
	env := newTestEnv(t, 90)
	bet := env.seedHouseBotBet(t, 100, 100)
	ctx := context.Background()

	settled, err := env.engine.Complete(ctx, bet.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// Player bet UP and the price fell: the house side won, but the house
	// never receives a ledger credit.
	if settled.Result != domain.BetResultLoss {
		t.Fatalf("result = %s, want LOSS", settled.Result)
	}
	if len(env.ledger.credits) != 0 {
		t.Errorf("credits = %+v, want none", env.ledger.credits)
	}
}

func TestCompleteRejectsNonInProgress(t *testing.T) {
	env := newTestEnv(t, 110)
	ctx := context.Background()

	bet := domain.Bet{
		ID: "bet-pending", OwnerID: "alice",
		Symbol: "BTCUSDT", Direction: domain.DirectionUp,
		Stake: decimal.NewFromInt(100), AssetUnit: "USDT",
		DurationSeconds: 30, LockedPrice: 100,
		Status: domain.BetStatusPending,
	}
	if err := env.store.Create(ctx, bet); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := env.engine.Complete(ctx, bet.ID); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("Complete on PENDING = %v, want ErrStateConflict", err)
	}
	if len(env.ledger.credits) != 0 {
		t.Errorf("credits = %+v, want none", env.ledger.credits)
	}
}

func TestCompleteBlockedByHeldClaim(t *testing.T) {
	env := newTestEnv(t, 110)
	a, _ := env.seedPair(t, 100, 100)

	claimed := NewEngine(Config{}, env.store, env.oracle, env.ledger, env.bus, env.audit, heldClaims{}, env.sched, testLogger())

	if _, err := claimed.Complete(context.Background(), a.ID); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("Complete with held claim = %v, want ErrLockHeld", err)
	}
	if len(env.ledger.credits) != 0 {
		t.Errorf("credits = %+v, want none while claim held", env.ledger.credits)
	}
}

func TestCompleteQueuesFailedCredits(t *testing.T) {
	env := newTestEnv(t, 110)
	env.ledger.err = errors.New("ledger unavailable")
	a, _ := env.seedPair(t, 100, 100)
	ctx := context.Background()

	settled, err := env.engine.Complete(ctx, a.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if settled.Status != domain.BetStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED despite credit failure", settled.Status)
	}
	if env.bus.StreamLen(domain.LedgerFailureStream) != 1 {
		t.Errorf("ledger failure stream length = %d, want 1", env.bus.StreamLen(domain.LedgerFailureStream))
	}

	found := false
	for _, e := range env.audit.Events() {
		if e == "settlement.credit_failed" {
			found = true
		}
	}
	if !found {
		t.Errorf("audit events = %v, want settlement.credit_failed", env.audit.Events())
	}
}

func TestStartArmsCountdownAndCompletionCancelsIt(t *testing.T) {
	env := newTestEnv(t, 110)
	ctx := context.Background()

	a := domain.Bet{
		ID: "bet-a", OwnerID: "alice",
		Symbol: "BTCUSDT", Direction: domain.DirectionUp,
		Stake: decimal.NewFromInt(100), AssetUnit: "USDT",
		DurationSeconds: 30, LockedPrice: 100,
		Status: domain.BetStatusPending,
	}
	b := a
	b.ID, b.OwnerID, b.Direction = "bet-b", "bob", domain.DirectionDown
	for _, bet := range []domain.Bet{a, b} {
		if err := env.store.Create(ctx, bet); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := env.store.MarkMatched(ctx, a.ID, b.OwnerID, b.ID); err != nil {
		t.Fatalf("match: %v", err)
	}
	if err := env.store.MarkMatched(ctx, b.ID, a.OwnerID, a.ID); err != nil {
		t.Fatalf("match: %v", err)
	}

	if err := env.engine.Start(ctx, a.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, _ := env.store.GetByID(ctx, a.ID)
	if got.Status != domain.BetStatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", got.Status)
	}
	peer, _ := env.store.GetByID(ctx, b.ID)
	if peer.Status != domain.BetStatusInProgress {
		t.Fatalf("peer status = %s, want IN_PROGRESS", peer.Status)
	}
	if !env.sched.Active("settle:" + a.ID) {
		t.Fatal("settlement timer not armed")
	}
	if !env.sched.Active("countdown:" + a.ID) {
		t.Fatal("countdown ticker not armed")
	}

	if _, err := env.engine.Complete(ctx, a.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if env.sched.Active("settle:" + a.ID) {
		t.Error("settlement timer still armed after completion")
	}
	if env.sched.Active("countdown:" + a.ID) {
		t.Error("countdown ticker still armed after completion")
	}
}

func TestResumeReArmsInProgressBet(t *testing.T) {
	env := newTestEnv(t, 110)
	a, _ := env.seedPair(t, 100, 100)

	if err := env.engine.Resume(context.Background(), a.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !env.sched.Active("settle:" + a.ID) {
		t.Error("settlement task not re-armed")
	}
	if !env.sched.Active("countdown:" + a.ID) {
		t.Error("countdown task not re-armed")
	}

	// Completion still tears the resumed tasks down.
	if _, err := env.engine.Complete(context.Background(), a.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if env.sched.Active("settle:"+a.ID) || env.sched.Active("countdown:"+a.ID) {
		t.Error("tasks survive completion")
	}
}

func TestResumeSettlesOverdueAfterGrace(t *testing.T) {
	env := newTestEnv(t, 110)
	a, b := env.seedPair(t, 100, 100)
	env.store.SetUpdatedAt(a.ID, time.Now().Add(-time.Hour))

	eng := NewEngine(Config{ResumeGrace: 20 * time.Millisecond},
		env.store, env.oracle, env.ledger, env.bus, env.audit, nil, env.sched, testLogger())
	if err := eng.Resume(context.Background(), a.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if env.sched.Active("countdown:" + a.ID) {
		t.Error("countdown armed for an already-elapsed window")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := env.store.GetByID(context.Background(), a.ID)
		if err == nil && got.Status == domain.BetStatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("overdue bet never settled after resume")
		}
		time.Sleep(5 * time.Millisecond)
	}
	peer, _ := env.store.GetByID(context.Background(), b.ID)
	if peer.Status != domain.BetStatusCompleted {
		t.Errorf("peer status = %s, want COMPLETED", peer.Status)
	}
}

func TestResumeRejectsNonInProgress(t *testing.T) {
	env := newTestEnv(t, 110)
	bet := domain.Bet{
		ID: "bet-1", OwnerID: "alice",
		Symbol: "BTCUSDT", Direction: domain.DirectionUp,
		Stake: decimal.NewFromInt(100), AssetUnit: "USDT",
		DurationSeconds: 30, LockedPrice: 100,
		Status: domain.BetStatusPending,
	}
	if err := env.store.Create(context.Background(), bet); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.engine.Resume(context.Background(), bet.ID); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("Resume on PENDING = %v, want ErrStateConflict", err)
	}
}
