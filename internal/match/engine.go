// Package match pairs pending bets with an opponent: another pending bet with
// compatible terms, or the automated counterparty on policy or timeout.
package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/sched"
)

// Releaser frees a bet's price lock when matchmaking cancels the bet.
type Releaser interface {
	ReleaseLock(ctx context.Context, betID string) error
}

// poolEntry is one pending bet waiting in the pool. claimed flips inside the
// pool mutex so membership and "claimed" are a single atomically-checked
// condition.
type poolEntry struct {
	bet     domain.Bet
	claimed bool
}

// Engine owns the matchmaking pool. All pool access goes through one mutex;
// claiming a candidate and removing a bet (explicit cancel) are mutually
// exclusive for the same bet.
type Engine struct {
	store    domain.BetStore
	policies domain.PolicyStore
	oracle   Releaser
	bus      domain.SignalBus
	sched    *sched.Scheduler
	logger   *slog.Logger

	mu    sync.Mutex
	pool  map[domain.PoolKey][]*poolEntry // FIFO per compatibility key
	index map[string]*poolEntry

	matches   chan domain.MatchResult
	done      chan struct{}
	closeOnce sync.Once
}

// NewEngine creates a matchmaking engine.
func NewEngine(store domain.BetStore, policies domain.PolicyStore, oracle Releaser, bus domain.SignalBus, scheduler *sched.Scheduler, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		policies: policies,
		oracle:   oracle,
		bus:      bus,
		sched:    scheduler,
		logger:   logger.With(slog.String("component", "match")),
		pool:     make(map[domain.PoolKey][]*poolEntry),
		index:    make(map[string]*poolEntry),
		matches:  make(chan domain.MatchResult, 64),
		done:     make(chan struct{}),
	}
}

// Matches delivers one result per formed pairing. The settlement engine is
// started from this channel so matching and settlement stay decoupled.
func (e *Engine) Matches() <-chan domain.MatchResult {
	return e.matches
}

// Submit resolves an opponent for a freshly created PENDING bet. Depending on
// policy it pairs immediately with the automated counterparty, pairs with a
// compatible pooled peer, or enqueues the bet and arms the fallback timer.
func (e *Engine) Submit(ctx context.Context, bet domain.Bet) error {
	policy, err := e.policies.Policy(ctx)
	if err != nil {
		return fmt.Errorf("match: read policy: %w", err)
	}

	if !policy.MatchmakingEnabled || policy.Mode == domain.MatchModeHouseBot {
		return e.pairHouseBot(ctx, bet)
	}

	for {
		peer, found := e.claimOrEnqueue(bet)
		if !found {
			e.sched.After(fallbackTaskID(bet.ID), policy.FallbackTimeout, func() {
				e.fallback(context.Background(), bet.ID, policy.HouseBotFallbackEnabled)
			})
			return nil
		}
		if err := e.pairPeers(ctx, bet, peer); err != nil {
			if errors.Is(err, domain.ErrStateConflict) {
				// The candidate left PENDING between pool claim and
				// store transition; it is already out of the pool, so
				// keep searching.
				e.logger.WarnContext(ctx, "stale pool candidate skipped",
					slog.String("bet_id", bet.ID),
					slog.String("candidate_id", peer.ID),
				)
				continue
			}
			return err
		}
		return nil
	}
}

// Remove takes a bet out of the pool before it is matched, cancelling its
// fallback timer. It returns ErrPoolConflict when the bet is not present —
// typically because a concurrent match attempt already claimed it — in which
// case the caller must not treat the bet as cancellable.
func (e *Engine) Remove(ctx context.Context, betID string) error {
	e.mu.Lock()
	ent, ok := e.index[betID]
	if !ok || ent.claimed {
		e.mu.Unlock()
		return fmt.Errorf("match: remove bet %s: %w", betID, domain.ErrPoolConflict)
	}
	ent.claimed = true
	e.evictLocked(ent)
	e.mu.Unlock()

	e.sched.Cancel(fallbackTaskID(betID))
	return nil
}

// PoolSize returns the number of bets currently waiting. Used by health.
func (e *Engine) PoolSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.index)
}

// Close releases any blocked emitters. Call only after all submitters stopped.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}

// claimOrEnqueue either claims the earliest compatible pending bet from the
// pool or, when none exists, enqueues the bet. The search and the enqueue are
// one critical section: of two concurrent compatible submissions, one must see
// the other in the pool.
func (e *Engine) claimOrEnqueue(bet domain.Bet) (domain.Bet, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := bet.PoolKey()
	for _, ent := range e.pool[key] {
		if ent.claimed || ent.bet.OwnerID == bet.OwnerID {
			continue
		}
		ent.claimed = true
		e.evictLocked(ent)
		return ent.bet, true
	}

	ent := &poolEntry{bet: bet}
	e.pool[key] = append(e.pool[key], ent)
	e.index[bet.ID] = ent
	return domain.Bet{}, false
}

// evictLocked removes an entry from the pool and index. Caller holds e.mu.
func (e *Engine) evictLocked(ent *poolEntry) {
	key := ent.bet.PoolKey()
	q := e.pool[key]
	for i, cur := range q {
		if cur == ent {
			e.pool[key] = append(q[:i:i], q[i+1:]...)
			break
		}
	}
	if len(e.pool[key]) == 0 {
		delete(e.pool, key)
	}
	delete(e.index, ent.bet.ID)
}

// pairHouseBot pairs a bet with the automated counterparty synchronously. No
// timer is created on this path.
func (e *Engine) pairHouseBot(ctx context.Context, bet domain.Bet) error {
	if err := e.store.MarkMatched(ctx, bet.ID, domain.HouseBotID, ""); err != nil {
		return fmt.Errorf("match: pair bet %s with house bot: %w", bet.ID, err)
	}
	e.publishMatched(ctx, bet, domain.HouseBotID)
	e.emit(ctx, domain.MatchResult{BetID: bet.ID, HouseBot: true, MatchedAt: time.Now().UTC()})

	e.logger.InfoContext(ctx, "bet matched with house bot", slog.String("bet_id", bet.ID))
	return nil
}

// pairPeers transitions both sides PENDING -> MATCHED and cancels the
// candidate's fallback timer. The candidate is already claimed and out of the
// pool when this runs.
func (e *Engine) pairPeers(ctx context.Context, bet, peer domain.Bet) error {
	if err := e.store.MarkMatched(ctx, peer.ID, bet.OwnerID, bet.ID); err != nil {
		return fmt.Errorf("match: pair candidate %s: %w", peer.ID, err)
	}
	e.sched.Cancel(fallbackTaskID(peer.ID))

	if err := e.store.MarkMatched(ctx, bet.ID, peer.OwnerID, peer.ID); err != nil {
		return fmt.Errorf("match: pair bet %s: %w", bet.ID, err)
	}

	e.publishMatched(ctx, bet, peer.OwnerID)
	e.publishMatched(ctx, peer, bet.OwnerID)
	e.emit(ctx, domain.MatchResult{BetID: bet.ID, PeerBetID: peer.ID, MatchedAt: time.Now().UTC()})

	e.logger.InfoContext(ctx, "bets paired",
		slog.String("bet_id", bet.ID),
		slog.String("peer_bet_id", peer.ID),
	)
	return nil
}

// fallback fires when the fallback timer expires. If the bet is still pooled
// it is paired with the house bot or cancelled, per policy.
func (e *Engine) fallback(ctx context.Context, betID string, houseBotEnabled bool) {
	e.mu.Lock()
	ent, ok := e.index[betID]
	if !ok || ent.claimed {
		// A peer arrived or the bet was cancelled before the timer fired.
		e.mu.Unlock()
		return
	}
	ent.claimed = true
	e.evictLocked(ent)
	e.mu.Unlock()

	bet := ent.bet
	if houseBotEnabled {
		if err := e.pairHouseBot(ctx, bet); err != nil {
			e.logger.ErrorContext(ctx, "house bot fallback failed",
				slog.String("bet_id", betID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if err := e.store.Cancel(ctx, betID, "no match found"); err != nil {
		e.logger.ErrorContext(ctx, "fallback cancel failed",
			slog.String("bet_id", betID),
			slog.String("error", err.Error()),
		)
		return
	}
	if e.oracle != nil {
		if err := e.oracle.ReleaseLock(ctx, betID); err != nil {
			e.logger.WarnContext(ctx, "lock release failed",
				slog.String("bet_id", betID),
				slog.String("error", err.Error()),
			)
		}
	}
	e.publish(ctx, domain.BetEvent{
		Event:  domain.EventBetCancelled,
		BetID:  betID,
		Users:  []string{bet.OwnerID},
		Status: domain.BetStatusCancelled,
		Reason: "no match found",
		At:     time.Now().UTC(),
	})
	e.logger.InfoContext(ctx, "bet cancelled, no match found", slog.String("bet_id", betID))
}

func (e *Engine) publishMatched(ctx context.Context, bet domain.Bet, opponentID string) {
	users := []string{bet.OwnerID}
	if opponentID != domain.HouseBotID {
		users = append(users, opponentID)
	}
	e.publish(ctx, domain.BetEvent{
		Event:      domain.EventBetMatched,
		BetID:      bet.ID,
		Users:      users,
		Symbol:     bet.Symbol,
		Status:     domain.BetStatusMatched,
		OpponentID: opponentID,
		At:         time.Now().UTC(),
	})
}

func (e *Engine) publish(ctx context.Context, evt domain.BetEvent) {
	payload, _ := json.Marshal(evt)
	if err := e.bus.Publish(ctx, domain.ChannelBets, payload); err != nil {
		e.logger.WarnContext(ctx, "event publish failed",
			slog.String("event", evt.Event),
			slog.String("bet_id", evt.BetID),
			slog.String("error", err.Error()),
		)
	}
}

// emit hands the pairing to the settlement consumer. The store already says
// MATCHED, so the result must not be dropped: without it no countdown is ever
// armed. The send blocks until the consumer takes it; a pairing stranded by
// shutdown is re-armed by the startup sweep.
func (e *Engine) emit(ctx context.Context, res domain.MatchResult) {
	select {
	case e.matches <- res:
	case <-e.done:
	case <-ctx.Done():
		e.logger.ErrorContext(ctx, "match result undelivered, context cancelled",
			slog.String("bet_id", res.BetID),
		)
	}
}

func fallbackTaskID(betID string) string {
	return "match:" + betID
}
