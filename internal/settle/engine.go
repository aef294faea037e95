// Package settle drives the bet lifecycle state machine from MATCHED to a
// terminal state. Every transition is a check-and-set against the bet store;
// racing settlement attempts resolve to exactly one financial effect.
package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/sched"
)

// Oracle is the price surface the settlement engine consumes.
type Oracle interface {
	LatestPrice(ctx context.Context, symbol string) (domain.PricePoint, error)
	ReleaseLock(ctx context.Context, betID string) error
}

// Config holds settlement parameters.
type Config struct {
	// FeeRate is the fraction of the pot charged on decided outcomes.
	FeeRate decimal.Decimal

	// CountdownEvery is the cadence of game.countdown notifications. These
	// are UX only and carry no correctness weight.
	CountdownEvery time.Duration

	// ClaimTTL bounds the cross-instance settlement claim.
	ClaimTTL time.Duration

	// ResumeGrace delays settlement of bets already past their window when
	// they are resumed after a restart, so the price feed can warm up
	// before the final price is read.
	ResumeGrace time.Duration
}

func (c *Config) defaults() {
	if c.FeeRate.IsZero() {
		c.FeeRate = DefaultFeeRate
	}
	if c.CountdownEvery <= 0 {
		c.CountdownEvery = time.Second
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 30 * time.Second
	}
	if c.ResumeGrace <= 0 {
		c.ResumeGrace = 5 * time.Second
	}
}

// Engine arms settlement countdowns and settles pairings.
type Engine struct {
	cfg    Config
	store  domain.BetStore
	oracle Oracle
	ledger domain.BalanceLedger
	bus    domain.SignalBus
	audit  domain.AuditStore
	claims domain.LockManager // optional, for multi-instance deployments
	sched  *sched.Scheduler
	logger *slog.Logger
}

// NewEngine creates a settlement engine. claims may be nil when a single
// instance owns all settlements.
func NewEngine(cfg Config, store domain.BetStore, oracle Oracle, ledger domain.BalanceLedger, bus domain.SignalBus, audit domain.AuditStore, claims domain.LockManager, scheduler *sched.Scheduler, logger *slog.Logger) *Engine {
	cfg.defaults()
	return &Engine{
		cfg:    cfg,
		store:  store,
		oracle: oracle,
		ledger: ledger,
		bus:    bus,
		audit:  audit,
		claims: claims,
		sched:  scheduler,
		logger: logger.With(slog.String("component", "settle")),
	}
}

// Start moves a matched pairing into IN_PROGRESS and arms its settlement
// countdown. Valid only from MATCHED.
func (e *Engine) Start(ctx context.Context, betID string) error {
	bet, err := e.store.GetByID(ctx, betID)
	if err != nil {
		return fmt.Errorf("settle: start bet %s: %w", betID, err)
	}
	if err := e.store.MarkInProgress(ctx, bet.ID); err != nil {
		return fmt.Errorf("settle: start bet %s: %w", betID, err)
	}
	if bet.PeerBetID != "" {
		if err := e.store.MarkInProgress(ctx, bet.PeerBetID); err != nil && !errors.Is(err, domain.ErrStateConflict) {
			return fmt.Errorf("settle: start peer bet %s: %w", bet.PeerBetID, err)
		}
	}

	duration := time.Duration(bet.DurationSeconds) * time.Second
	deadline := time.Now().Add(duration)
	e.arm(bet, deadline, duration)

	if e.audit != nil {
		_ = e.audit.Log(ctx, "game.started", map[string]any{
			"bet_id":           bet.ID,
			"peer_bet_id":      bet.PeerBetID,
			"duration_seconds": bet.DurationSeconds,
		})
	}
	e.logger.InfoContext(ctx, "countdown armed",
		slog.String("bet_id", bet.ID),
		slog.Int("duration_seconds", bet.DurationSeconds),
	)
	return nil
}

// Resume re-arms settlement for a bet that is already IN_PROGRESS, as after a
// process restart. The window is measured from the IN_PROGRESS transition; a
// window that already elapsed settles after the resume grace instead of
// immediately.
func (e *Engine) Resume(ctx context.Context, betID string) error {
	bet, err := e.store.GetByID(ctx, betID)
	if err != nil {
		return fmt.Errorf("settle: resume bet %s: %w", betID, err)
	}
	if bet.Status != domain.BetStatusInProgress {
		return fmt.Errorf("settle: resume bet %s in %s: %w", betID, bet.Status, domain.ErrStateConflict)
	}

	duration := time.Duration(bet.DurationSeconds) * time.Second
	deadline := bet.UpdatedAt.Add(duration)
	fireIn := time.Until(deadline)
	if fireIn < e.cfg.ResumeGrace {
		fireIn = e.cfg.ResumeGrace
	}
	e.arm(bet, deadline, fireIn)

	e.logger.InfoContext(ctx, "settlement resumed",
		slog.String("bet_id", bet.ID),
		slog.Duration("fire_in", fireIn),
	)
	return nil
}

// arm registers the countdown and settlement tasks for one bet. The countdown
// is skipped for a deadline already in the past.
func (e *Engine) arm(bet domain.Bet, deadline time.Time, fireIn time.Duration) {
	users := e.pairingUsers(bet)
	if time.Until(deadline) > 0 {
		e.sched.Every(countdownTaskID(bet.ID), e.cfg.CountdownEvery, deadline, func(remaining time.Duration) {
			e.publish(context.Background(), domain.BetEvent{
				Event:            domain.EventCountdown,
				BetID:            bet.ID,
				Users:            users,
				Symbol:           bet.Symbol,
				RemainingSeconds: int(remaining.Round(time.Second) / time.Second),
				At:               time.Now().UTC(),
			})
		})
	}
	e.sched.After(settleTaskID(bet.ID), fireIn, func() {
		if _, err := e.Complete(context.Background(), bet.ID); err != nil {
			e.logger.Error("timer settlement failed",
				slog.String("bet_id", bet.ID),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Complete settles a bet and its paired side from one computation. It is
// idempotent: a call against an already-COMPLETED bet performs no effects and
// returns the stored result unchanged. Valid only from IN_PROGRESS otherwise.
func (e *Engine) Complete(ctx context.Context, betID string) (domain.Bet, error) {
	bet, err := e.store.GetByID(ctx, betID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("settle: complete bet %s: %w", betID, err)
	}
	if bet.Status == domain.BetStatusCompleted {
		return bet, nil
	}
	if bet.Status != domain.BetStatusInProgress {
		return domain.Bet{}, fmt.Errorf("settle: complete bet %s in %s: %w", betID, bet.Status, domain.ErrStateConflict)
	}

	if e.claims != nil {
		release, err := e.claims.Acquire(ctx, claimKey(bet), e.cfg.ClaimTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				// Another instance is settling this pairing right now.
				return domain.Bet{}, fmt.Errorf("settle: complete bet %s: %w", betID, err)
			}
			return domain.Bet{}, fmt.Errorf("settle: claim bet %s: %w", betID, err)
		}
		defer release()
	}

	// Read the final price once. If the oracle has nothing at all, fall back
	// to each side's locked price, which forces a draw: every bet must reach
	// a terminal state.
	now := time.Now().UTC()
	pt, priceErr := e.oracle.LatestPrice(ctx, bet.Symbol)
	oracleDark := priceErr != nil
	finalFor := func(b domain.Bet) float64 {
		if oracleDark {
			return b.LockedPrice
		}
		return pt.Price
	}
	if oracleDark {
		e.logger.WarnContext(ctx, "oracle dark at settlement, forcing draw",
			slog.String("bet_id", betID),
			slog.String("error", priceErr.Error()),
		)
	}

	settlement := Compute(bet, finalFor(bet), e.cfg.FeeRate, now)
	if err := e.store.Complete(ctx, bet.ID, settlement); err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			// Lost the race: the first settler owns the financial effect.
			cur, getErr := e.store.GetByID(ctx, betID)
			if getErr == nil && cur.Status == domain.BetStatusCompleted {
				return cur, nil
			}
		}
		return domain.Bet{}, fmt.Errorf("settle: commit bet %s: %w", betID, err)
	}

	e.sched.Cancel(settleTaskID(bet.ID))
	e.sched.Cancel(countdownTaskID(bet.ID))

	e.finishSide(ctx, bet, settlement)

	// Mirror the other side of the pairing from the same computation.
	if bet.PeerBetID != "" {
		peer, err := e.store.GetByID(ctx, bet.PeerBetID)
		if err != nil {
			e.logger.ErrorContext(ctx, "peer bet missing at settlement",
				slog.String("bet_id", betID),
				slog.String("peer_bet_id", bet.PeerBetID),
				slog.String("error", err.Error()),
			)
		} else if peer.Status != domain.BetStatusCompleted {
			peerSettlement := ComputeMirror(peer, settlement.Result, finalFor(peer), e.cfg.FeeRate, now)
			if err := e.store.Complete(ctx, peer.ID, peerSettlement); err != nil {
				e.logger.ErrorContext(ctx, "peer settlement commit failed",
					slog.String("peer_bet_id", peer.ID),
					slog.String("error", err.Error()),
				)
			} else {
				e.sched.Cancel(settleTaskID(peer.ID))
				e.sched.Cancel(countdownTaskID(peer.ID))
				peer.Payout = peerSettlement.Payout
				peer.Fee = peerSettlement.Fee
				peer.Result = peerSettlement.Result
				peer.FinalPrice = peerSettlement.FinalPrice
				e.finishSide(ctx, peer, peerSettlement)
			}
		}
	}

	settled, err := e.store.GetByID(ctx, betID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("settle: reload bet %s: %w", betID, err)
	}
	return settled, nil
}

// finishSide applies the post-commit effects for one settled side: the
// balance credit, lock release, completion event, and audit entry. The state
// transition is already durable; a failed credit is reported and queued for
// out-of-band retry, never re-settled.
func (e *Engine) finishSide(ctx context.Context, bet domain.Bet, s domain.Settlement) {
	if s.Payout.IsPositive() && bet.OwnerID != domain.HouseBotID {
		ref := "settlement:" + bet.ID
		if err := e.ledger.Credit(ctx, bet.OwnerID, s.Payout, bet.AssetUnit, ref); err != nil {
			e.logger.ErrorContext(ctx, "balance credit failed",
				slog.String("bet_id", bet.ID),
				slog.String("user_id", bet.OwnerID),
				slog.String("payout", s.Payout.String()),
				slog.String("error", err.Error()),
			)
			failure, _ := json.Marshal(map[string]any{
				"bet_id":     bet.ID,
				"user_id":    bet.OwnerID,
				"amount":     s.Payout.String(),
				"asset_unit": bet.AssetUnit,
				"ref":        ref,
				"error":      err.Error(),
			})
			if busErr := e.bus.StreamAppend(ctx, domain.LedgerFailureStream, failure); busErr != nil {
				e.logger.ErrorContext(ctx, "ledger failure enqueue failed",
					slog.String("bet_id", bet.ID),
					slog.String("error", busErr.Error()),
				)
			}
			if e.audit != nil {
				_ = e.audit.Log(ctx, "settlement.credit_failed", map[string]any{
					"bet_id": bet.ID, "user_id": bet.OwnerID, "ref": ref,
				})
			}
		}
	}

	if err := e.oracle.ReleaseLock(ctx, bet.ID); err != nil {
		e.logger.WarnContext(ctx, "lock release failed",
			slog.String("bet_id", bet.ID),
			slog.String("error", err.Error()),
		)
	}

	if bet.OwnerID != domain.HouseBotID {
		e.publish(ctx, domain.BetEvent{
			Event:      domain.EventGameCompleted,
			BetID:      bet.ID,
			Users:      []string{bet.OwnerID},
			Symbol:     bet.Symbol,
			Status:     domain.BetStatusCompleted,
			Result:     s.Result,
			FinalPrice: s.FinalPrice,
			Payout:     s.Payout.String(),
			Fee:        s.Fee.String(),
			At:         s.FinalizedAt,
		})
	}
	if e.audit != nil {
		_ = e.audit.Log(ctx, "game.completed", map[string]any{
			"bet_id":      bet.ID,
			"result":      string(s.Result),
			"final_price": s.FinalPrice,
			"payout":      s.Payout.String(),
			"fee":         s.Fee.String(),
		})
	}
}

// pairingUsers returns the human identities on both sides of a pairing.
func (e *Engine) pairingUsers(bet domain.Bet) []string {
	users := []string{bet.OwnerID}
	if bet.OpponentID != "" && bet.OpponentID != domain.HouseBotID {
		users = append(users, bet.OpponentID)
	}
	return users
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

// claimKey derives a stable cross-instance claim key for a pairing. Both
// sides map to the same key so concurrent settlers contend on one lock.
func claimKey(bet domain.Bet) string {
	a, b := bet.ID, bet.PeerBetID
	if b == "" {
		return "settle:" + a
	}
	if b < a {
		a, b = b, a
	}
	return "settle:" + a + ":" + b
}

func settleTaskID(betID string) string    { return "settle:" + betID }
func countdownTaskID(betID string) string { return "countdown:" + betID }
