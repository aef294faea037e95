// Package service exposes the bet lifecycle to callers: request validation,
// the price-staleness gate, and orchestration of price locking, matchmaking,
// and cancellation.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/updownlabs/updown/internal/domain"
)

// Oracle is the price surface bet creation consumes.
type Oracle interface {
	LatestPrice(ctx context.Context, symbol string) (domain.PricePoint, error)
	LockPrice(ctx context.Context, symbol, betID string) (domain.LockedPrice, error)
	ReleaseLock(ctx context.Context, betID string) error
}

// Matcher accepts new bets and withdraws cancelled ones.
type Matcher interface {
	Submit(ctx context.Context, bet domain.Bet) error
	Remove(ctx context.Context, betID string) error
}

var validate = validator.New()

// CreateBetRequest carries the client-supplied bet terms. Validation errors
// never reach the state machine.
type CreateBetRequest struct {
	OwnerID         string `json:"owner_id" validate:"required"`
	Symbol          string `json:"symbol" validate:"required"`
	Direction       string `json:"direction" validate:"required,oneof=UP DOWN"`
	Stake           string `json:"stake" validate:"required"`
	AssetUnit       string `json:"asset_unit" validate:"required"`
	DurationSeconds int    `json:"duration_seconds" validate:"required,min=5,max=60"`
}

// Config holds creation-boundary policy.
type Config struct {
	// SupportedSymbols is the whitelist of wagerable markets.
	SupportedSymbols []string

	// MaxPriceAge rejects bet creation when the freshest available price is
	// older than this. Staleness is a creation-boundary policy, not an
	// oracle concern.
	MaxPriceAge time.Duration
}

// BetService validates and creates bets and routes cancellations.
type BetService struct {
	cfg      Config
	store    domain.BetStore
	oracle   Oracle
	matcher  Matcher
	policies domain.PolicyStore
	bus      domain.SignalBus
	logger   *slog.Logger

	symbols map[string]bool
}

// NewBetService creates a BetService.
func NewBetService(cfg Config, store domain.BetStore, o Oracle, matcher Matcher, policies domain.PolicyStore, bus domain.SignalBus, logger *slog.Logger) *BetService {
	if cfg.MaxPriceAge <= 0 {
		cfg.MaxPriceAge = 30 * time.Second
	}
	symbols := make(map[string]bool, len(cfg.SupportedSymbols))
	for _, s := range cfg.SupportedSymbols {
		symbols[strings.ToUpper(s)] = true
	}
	return &BetService{
		cfg:      cfg,
		store:    store,
		oracle:   o,
		matcher:  matcher,
		policies: policies,
		bus:      bus,
		logger:   logger.With(slog.String("component", "bet_service")),
		symbols:  symbols,
	}
}

// Create validates the request, locks the current price against a new bet,
// persists it, and hands it to matchmaking. The returned bet reflects any
// synchronous match (house-bot mode pairs within this call).
func (s *BetService) Create(ctx context.Context, req CreateBetRequest) (domain.Bet, error) {
	stake, err := s.validateRequest(ctx, &req)
	if err != nil {
		return domain.Bet{}, err
	}

	// Staleness gate: refuse to open a round on a price the oracle itself
	// flags as old. The oracle never blocks; it reports what it has.
	pt, err := s.oracle.LatestPrice(ctx, req.Symbol)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("service: create bet: %w", domain.ErrStalePrice)
	}
	if pt.Age(time.Now()) > s.cfg.MaxPriceAge {
		return domain.Bet{}, fmt.Errorf("service: price for %s is %s old: %w",
			req.Symbol, pt.Age(time.Now()).Round(time.Millisecond), domain.ErrStalePrice)
	}

	id := uuid.New().String()
	lock, err := s.oracle.LockPrice(ctx, req.Symbol, id)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("service: lock price: %w", err)
	}

	bet := domain.Bet{
		ID:              id,
		OwnerID:         req.OwnerID,
		Symbol:          req.Symbol,
		Direction:       domain.Direction(req.Direction),
		Stake:           stake,
		AssetUnit:       req.AssetUnit,
		DurationSeconds: req.DurationSeconds,
		LockedPrice:     lock.Price,
		LockedAt:        lock.LockedAt,
		Status:          domain.BetStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.Create(ctx, bet); err != nil {
		_ = s.oracle.ReleaseLock(ctx, id)
		return domain.Bet{}, fmt.Errorf("service: create bet: %w", err)
	}

	s.publish(ctx, domain.BetEvent{
		Event:     domain.EventBetCreated,
		BetID:     bet.ID,
		Users:     []string{bet.OwnerID},
		Symbol:    bet.Symbol,
		Direction: bet.Direction,
		Status:    domain.BetStatusPending,
		At:        bet.CreatedAt,
	})

	if err := s.matcher.Submit(ctx, bet); err != nil {
		return bet, fmt.Errorf("service: matchmaking: %w", err)
	}

	created, err := s.store.GetByID(ctx, bet.ID)
	if err != nil {
		return bet, nil
	}
	return created, nil
}

// Cancel cancels a PENDING bet. The store transition is the arbiter: if a
// concurrent match attempt already moved the bet out of PENDING, the cancel
// is rejected and the pairing stands.
func (s *BetService) Cancel(ctx context.Context, betID string) error {
	if err := s.store.Cancel(ctx, betID, "cancelled by user"); err != nil {
		return fmt.Errorf("service: cancel bet %s: %w", betID, err)
	}

	// The bet can no longer be claimed; drop it from the pool and disarm its
	// fallback timer. ErrPoolConflict here just means it never made the pool.
	if err := s.matcher.Remove(ctx, betID); err != nil && !errors.Is(err, domain.ErrPoolConflict) {
		s.logger.WarnContext(ctx, "pool removal failed",
			slog.String("bet_id", betID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.oracle.ReleaseLock(ctx, betID); err != nil {
		s.logger.WarnContext(ctx, "lock release failed",
			slog.String("bet_id", betID),
			slog.String("error", err.Error()),
		)
	}

	bet, err := s.store.GetByID(ctx, betID)
	users := []string{}
	if err == nil {
		users = append(users, bet.OwnerID)
	}
	s.publish(ctx, domain.BetEvent{
		Event:  domain.EventBetCancelled,
		BetID:  betID,
		Users:  users,
		Status: domain.BetStatusCancelled,
		Reason: "cancelled by user",
		At:     time.Now().UTC(),
	})
	return nil
}

// Get returns a bet by ID.
func (s *BetService) Get(ctx context.Context, betID string) (domain.Bet, error) {
	bet, err := s.store.GetByID(ctx, betID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("service: get bet %s: %w", betID, err)
	}
	return bet, nil
}

// ListByOwner returns a user's bets, newest first.
func (s *BetService) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Bet, error) {
	bets, err := s.store.ListByOwner(ctx, ownerID, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list bets for %s: %w", ownerID, err)
	}
	return bets, nil
}

// validateRequest applies structural validation, the symbol whitelist, and
// the per-asset stake bounds. It normalizes the symbol in place.
func (s *BetService) validateRequest(ctx context.Context, req *CreateBetRequest) (decimal.Decimal, error) {
	if err := validate.Struct(req); err != nil {
		return decimal.Decimal{}, fmt.Errorf("service: %s: %w", err.Error(), domain.ErrInvalidBet)
	}

	req.Symbol = strings.ToUpper(req.Symbol)
	if !s.symbols[req.Symbol] {
		return decimal.Decimal{}, fmt.Errorf("service: unsupported symbol %s: %w", req.Symbol, domain.ErrInvalidBet)
	}

	stake, err := decimal.NewFromString(req.Stake)
	if err != nil || !stake.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("service: stake must be a positive amount: %w", domain.ErrInvalidBet)
	}

	bounds, err := s.policies.StakeBounds(ctx, req.AssetUnit)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("service: unsupported asset %s: %w", req.AssetUnit, domain.ErrInvalidBet)
	}
	if !bounds.Contains(stake) {
		return decimal.Decimal{}, fmt.Errorf("service: stake %s outside bounds [%s, %s]: %w",
			stake, bounds.Min, bounds.Max, domain.ErrInvalidBet)
	}
	return stake, nil
}

func (s *BetService) publish(ctx context.Context, evt domain.BetEvent) {
	payload, _ := json.Marshal(evt)
	if err := s.bus.Publish(ctx, domain.ChannelBets, payload); err != nil {
		s.logger.WarnContext(ctx, "event publish failed",
			slog.String("event", evt.Event),
			slog.String("bet_id", evt.BetID),
			slog.String("error", err.Error()),
		)
	}
}
