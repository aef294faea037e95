package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchMode selects how new bets are paired.
type MatchMode string

const (
	// MatchModeP2P pairs bets against other pending peer bets, with an
	// optional timed fallback to the automated counterparty.
	MatchModeP2P MatchMode = "P2P"

	// MatchModeHouseBot pairs every bet with the automated counterparty
	// immediately.
	MatchModeHouseBot MatchMode = "HOUSE_BOT"
)

// MatchPolicy is the operator-level matchmaking policy. It is supplied by the
// external user/policy store and consulted on every submission.
type MatchPolicy struct {
	MatchmakingEnabled      bool
	Mode                    MatchMode
	HouseBotFallbackEnabled bool
	FallbackTimeout         time.Duration
}

// StakeBounds are the per-asset minimum and maximum stake amounts enforced at
// bet creation, before the lifecycle engine is invoked.
type StakeBounds struct {
	AssetUnit string
	Min       decimal.Decimal
	Max       decimal.Decimal
}

// Contains reports whether the amount falls inside the bounds (inclusive).
func (b StakeBounds) Contains(amount decimal.Decimal) bool {
	return amount.Cmp(b.Min) >= 0 && amount.Cmp(b.Max) <= 0
}
