package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// HouseBotID is the sentinel opponent identity used when a bet is paired with
// the automated counterparty instead of a peer.
const HouseBotID = "house-bot"

// Direction is the price movement a bet predicts.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// BetStatus tracks the bet lifecycle. Transitions are one-directional:
// PENDING -> MATCHED -> IN_PROGRESS -> COMPLETED|CANCELLED, plus
// PENDING -> CANCELLED for explicit cancels and matchmaking timeouts.
type BetStatus string

const (
	BetStatusPending    BetStatus = "PENDING"
	BetStatusMatched    BetStatus = "MATCHED"
	BetStatusInProgress BetStatus = "IN_PROGRESS"
	BetStatusCompleted  BetStatus = "COMPLETED"
	BetStatusCancelled  BetStatus = "CANCELLED"
)

// Terminal reports whether a status accepts no further transitions.
func (s BetStatus) Terminal() bool {
	return s == BetStatusCompleted || s == BetStatusCancelled
}

// BetResult is the settled outcome of one side of a pairing.
type BetResult string

const (
	BetResultWin       BetResult = "WIN"
	BetResultLoss      BetResult = "LOSS"
	BetResultDraw      BetResult = "DRAW"
	BetResultCancelled BetResult = "CANCELLED"
)

// Mirror returns the result the opposite side of a pairing receives for the
// same settlement event.
func (r BetResult) Mirror() BetResult {
	switch r {
	case BetResultWin:
		return BetResultLoss
	case BetResultLoss:
		return BetResultWin
	default:
		return r
	}
}

// Bet is one party's prediction and stake for a single round. The bet store
// owns the record; every other component references it by ID.
type Bet struct {
	ID      string
	OwnerID string

	// OpponentID is empty while unmatched, HouseBotID for automated
	// pairings, or the peer owner's identity for P2P pairings.
	OpponentID string

	// PeerBetID links the two bets of a P2P pairing. Empty for house-bot
	// pairings so settlement knows there is no second record to mirror.
	PeerBetID string

	Symbol          string
	Direction       Direction
	Stake           decimal.Decimal
	AssetUnit       string
	DurationSeconds int

	LockedPrice float64
	LockedAt    time.Time

	// FinalPrice and FinalizedAt are set exactly once, on the transition
	// into COMPLETED, and never overwritten.
	FinalPrice  float64
	FinalizedAt *time.Time

	Status       BetStatus
	Result       BetResult
	Payout       decimal.Decimal
	Fee          decimal.Decimal
	CancelReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PoolKey returns the matchmaking compatibility key. Direction is deliberately
// excluded: opposite predictions are what make a pairing valid.
func (b Bet) PoolKey() PoolKey {
	return PoolKey{
		Symbol:          b.Symbol,
		AssetUnit:       b.AssetUnit,
		Stake:           b.Stake.String(),
		DurationSeconds: b.DurationSeconds,
	}
}

// HouseBotPairing reports whether the bet is matched against the automated
// counterparty.
func (b Bet) HouseBotPairing() bool {
	return b.OpponentID == HouseBotID
}

// PoolKey identifies a set of mutually compatible pending bets. Stake is the
// canonical decimal string so equal amounts always collide.
type PoolKey struct {
	Symbol          string
	AssetUnit       string
	Stake           string
	DurationSeconds int
}

// Settlement carries the computed outcome for one side of a pairing. The
// settlement engine derives both sides from a single computation and commits
// each through a guarded state transition.
type Settlement struct {
	Result      BetResult
	FinalPrice  float64
	FinalizedAt time.Time
	Payout      decimal.Decimal
	Fee         decimal.Decimal
}

// MatchResult is emitted by the matchmaking engine whenever a pairing is
// formed. BetID is always set; PeerBetID is empty for house-bot pairings.
type MatchResult struct {
	BetID     string
	PeerBetID string
	HouseBot  bool
	MatchedAt time.Time
}
