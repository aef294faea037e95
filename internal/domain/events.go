package domain

import "time"

// Pub/sub channels the engine publishes on. The ws hub bridges these to
// connected clients; delivery guarantees are the gateway's concern.
const (
	ChannelBets   = "bets"
	ChannelPrices = "prices"
)

// LedgerFailureStream is the durable stream holding failed balance-credit
// effects for out-of-band retry.
const LedgerFailureStream = "stream:ledger_failures"

// Lifecycle event names.
const (
	EventBetCreated    = "bet.created"
	EventBetMatched    = "bet.matched"
	EventCountdown     = "game.countdown"
	EventGameCompleted = "game.completed"
	EventBetCancelled  = "bet.cancelled"
)

// BetEvent is the wire payload for lifecycle events. Users lists the
// identities the event is addressed to.
type BetEvent struct {
	Event      string    `json:"event"`
	BetID      string    `json:"bet_id"`
	Users      []string  `json:"users"`
	Symbol     string    `json:"symbol,omitempty"`
	Direction  Direction `json:"direction,omitempty"`
	Status     BetStatus `json:"status,omitempty"`
	OpponentID string    `json:"opponent_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`

	// Countdown fields.
	RemainingSeconds int `json:"remaining_seconds,omitempty"`

	// Completion fields.
	Result     BetResult `json:"result,omitempty"`
	FinalPrice float64   `json:"final_price,omitempty"`
	Payout     string    `json:"payout,omitempty"`
	Fee        string    `json:"fee,omitempty"`

	At time.Time `json:"at"`
}

// PriceEvent is the wire payload published on ChannelPrices for every cache
// update.
type PriceEvent struct {
	Event  string    `json:"event"`
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	At     time.Time `json:"at"`
}
