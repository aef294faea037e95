package domain

import "time"

// PriceTick is one observation from the external price feed. Every tick is
// treated as authoritative-latest and overwrites the cached value for its
// symbol.
type PriceTick struct {
	Symbol string
	Price  float64
	At     time.Time
}

// PricePoint is the latest known price for a symbol together with the instant
// it was observed. Callers use the timestamp to judge staleness; the oracle
// itself never rejects on age.
type PricePoint struct {
	Price float64
	At    time.Time
}

// Age returns how old the observation is relative to now.
func (p PricePoint) Age(now time.Time) time.Duration {
	return now.Sub(p.At)
}

// LockedPrice is a frozen price snapshot associated with a bet, used for
// outcome determination. It is never mutated after creation; it is removed on
// expiry or when the bet reaches a terminal state.
type LockedPrice struct {
	BetID     string
	Symbol    string
	Price     float64
	LockedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the lock has passed its expiry at the given time.
func (l LockedPrice) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
