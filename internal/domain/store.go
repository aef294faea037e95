package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// BetStore is the durable record of each wager and its lifecycle state. It is
// the single source of truth consulted by every other component. Every status
// mutation is a check-and-set on the current state: methods return
// ErrStateConflict when the bet is not in the state the transition requires,
// and ErrNotFound when no such bet exists.
type BetStore interface {
	Create(ctx context.Context, bet Bet) error
	GetByID(ctx context.Context, id string) (Bet, error)

	// MarkMatched transitions PENDING -> MATCHED and records the opponent.
	// peerBetID is empty when the opponent is the automated counterparty.
	MarkMatched(ctx context.Context, id, opponentID, peerBetID string) error

	// MarkInProgress transitions MATCHED -> IN_PROGRESS.
	MarkInProgress(ctx context.Context, id string) error

	// Complete transitions IN_PROGRESS -> COMPLETED and persists the
	// settlement exactly once.
	Complete(ctx context.Context, id string, s Settlement) error

	// Cancel transitions PENDING -> CANCELLED with a reason.
	Cancel(ctx context.Context, id, reason string) error

	ListByOwner(ctx context.Context, ownerID string, opts ListOpts) ([]Bet, error)
	CountByStatus(ctx context.Context) (map[BetStatus]int64, error)

	// ListByStatus returns bets currently in the given status, oldest
	// update first. Used by the startup recovery sweep.
	ListByStatus(ctx context.Context, status BetStatus, limit int) ([]Bet, error)

	// ListTerminalBefore returns COMPLETED/CANCELLED bets finalized before
	// the cutoff, oldest first. Used by the archiver.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]Bet, error)

	// DeleteByIDs removes archived bets. Only terminal bets may be deleted.
	DeleteByIDs(ctx context.Context, ids []string) error
}

// LockStore holds locked price snapshots keyed by bet ID. Put overwrites any
// prior lock for the same bet; Get returns ErrNotFound for missing or expired
// locks.
type LockStore interface {
	Put(ctx context.Context, lock LockedPrice) error
	Get(ctx context.Context, betID string) (LockedPrice, error)
	Delete(ctx context.Context, betID string) error

	// Sweep removes locks that expired before now and returns how many were
	// removed. Backends with native TTL expiry may return 0.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// PriceCache mirrors the latest observed price per symbol for out-of-process
// readers. The in-process oracle cache remains authoritative for the engine.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// SignalBus publishes lifecycle and price events. Publish/Subscribe are
// ephemeral pub/sub; StreamAppend adds to a durable, trimmed stream for
// out-of-band consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// LockManager provides exclusive claim semantics across engine instances.
// Acquire returns ErrLockHeld when another party holds the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter limits request rates per key using a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PolicyStore supplies the operator matchmaking policy and per-asset stake
// bounds. It is an external collaborator boundary; the engine only reads it,
// except for the operator policy endpoint which writes through Update.
type PolicyStore interface {
	Policy(ctx context.Context) (MatchPolicy, error)
	Update(ctx context.Context, p MatchPolicy) error
	StakeBounds(ctx context.Context, assetUnit string) (StakeBounds, error)
}

// BalanceLedger is the external balance collaborator. Credit and Debit are
// idempotent per reference: retrying with the same ref must not double-apply.
// The settlement engine calls Credit exactly once per completed side.
type BalanceLedger interface {
	Credit(ctx context.Context, userID string, amount decimal.Decimal, assetUnit, ref string) error
	Debit(ctx context.Context, userID string, amount decimal.Decimal, assetUnit, ref string) error
}

// AuditStore persists an append-only audit log of state transitions and
// external-effect failures.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// BlobWriter uploads archive objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
