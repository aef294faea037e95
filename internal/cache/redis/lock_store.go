package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/updownlabs/updown/internal/domain"
)

// LockStore implements domain.LockStore with one JSON value per bet at
// "pricelock:{betID}", expired natively by Redis TTL. Sweep is a no-op.
type LockStore struct {
	rdb *redis.Client
}

// NewLockStore creates a LockStore backed by the given Client.
func NewLockStore(c *Client) *LockStore {
	return &LockStore{rdb: c.Underlying()}
}

func priceLockKey(betID string) string {
	return "pricelock:" + betID
}

type lockRecord struct {
	BetID     string    `json:"bet_id"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Put stores the lock, overwriting any prior lock for the same bet. The key
// TTL is derived from the lock's expiry.
func (ls *LockStore) Put(ctx context.Context, lock domain.LockedPrice) error {
	ttl := time.Until(lock.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("redis: put lock %s: already expired", lock.BetID)
	}
	data, err := json.Marshal(lockRecord(lock))
	if err != nil {
		return fmt.Errorf("redis: marshal lock %s: %w", lock.BetID, err)
	}
	if err := ls.rdb.Set(ctx, priceLockKey(lock.BetID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: put lock %s: %w", lock.BetID, err)
	}
	return nil
}

// Get returns the lock for a bet, or domain.ErrNotFound when it is missing or
// Redis already expired it.
func (ls *LockStore) Get(ctx context.Context, betID string) (domain.LockedPrice, error) {
	data, err := ls.rdb.Get(ctx, priceLockKey(betID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.LockedPrice{}, fmt.Errorf("redis: lock %s: %w", betID, domain.ErrNotFound)
		}
		return domain.LockedPrice{}, fmt.Errorf("redis: get lock %s: %w", betID, err)
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.LockedPrice{}, fmt.Errorf("redis: unmarshal lock %s: %w", betID, err)
	}
	return domain.LockedPrice(rec), nil
}

// Delete removes the lock for a bet. Deleting a missing lock is not an error.
func (ls *LockStore) Delete(ctx context.Context, betID string) error {
	if err := ls.rdb.Del(ctx, priceLockKey(betID)).Err(); err != nil {
		return fmt.Errorf("redis: delete lock %s: %w", betID, err)
	}
	return nil
}

// Sweep is a no-op: Redis TTLs expire locks natively.
func (ls *LockStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Compile-time interface check.
var _ domain.LockStore = (*LockStore)(nil)
