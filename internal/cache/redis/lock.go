package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/updownlabs/updown/internal/domain"
)

// unlockLua deletes a lock key only when its value matches the caller's token,
// so one holder can never release another holder's claim.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using SETNX with a TTL and a
// Lua-based conditional unlock. Settlement uses it to claim a pairing across
// engine instances.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

func claimKey(key string) string {
	return "claim:" + key
}

// Acquire attempts to obtain the lock for key with the given TTL. On success
// it returns a release function that is safe to call more than once. It
// returns domain.ErrLockHeld while another party holds the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	ck := claimKey(key)

	ok, err := lm.rdb.SetNX(ctx, ck, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// Background context so release still works when the caller's
		// context is already cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lm.unlockSc.Run(releaseCtx, lm.rdb, []string{ck}, token).Err()
	}
	return release, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
