package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

// LockStore is an in-memory domain.LockStore. Expiry is enforced by the
// oracle's lazy delete plus the periodic Sweep.
type LockStore struct {
	mu    sync.RWMutex
	locks map[string]domain.LockedPrice
}

// NewLockStore creates an empty LockStore.
func NewLockStore() *LockStore {
	return &LockStore{locks: make(map[string]domain.LockedPrice)}
}

// Put stores the lock, overwriting any prior lock for the same bet.
func (s *LockStore) Put(ctx context.Context, lock domain.LockedPrice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[lock.BetID] = lock
	return nil
}

// Get returns the stored lock or domain.ErrNotFound.
func (s *LockStore) Get(ctx context.Context, betID string) (domain.LockedPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lock, ok := s.locks[betID]
	if !ok {
		return domain.LockedPrice{}, fmt.Errorf("memory: lock for bet %s: %w", betID, domain.ErrNotFound)
	}
	return lock, nil
}

// Delete removes the lock if present.
func (s *LockStore) Delete(ctx context.Context, betID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, betID)
	return nil
}

// Sweep removes all locks that expired before now.
func (s *LockStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, lock := range s.locks {
		if lock.Expired(now) {
			delete(s.locks, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored locks.
func (s *LockStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locks)
}

// Compile-time interface check.
var _ domain.LockStore = (*LockStore)(nil)
