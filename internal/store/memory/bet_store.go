// Package memory implements the domain store interfaces with in-process
// state. It backs the standalone mode and the test suites; the semantics,
// including check-and-set transitions, match the PostgreSQL implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

// BetStore is an in-memory domain.BetStore.
type BetStore struct {
	mu   sync.RWMutex
	bets map[string]domain.Bet
}

// NewBetStore creates an empty BetStore.
func NewBetStore() *BetStore {
	return &BetStore{bets: make(map[string]domain.Bet)}
}

// Create inserts a new bet. The bet ID must be unique.
func (s *BetStore) Create(ctx context.Context, bet domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bets[bet.ID]; ok {
		return fmt.Errorf("memory: create bet %s: %w", bet.ID, domain.ErrAlreadyExists)
	}
	now := time.Now().UTC()
	if bet.CreatedAt.IsZero() {
		bet.CreatedAt = now
	}
	bet.UpdatedAt = now
	s.bets[bet.ID] = bet
	return nil
}

// GetByID returns the bet or domain.ErrNotFound.
func (s *BetStore) GetByID(ctx context.Context, id string) (domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bet, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, fmt.Errorf("memory: bet %s: %w", id, domain.ErrNotFound)
	}
	return bet, nil
}

// transition applies mutate to the bet only if it is currently in from. This
// is the single guarded mutation path for all status changes.
func (s *BetStore) transition(id string, from domain.BetStatus, mutate func(*domain.Bet)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bet, ok := s.bets[id]
	if !ok {
		return fmt.Errorf("memory: bet %s: %w", id, domain.ErrNotFound)
	}
	if bet.Status != from {
		return fmt.Errorf("memory: bet %s is %s, need %s: %w", id, bet.Status, from, domain.ErrStateConflict)
	}
	mutate(&bet)
	bet.UpdatedAt = time.Now().UTC()
	s.bets[id] = bet
	return nil
}

// MarkMatched transitions PENDING -> MATCHED.
func (s *BetStore) MarkMatched(ctx context.Context, id, opponentID, peerBetID string) error {
	return s.transition(id, domain.BetStatusPending, func(b *domain.Bet) {
		b.Status = domain.BetStatusMatched
		b.OpponentID = opponentID
		b.PeerBetID = peerBetID
	})
}

// MarkInProgress transitions MATCHED -> IN_PROGRESS.
func (s *BetStore) MarkInProgress(ctx context.Context, id string) error {
	return s.transition(id, domain.BetStatusMatched, func(b *domain.Bet) {
		b.Status = domain.BetStatusInProgress
	})
}

// Complete transitions IN_PROGRESS -> COMPLETED and persists the settlement.
func (s *BetStore) Complete(ctx context.Context, id string, st domain.Settlement) error {
	return s.transition(id, domain.BetStatusInProgress, func(b *domain.Bet) {
		b.Status = domain.BetStatusCompleted
		b.Result = st.Result
		b.FinalPrice = st.FinalPrice
		finalized := st.FinalizedAt
		b.FinalizedAt = &finalized
		b.Payout = st.Payout
		b.Fee = st.Fee
	})
}

// Cancel transitions PENDING -> CANCELLED.
func (s *BetStore) Cancel(ctx context.Context, id, reason string) error {
	return s.transition(id, domain.BetStatusPending, func(b *domain.Bet) {
		b.Status = domain.BetStatusCancelled
		b.Result = domain.BetResultCancelled
		b.CancelReason = reason
	})
}

// ListByOwner returns the owner's bets, newest first.
func (s *BetStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Bet
	for _, b := range s.bets {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

// CountByStatus returns bet counts grouped by status.
func (s *BetStore) CountByStatus(ctx context.Context) (map[domain.BetStatus]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.BetStatus]int64)
	for _, b := range s.bets {
		out[b.Status]++
	}
	return out, nil
}

// ListByStatus returns bets currently in the given status, oldest update
// first.
func (s *BetStore) ListByStatus(ctx context.Context, status domain.BetStatus, limit int) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Bet
	for _, b := range s.bets {
		if b.Status == status {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListTerminalBefore returns terminal bets last updated before the cutoff,
// oldest first.
func (s *BetStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Bet
	for _, b := range s.bets {
		if b.Status.Terminal() && b.UpdatedAt.Before(cutoff) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteByIDs removes terminal bets. Non-terminal bets are skipped.
func (s *BetStore) DeleteByIDs(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if b, ok := s.bets[id]; ok && b.Status.Terminal() {
			delete(s.bets, id)
		}
	}
	return nil
}

// SetUpdatedAt overrides a bet's UpdatedAt timestamp. Retention tests use it
// to backdate terminal bets.
func (s *BetStore) SetUpdatedAt(id string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bets[id]; ok {
		b.UpdatedAt = t
		s.bets[id] = b
	}
}

func paginate(bets []domain.Bet, opts domain.ListOpts) []domain.Bet {
	if opts.Offset > 0 {
		if opts.Offset >= len(bets) {
			return nil
		}
		bets = bets[opts.Offset:]
	}
	if opts.Limit > 0 && len(bets) > opts.Limit {
		bets = bets[:opts.Limit]
	}
	return bets
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
