package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/updownlabs/updown/internal/domain"
)

// PolicyStore is an in-memory domain.PolicyStore seeded at construction and
// mutable through the operator policy endpoint.
type PolicyStore struct {
	mu     sync.RWMutex
	policy domain.MatchPolicy
	bounds map[string]domain.StakeBounds
}

// NewPolicyStore creates a PolicyStore with the given initial policy and
// per-asset stake bounds.
func NewPolicyStore(policy domain.MatchPolicy, bounds []domain.StakeBounds) *PolicyStore {
	m := make(map[string]domain.StakeBounds, len(bounds))
	for _, b := range bounds {
		m[b.AssetUnit] = b
	}
	return &PolicyStore{policy: policy, bounds: m}
}

// Policy returns the current matchmaking policy.
func (s *PolicyStore) Policy(ctx context.Context) (domain.MatchPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy, nil
}

// Update replaces the matchmaking policy.
func (s *PolicyStore) Update(ctx context.Context, p domain.MatchPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
	return nil
}

// StakeBounds returns the stake bounds for an asset unit, or ErrNotFound for
// unsupported assets.
func (s *PolicyStore) StakeBounds(ctx context.Context, assetUnit string) (domain.StakeBounds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bounds[assetUnit]
	if !ok {
		return domain.StakeBounds{}, fmt.Errorf("memory: stake bounds for %s: %w", assetUnit, domain.ErrNotFound)
	}
	return b, nil
}

// Compile-time interface check.
var _ domain.PolicyStore = (*PolicyStore)(nil)
