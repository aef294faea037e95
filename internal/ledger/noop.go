package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/updownlabs/updown/internal/domain"
)

// Noop is a BalanceLedger that records nothing. Standalone mode uses it so the
// lifecycle can run without a ledger deployment; every entry is logged at
// debug level.
type Noop struct {
	logger *slog.Logger
}

// NewNoop creates a Noop ledger.
func NewNoop(logger *slog.Logger) *Noop {
	return &Noop{logger: logger.With(slog.String("component", "ledger_noop"))}
}

func (n *Noop) Credit(ctx context.Context, userID string, amount decimal.Decimal, assetUnit, ref string) error {
	n.logger.DebugContext(ctx, "credit dropped",
		slog.String("user_id", userID),
		slog.String("amount", amount.String()),
		slog.String("asset_unit", assetUnit),
		slog.String("ref", ref),
	)
	return nil
}

func (n *Noop) Debit(ctx context.Context, userID string, amount decimal.Decimal, assetUnit, ref string) error {
	n.logger.DebugContext(ctx, "debit dropped",
		slog.String("user_id", userID),
		slog.String("amount", amount.String()),
		slog.String("asset_unit", assetUnit),
		slog.String("ref", ref),
	)
	return nil
}

// Compile-time interface check.
var _ domain.BalanceLedger = (*Noop)(nil)
