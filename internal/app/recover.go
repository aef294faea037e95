package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/settle"
)

// recoverInFlight re-arms lifecycle timers for bets the previous process left
// non-terminal. Timers live only in memory, so after a restart MATCHED and
// IN_PROGRESS rows have no settlement task and would wait forever without this
// sweep. Only one side of each pairing is armed; settlement completes both.
func recoverInFlight(ctx context.Context, store domain.BetStore, settler *settle.Engine, logger *slog.Logger) error {
	seen := make(map[string]bool)
	recovered := 0

	matched, err := store.ListByStatus(ctx, domain.BetStatusMatched, 0)
	if err != nil {
		return fmt.Errorf("app: list matched bets: %w", err)
	}
	for _, bet := range matched {
		if seen[bet.ID] {
			continue
		}
		seen[bet.ID] = true
		if bet.PeerBetID != "" {
			seen[bet.PeerBetID] = true
		}
		if err := settler.Start(ctx, bet.ID); err != nil {
			logger.ErrorContext(ctx, "recovery start failed",
				slog.String("bet_id", bet.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	inProgress, err := store.ListByStatus(ctx, domain.BetStatusInProgress, 0)
	if err != nil {
		return fmt.Errorf("app: list in-progress bets: %w", err)
	}
	for _, bet := range inProgress {
		if seen[bet.ID] {
			continue
		}
		seen[bet.ID] = true
		if bet.PeerBetID != "" {
			seen[bet.PeerBetID] = true
		}
		if err := settler.Resume(ctx, bet.ID); err != nil {
			logger.ErrorContext(ctx, "recovery resume failed",
				slog.String("bet_id", bet.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		logger.InfoContext(ctx, "in-flight bets recovered", slog.Int("count", recovered))
	}
	return nil
}
