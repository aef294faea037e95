package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/updownlabs/updown/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL. Every status change is
// a single UPDATE guarded by the expected current status; a zero-row result is
// disambiguated into ErrNotFound or ErrStateConflict by re-reading the row.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Create inserts a new bet.
func (s *BetStore) Create(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (
			id, owner_id, opponent_id, peer_bet_id, symbol, direction,
			stake, asset_unit, duration_seconds, locked_price, locked_at,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, NOW()
		)`

	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		b.ID, b.OwnerID, b.OpponentID, b.PeerBetID, b.Symbol, string(b.Direction),
		b.Stake.String(), b.AssetUnit, b.DurationSeconds, b.LockedPrice, b.LockedAt,
		string(domain.BetStatusPending), createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create bet %s: %w", b.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create bet %s: %w", b.ID, err)
	}
	return nil
}

// betSelectCols lists the columns selected when reading bets. NUMERIC columns
// come back as text and are parsed into decimals.
const betSelectCols = `id, owner_id, opponent_id, peer_bet_id, symbol, direction,
	stake::text, asset_unit, duration_seconds, locked_price, locked_at,
	final_price, finalized_at, status, result, payout::text, fee::text,
	cancel_reason, created_at, updated_at`

func scanBet(scanner interface{ Scan(dest ...any) error }) (domain.Bet, error) {
	var b domain.Bet
	var direction, status, result string
	var stakeStr, payoutStr, feeStr string

	err := scanner.Scan(
		&b.ID, &b.OwnerID, &b.OpponentID, &b.PeerBetID, &b.Symbol, &direction,
		&stakeStr, &b.AssetUnit, &b.DurationSeconds, &b.LockedPrice, &b.LockedAt,
		&b.FinalPrice, &b.FinalizedAt, &status, &result, &payoutStr, &feeStr,
		&b.CancelReason, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return domain.Bet{}, err
	}

	b.Direction = domain.Direction(direction)
	b.Status = domain.BetStatus(status)
	b.Result = domain.BetResult(result)
	if b.Stake, err = decimal.NewFromString(stakeStr); err != nil {
		return domain.Bet{}, fmt.Errorf("parse stake %q: %w", stakeStr, err)
	}
	if b.Payout, err = decimal.NewFromString(payoutStr); err != nil {
		return domain.Bet{}, fmt.Errorf("parse payout %q: %w", payoutStr, err)
	}
	if b.Fee, err = decimal.NewFromString(feeStr); err != nil {
		return domain.Bet{}, fmt.Errorf("parse fee %q: %w", feeStr, err)
	}
	return b, nil
}

// GetByID retrieves a single bet by ID.
func (s *BetStore) GetByID(ctx context.Context, id string) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+betSelectCols+` FROM bets WHERE id = $1`, id)
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, fmt.Errorf("postgres: bet %s: %w", id, domain.ErrNotFound)
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %s: %w", id, err)
	}
	return b, nil
}

// MarkMatched transitions PENDING -> MATCHED and records the opponent.
func (s *BetStore) MarkMatched(ctx context.Context, id, opponentID, peerBetID string) error {
	const query = `
		UPDATE bets SET status = 'MATCHED', opponent_id = $2, peer_bet_id = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`
	return s.guarded(ctx, "mark matched", id, query, id, opponentID, peerBetID)
}

// MarkInProgress transitions MATCHED -> IN_PROGRESS.
func (s *BetStore) MarkInProgress(ctx context.Context, id string) error {
	const query = `
		UPDATE bets SET status = 'IN_PROGRESS', updated_at = NOW()
		WHERE id = $1 AND status = 'MATCHED'`
	return s.guarded(ctx, "mark in progress", id, query, id)
}

// Complete transitions IN_PROGRESS -> COMPLETED and persists the settlement.
// The guard makes the financial fields write-once: a racing settler's UPDATE
// matches zero rows.
func (s *BetStore) Complete(ctx context.Context, id string, st domain.Settlement) error {
	const query = `
		UPDATE bets SET status = 'COMPLETED', result = $2, final_price = $3,
			finalized_at = $4, payout = $5, fee = $6, updated_at = NOW()
		WHERE id = $1 AND status = 'IN_PROGRESS'`
	return s.guarded(ctx, "complete", id, query,
		id, string(st.Result), st.FinalPrice, st.FinalizedAt, st.Payout.String(), st.Fee.String())
}

// Cancel transitions PENDING -> CANCELLED with a reason.
func (s *BetStore) Cancel(ctx context.Context, id, reason string) error {
	const query = `
		UPDATE bets SET status = 'CANCELLED', result = 'CANCELLED', cancel_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`
	return s.guarded(ctx, "cancel", id, query, id, reason)
}

// guarded runs a status-guarded UPDATE. Zero rows affected means the bet is
// either missing or not in the required state.
func (s *BetStore) guarded(ctx context.Context, op, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s bet %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bets WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: %s bet %s: %w", op, id, err)
		}
		if !exists {
			return fmt.Errorf("postgres: %s bet %s: %w", op, id, domain.ErrNotFound)
		}
		return fmt.Errorf("postgres: %s bet %s: %w", op, id, domain.ErrStateConflict)
	}
	return nil
}

// ListByOwner returns the owner's bets, newest first.
func (s *BetStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Bet, error) {
	query := `SELECT ` + betSelectCols + ` FROM bets WHERE owner_id = $1 ORDER BY created_at DESC`
	args := []any{ownerID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for %s: %w", ownerID, err)
	}
	defer rows.Close()

	bets, err := scanBets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bets for %s: %w", ownerID, err)
	}
	return bets, nil
}

// CountByStatus returns bet counts grouped by status.
func (s *BetStore) CountByStatus(ctx context.Context) (map[domain.BetStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM bets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: count bets by status: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.BetStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("postgres: scan status count: %w", err)
		}
		out[domain.BetStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: count bets by status: %w", err)
	}
	return out, nil
}

// ListByStatus returns bets currently in the given status, oldest update
// first.
func (s *BetStore) ListByStatus(ctx context.Context, status domain.BetStatus, limit int) ([]domain.Bet, error) {
	query := `SELECT ` + betSelectCols + ` FROM bets WHERE status = $1 ORDER BY updated_at ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list %s bets: %w", status, err)
	}
	defer rows.Close()

	bets, err := scanBets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan %s bets: %w", status, err)
	}
	return bets, nil
}

// ListTerminalBefore returns terminal bets last updated before the cutoff,
// oldest first.
func (s *BetStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Bet, error) {
	query := `SELECT ` + betSelectCols + ` FROM bets
		WHERE status IN ('COMPLETED', 'CANCELLED') AND updated_at < $1
		ORDER BY updated_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal bets: %w", err)
	}
	defer rows.Close()

	bets, err := scanBets(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan terminal bets: %w", err)
	}
	return bets, nil
}

// DeleteByIDs removes archived bets. The status guard keeps live bets safe
// even if the caller's list is stale.
func (s *BetStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `DELETE FROM bets WHERE id = ANY($1) AND status IN ('COMPLETED', 'CANCELLED')`
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("postgres: delete archived bets: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanBets(rows pgx.Rows) ([]domain.Bet, error) {
	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
