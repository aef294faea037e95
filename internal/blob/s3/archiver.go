package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

// Archiver moves settled bets to cold storage. Each run serializes terminal
// bets older than the retention cutoff to JSONL, uploads the batch, and only
// then deletes the archived rows from the primary store. An upload failure
// leaves the rows in place for the next run.
type Archiver struct {
	writer domain.BlobWriter
	store  domain.BetStore
	audit  domain.AuditStore
	logger *slog.Logger

	retention time.Duration
	batchSize int
}

// ArchiverConfig holds archive-run parameters.
type ArchiverConfig struct {
	// Retention is how long terminal bets stay in the primary store.
	Retention time.Duration

	// BatchSize caps the rows moved per run.
	BatchSize int
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(cfg ArchiverConfig, writer domain.BlobWriter, store domain.BetStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Archiver{
		writer:    writer,
		store:     store,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
		retention: cfg.Retention,
		batchSize: cfg.BatchSize,
	}
}

// archivedBet is the JSONL record written per bet.
type archivedBet struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	OpponentID      string     `json:"opponent_id,omitempty"`
	PeerBetID       string     `json:"peer_bet_id,omitempty"`
	Symbol          string     `json:"symbol"`
	Direction       string     `json:"direction"`
	Stake           string     `json:"stake"`
	AssetUnit       string     `json:"asset_unit"`
	DurationSeconds int        `json:"duration_seconds"`
	LockedPrice     float64    `json:"locked_price"`
	LockedAt        time.Time  `json:"locked_at"`
	FinalPrice      float64    `json:"final_price,omitempty"`
	FinalizedAt     *time.Time `json:"finalized_at,omitempty"`
	Status          string     `json:"status"`
	Result          string     `json:"result,omitempty"`
	Payout          string     `json:"payout"`
	Fee             string     `json:"fee"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Run performs one archive pass and returns how many bets were moved.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-a.retention)

	bets, err := a.store.ListTerminalBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(bets) == 0 {
		return 0, nil
	}

	records := make([]archivedBet, 0, len(bets))
	ids := make([]string, 0, len(bets))
	for _, b := range bets {
		records = append(records, archivedBet{
			ID:              b.ID,
			OwnerID:         b.OwnerID,
			OpponentID:      b.OpponentID,
			PeerBetID:       b.PeerBetID,
			Symbol:          b.Symbol,
			Direction:       string(b.Direction),
			Stake:           b.Stake.String(),
			AssetUnit:       b.AssetUnit,
			DurationSeconds: b.DurationSeconds,
			LockedPrice:     b.LockedPrice,
			LockedAt:        b.LockedAt,
			FinalPrice:      b.FinalPrice,
			FinalizedAt:     b.FinalizedAt,
			Status:          string(b.Status),
			Result:          string(b.Result),
			Payout:          b.Payout.String(),
			Fee:             b.Fee.String(),
			CancelReason:    b.CancelReason,
			CreatedAt:       b.CreatedAt,
		})
		ids = append(ids, b.ID)
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := archivePath(cutoff)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	// Upload is durable; now the rows can go.
	if err := a.store.DeleteByIDs(ctx, ids); err != nil {
		return len(bets), fmt.Errorf("s3blob: archive purge: %w", err)
	}

	if a.audit != nil {
		_ = a.audit.Log(ctx, "archive.bets", map[string]any{
			"path":   path,
			"count":  len(bets),
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
	a.logger.InfoContext(ctx, "archive run completed",
		slog.Int("count", len(bets)),
		slog.String("path", path),
	)
	return len(bets), nil
}

// RunEvery performs archive passes on a fixed interval until ctx is cancelled.
func (a *Archiver) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// archivePath builds the S3 key for an archive batch, partitioned by
// year-month of the cutoff with a timestamp suffix so runs never collide.
//
//	archive/bets/2026-08/20260829T120000Z.jsonl
func archivePath(cutoff time.Time) string {
	now := time.Now().UTC()
	return fmt.Sprintf("archive/bets/%s/%s.jsonl", cutoff.Format("2006-01"), now.Format("20060102T150405Z"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
