package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/service"
)

// BetService defines what the bet handler requires from the service layer.
type BetService interface {
	Create(ctx context.Context, req service.CreateBetRequest) (domain.Bet, error)
	Cancel(ctx context.Context, betID string) error
	Get(ctx context.Context, betID string) (domain.Bet, error)
	ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Bet, error)
}

// Settler completes in-progress bets out of band, for operator tooling and
// recovery after a missed timer.
type Settler interface {
	Complete(ctx context.Context, betID string) (domain.Bet, error)
}

// BetHandler serves the bet lifecycle endpoints.
type BetHandler struct {
	bets    BetService
	settler Settler
	logger  *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets BetService, settler Settler, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, settler: settler, logger: logger}
}

// betView is the wire representation of a bet.
type betView struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	OpponentID      string     `json:"opponent_id,omitempty"`
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
	Payout          string     `json:"payout,omitempty"`
	Fee             string     `json:"fee,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toBetView(b domain.Bet) betView {
	v := betView{
		ID:              b.ID,
		OwnerID:         b.OwnerID,
		OpponentID:      b.OpponentID,
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
		CancelReason:    b.CancelReason,
		CreatedAt:       b.CreatedAt,
	}
	if b.Status == domain.BetStatusCompleted {
		v.Payout = b.Payout.String()
		v.Fee = b.Fee.String()
	}
	return v
}

// CreateBet opens a new bet from a JSON body.
// POST /api/bets
func (h *BetHandler) CreateBet(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	bet, err := h.bets.Create(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidBet):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrStalePrice), errors.Is(err, domain.ErrNoPrice):
			writeError(w, http.StatusServiceUnavailable, "no fresh price available for this market")
		case errors.Is(err, domain.ErrRateLimited):
			writeError(w, http.StatusTooManyRequests, "rate limited")
		default:
			h.logger.ErrorContext(r.Context(), "handler: create bet failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create bet")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toBetView(bet))
}

// GetBet returns a single bet.
// GET /api/bets/{id}
func (h *BetHandler) GetBet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing bet id")
		return
	}

	bet, err := h.bets.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bet not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get bet failed",
			slog.String("bet_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get bet")
		return
	}

	writeJSON(w, http.StatusOK, toBetView(bet))
}

// listBetsResponse wraps the list bets response.
type listBetsResponse struct {
	Bets []betView `json:"bets"`
}

// ListBets returns a user's bets, newest first.
// GET /api/bets?owner_id=...&limit=50&offset=0
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter required")
		return
	}

	bets, err := h.bets.ListByOwner(r.Context(), ownerID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list bets failed",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list bets")
		return
	}

	views := make([]betView, 0, len(bets))
	for _, b := range bets {
		views = append(views, toBetView(b))
	}
	writeJSON(w, http.StatusOK, listBetsResponse{Bets: views})
}

// CancelBet cancels a pending bet.
// DELETE /api/bets/{id}
func (h *BetHandler) CancelBet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing bet id")
		return
	}

	if err := h.bets.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "bet not found")
		case errors.Is(err, domain.ErrStateConflict):
			writeError(w, http.StatusConflict, "bet is no longer cancellable")
		default:
			h.logger.ErrorContext(r.Context(), "handler: cancel bet failed",
				slog.String("bet_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel bet")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancelled",
		"bet_id": id,
	})
}

// CompleteBet forces settlement of an in-progress bet ahead of its timer.
// Operator use only; settlement normally fires from the countdown.
// POST /api/bets/{id}/complete
func (h *BetHandler) CompleteBet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing bet id")
		return
	}

	bet, err := h.settler.Complete(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "bet not found")
		case errors.Is(err, domain.ErrStateConflict):
			writeError(w, http.StatusConflict, "bet is not in progress")
		case errors.Is(err, domain.ErrLockHeld):
			writeError(w, http.StatusConflict, "settlement already in progress")
		default:
			h.logger.ErrorContext(r.Context(), "handler: complete bet failed",
				slog.String("bet_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to complete bet")
		}
		return
	}

	writeJSON(w, http.StatusOK, toBetView(bet))
}
