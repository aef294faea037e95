package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

// HealthHandler serves the health-check and engine-status endpoints.
type HealthHandler struct {
	store     domain.BetStore
	feedUp    func() bool
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. feedUp reports whether the price
// stream has a live connection and may be nil.
func NewHealthHandler(store domain.BetStore, feedUp func() bool, startedAt time.Time, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, feedUp: feedUp, startedAt: startedAt, logger: logger}
}

// HealthCheck responds with a simple liveness status.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status reports engine state: uptime, feed connectivity, and bet counts per
// lifecycle state.
// GET /api/status
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountByStatus(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: status counts failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read bet counts")
		return
	}

	byStatus := make(map[string]int64, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}

	feedConnected := false
	if h.feedUp != nil {
		feedConnected = h.feedUp()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"feed_connected": feedConnected,
		"bets_by_status": byStatus,
	})
}
