package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

// PolicyHandler serves the operator matchmaking-policy endpoints.
type PolicyHandler struct {
	policies domain.PolicyStore
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewPolicyHandler creates a PolicyHandler. audit may be nil.
func NewPolicyHandler(policies domain.PolicyStore, audit domain.AuditStore, logger *slog.Logger) *PolicyHandler {
	return &PolicyHandler{policies: policies, audit: audit, logger: logger}
}

// policyView is the wire representation of the matchmaking policy.
type policyView struct {
	MatchmakingEnabled      bool   `json:"matchmaking_enabled"`
	Mode                    string `json:"mode"`
	HouseBotFallbackEnabled bool   `json:"house_bot_fallback_enabled"`
	FallbackTimeoutSeconds  int    `json:"fallback_timeout_seconds"`
}

// GetPolicy returns the current matchmaking policy.
// GET /api/policy
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.policies.Policy(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get policy failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get policy")
		return
	}

	writeJSON(w, http.StatusOK, policyView{
		MatchmakingEnabled:      p.MatchmakingEnabled,
		Mode:                    string(p.Mode),
		HouseBotFallbackEnabled: p.HouseBotFallbackEnabled,
		FallbackTimeoutSeconds:  int(p.FallbackTimeout / time.Second),
	})
}

// UpdatePolicy replaces the matchmaking policy. The change applies to new
// submissions only; bets already in the pool keep their armed fallbacks.
// PUT /api/policy
func (h *PolicyHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var v policyView
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	mode := domain.MatchMode(v.Mode)
	if mode != domain.MatchModeP2P && mode != domain.MatchModeHouseBot {
		writeError(w, http.StatusBadRequest, "mode must be P2P or HOUSE_BOT")
		return
	}
	if v.FallbackTimeoutSeconds < 0 {
		writeError(w, http.StatusBadRequest, "fallback_timeout_seconds must not be negative")
		return
	}

	p := domain.MatchPolicy{
		MatchmakingEnabled:      v.MatchmakingEnabled,
		Mode:                    mode,
		HouseBotFallbackEnabled: v.HouseBotFallbackEnabled,
		FallbackTimeout:         time.Duration(v.FallbackTimeoutSeconds) * time.Second,
	}
	if err := h.policies.Update(r.Context(), p); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: update policy failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update policy")
		return
	}

	if h.audit != nil {
		_ = h.audit.Log(r.Context(), "policy.updated", map[string]any{
			"matchmaking_enabled":        p.MatchmakingEnabled,
			"mode":                       string(p.Mode),
			"house_bot_fallback_enabled": p.HouseBotFallbackEnabled,
			"fallback_timeout_seconds":   v.FallbackTimeoutSeconds,
		})
	}
	h.logger.InfoContext(r.Context(), "matchmaking policy updated",
		slog.String("mode", string(p.Mode)),
		slog.Bool("matchmaking_enabled", p.MatchmakingEnabled),
	)

	writeJSON(w, http.StatusOK, v)
}

// ListAudit returns recent audit entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *PolicyHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []any{}})
		return
	}

	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
