package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

// PriceSource is the read surface the price handler consumes.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (domain.PricePoint, error)
}

// PriceHandler serves current-price endpoints from the oracle's cache.
type PriceHandler struct {
	prices  PriceSource
	symbols []string
	logger  *slog.Logger
}

// NewPriceHandler creates a PriceHandler over the configured symbols.
func NewPriceHandler(prices PriceSource, symbols []string, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, symbols: symbols, logger: logger}
}

// priceView is the wire representation of one symbol's latest price.
type priceView struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
	AgeMillis  int64     `json:"age_ms"`
}

// ListPrices returns the latest price for every configured symbol. Symbols
// with no observation yet are omitted.
// GET /api/prices
func (h *PriceHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	out := make([]priceView, 0, len(h.symbols))
	for _, symbol := range h.symbols {
		pt, err := h.prices.LatestPrice(r.Context(), symbol)
		if err != nil {
			continue
		}
		out = append(out, priceView{
			Symbol:     symbol,
			Price:      pt.Price,
			ObservedAt: pt.At,
			AgeMillis:  pt.Age(now).Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": out})
}

// GetPrice returns the latest price for one symbol.
// GET /api/prices/{symbol}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := pathParam(r, "symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	pt, err := h.prices.LatestPrice(r.Context(), symbol)
	if err != nil {
		writeError(w, http.StatusNotFound, "no price observed for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, priceView{
		Symbol:     symbol,
		Price:      pt.Price,
		ObservedAt: pt.At,
		AgeMillis:  pt.Age(time.Now()).Milliseconds(),
	})
}
