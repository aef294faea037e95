// Package server exposes the bet lifecycle over HTTP and WebSocket. The API
// is a thin boundary: handlers translate status codes, the service and
// engines own the semantics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/server/handler"
	"github.com/updownlabs/updown/internal/server/middleware"
	"github.com/updownlabs/updown/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit bounds bet-creation requests per client per window. Zero
	// disables limiting even when a limiter is wired.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Bets   *handler.BetHandler
	Policy *handler.PolicyHandler
	Prices *handler.PriceHandler
}

// Server is the HTTP + WebSocket API server for the wager engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and status (no auth required for health).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Health.Status)

	// Bet lifecycle.
	createBet := http.HandlerFunc(handlers.Bets.CreateBet)
	if limiter != nil && cfg.RateLimit > 0 {
		mux.Handle("POST /api/bets", middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow)(createBet))
	} else {
		mux.Handle("POST /api/bets", createBet)
	}
	mux.HandleFunc("GET /api/bets", handlers.Bets.ListBets)
	mux.HandleFunc("GET /api/bets/{id}", handlers.Bets.GetBet)
	mux.HandleFunc("DELETE /api/bets/{id}", handlers.Bets.CancelBet)
	mux.HandleFunc("POST /api/bets/{id}/complete", handlers.Bets.CompleteBet)

	// Operator policy and audit trail.
	mux.HandleFunc("GET /api/policy", handlers.Policy.GetPolicy)
	mux.HandleFunc("PUT /api/policy", handlers.Policy.UpdatePolicy)
	mux.HandleFunc("GET /api/audit", handlers.Policy.ListAudit)

	// Prices.
	mux.HandleFunc("GET /api/prices", handlers.Prices.ListPrices)
	mux.HandleFunc("GET /api/prices/{symbol}", handlers.Prices.GetPrice)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
