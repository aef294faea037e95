// Package feed ingests external price data. The WebSocket feed is the primary
// source; the REST client serves as a polling fallback while the stream is
// down. Both emit domain.PriceTick values so the oracle can be driven by
// synthetic events in tests.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/updownlabs/updown/internal/domain"
)

const (
	// handshakeTimeout bounds the WebSocket dial.
	handshakeTimeout = 15 * time.Second

	// readWait is the maximum silence tolerated on the connection. Binance
	// pings roughly every 20s; missing three in a row drops the connection.
	readWait = 70 * time.Second

	// writeWait is the time allowed to write a control frame to the peer.
	writeWait = 10 * time.Second
)

// WSConfig configures the streaming feed.
type WSConfig struct {
	URL     string
	Symbols []string

	// ReconnectBase is the initial backoff delay; it doubles per attempt up
	// to ReconnectMax. After MaxAttempts consecutive failures the feed gives
	// up and the engine continues on the polling fallback indefinitely.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxAttempts   int
}

// WSFeed maintains a combined miniTicker subscription and pushes every update
// onto the Ticks channel. It reconnects with capped exponential backoff.
type WSFeed struct {
	cfg       WSConfig
	ticks     chan domain.PriceTick
	connected atomic.Bool
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewWSFeed creates a feed for the given symbols.
func NewWSFeed(cfg WSConfig, logger *slog.Logger) *WSFeed {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 2 * time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	return &WSFeed{
		cfg:    cfg,
		ticks:  make(chan domain.PriceTick, 256),
		logger: logger.With(slog.String("component", "ws_feed")),
		done:   make(chan struct{}),
	}
}

// Ticks returns the channel price updates are delivered on. The channel is
// closed when the feed stops for good.
func (f *WSFeed) Ticks() <-chan domain.PriceTick {
	return f.ticks
}

// Connected reports whether the stream currently has a live connection. The
// oracle polls the REST fallback only while this is false.
func (f *WSFeed) Connected() bool {
	return f.connected.Load()
}

// Run connects and reads until ctx is cancelled. Each disconnect triggers a
// reconnect with exponential backoff; the attempt counter resets after a
// healthy connection. Exhausting the attempt budget is not fatal: the feed
// stops and the engine keeps operating on the polling fallback.
func (f *WSFeed) Run(ctx context.Context) error {
	defer close(f.ticks)

	if len(f.cfg.Symbols) == 0 {
		f.logger.Info("no symbols to subscribe, feed idle")
		return nil
	}

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		f.connected.Store(false)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		if attempt > f.cfg.MaxAttempts {
			f.logger.Error("stream reconnect budget exhausted, falling back to polling",
				slog.Int("attempts", attempt-1),
			)
			return nil
		}

		delay := f.cfg.ReconnectBase << (attempt - 1)
		if delay > f.cfg.ReconnectMax || delay <= 0 {
			delay = f.cfg.ReconnectMax
		}
		f.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
	}
}

// runConnection dials, reads ticker messages, and returns on any error. A nil
// return means the feed was closed deliberately.
func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	f.connected.Store(true)
	f.logger.Info("stream connected", slog.Int("symbols", len(f.cfg.Symbols)))

	// Close the connection when the context ends so ReadMessage unblocks.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.done:
				return nil
			default:
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		tick, ok := parseCombinedTicker(raw)
		if !ok {
			continue
		}
		select {
		case f.ticks <- tick:
		default:
			// Drop when the consumer lags; every tick is
			// authoritative-latest so older ones are worthless.
		}
	}
}

// streamURL builds the combined-stream URL, e.g.
// wss://host/stream?streams=btcusdt@miniTicker/ethusdt@miniTicker.
func (f *WSFeed) streamURL() string {
	parts := make([]string, 0, len(f.cfg.Symbols))
	for _, s := range f.cfg.Symbols {
		parts = append(parts, strings.ToLower(s)+"@miniTicker")
	}
	return strings.TrimRight(f.cfg.URL, "/") + "/stream?streams=" + strings.Join(parts, "/")
}

// Close stops the feed.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// combinedMsg is the envelope of a combined-stream message.
type combinedMsg struct {
	Stream string          `json:"stream"`
	Data   miniTickerEvent `json:"data"`
}

// miniTickerEvent is the subset of the miniTicker payload the engine needs.
type miniTickerEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"` // epoch millis
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

// parseCombinedTicker extracts a price tick from a raw combined-stream
// message. Non-ticker or malformed messages are skipped.
func parseCombinedTicker(raw []byte) (domain.PriceTick, bool) {
	var msg combinedMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.PriceTick{}, false
	}
	if msg.Data.Symbol == "" || msg.Data.Close == "" {
		return domain.PriceTick{}, false
	}
	price, err := strconv.ParseFloat(msg.Data.Close, 64)
	if err != nil || price <= 0 {
		return domain.PriceTick{}, false
	}
	at := time.UnixMilli(msg.Data.EventTime)
	if msg.Data.EventTime == 0 {
		at = time.Now().UTC()
	}
	return domain.PriceTick{
		Symbol: strings.ToUpper(msg.Data.Symbol),
		Price:  price,
		At:     at,
	}, true
}
