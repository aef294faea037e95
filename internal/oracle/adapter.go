// Package oracle provides the freshest available price per symbol and lets
// callers freeze that price against a bet for later settlement. The adapter is
// an explicitly constructed component: tests instantiate isolated instances
// and drive them with synthetic ticks instead of sharing process-wide state.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/updownlabs/updown/internal/domain"
)

// Streamer is the push-style feed the adapter ingests from.
type Streamer interface {
	// Ticks delivers price observations. Closing the channel stops stream
	// ingestion without stopping the adapter.
	Ticks() <-chan domain.PriceTick

	// Connected reports whether the stream has a live connection. The poll
	// fallback runs only while this is false, avoiding competing writers.
	Connected() bool
}

// Poller fetches a price on demand. It backs both the out-of-band refresh and
// the periodic fallback while the stream is down.
type Poller interface {
	FetchPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// Config holds the adapter's operating parameters.
type Config struct {
	Symbols []string

	// FreshFor is the age below which a cached price is served without
	// triggering a refresh.
	FreshFor time.Duration

	// LockTTL is how long a locked price stays consumable.
	LockTTL time.Duration

	// PollEvery is the fallback polling interval while the stream is down.
	PollEvery time.Duration

	// SweepEvery is the interval of the expired-lock garbage collection.
	SweepEvery time.Duration
}

func (c *Config) defaults() {
	if c.FreshFor <= 0 {
		c.FreshFor = 10 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 5 * time.Minute
	}
	if c.PollEvery <= 0 {
		c.PollEvery = 10 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 60 * time.Second
	}
}

// Adapter caches the latest price per symbol and manages price locks. The
// cache has exactly one writer (the Run loop); readers never block on it.
// Oracle unavailability is never fatal: callers always get the last known
// price and can judge staleness from the observation timestamp.
type Adapter struct {
	cfg    Config
	stream Streamer
	poller Poller
	locks  domain.LockStore
	mirror domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger

	mu     sync.RWMutex
	prices map[string]domain.PricePoint

	refreshCh chan string
}

// New creates an Adapter. stream, poller, mirror, and bus may each be nil; the
// adapter degrades to whatever sources and sinks it has.
func New(cfg Config, stream Streamer, poller Poller, locks domain.LockStore, mirror domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *Adapter {
	cfg.defaults()
	return &Adapter{
		cfg:       cfg,
		stream:    stream,
		poller:    poller,
		locks:     locks,
		mirror:    mirror,
		bus:       bus,
		logger:    logger.With(slog.String("component", "oracle")),
		prices:    make(map[string]domain.PricePoint),
		refreshCh: make(chan string, 64),
	}
}

// LatestPrice returns the freshest available price for the symbol without
// blocking. A stale value is returned as-is with a refresh triggered out of
// band; callers that care about staleness inspect the returned timestamp. On a
// cold cache it returns ErrNoPrice.
func (a *Adapter) LatestPrice(ctx context.Context, symbol string) (domain.PricePoint, error) {
	a.mu.RLock()
	pt, ok := a.prices[symbol]
	a.mu.RUnlock()

	if !ok {
		a.requestRefresh(symbol)
		return domain.PricePoint{}, fmt.Errorf("oracle: %s: %w", symbol, domain.ErrNoPrice)
	}
	if pt.Age(time.Now()) > a.cfg.FreshFor {
		a.requestRefresh(symbol)
	}
	return pt, nil
}

// LockPrice snapshots the latest price and stores it keyed by bet ID with an
// expiry. A second call for the same bet overwrites the prior lock.
func (a *Adapter) LockPrice(ctx context.Context, symbol, betID string) (domain.LockedPrice, error) {
	pt, err := a.LatestPrice(ctx, symbol)
	if err != nil {
		return domain.LockedPrice{}, err
	}

	now := time.Now().UTC()
	lock := domain.LockedPrice{
		BetID:     betID,
		Symbol:    symbol,
		Price:     pt.Price,
		LockedAt:  now,
		ExpiresAt: now.Add(a.cfg.LockTTL),
	}
	if err := a.locks.Put(ctx, lock); err != nil {
		return domain.LockedPrice{}, fmt.Errorf("oracle: store lock for bet %s: %w", betID, err)
	}
	return lock, nil
}

// GetLockedPrice returns the unexpired lock for a bet. Expired locks are
// lazily deleted and reported as not found.
func (a *Adapter) GetLockedPrice(ctx context.Context, betID string) (domain.LockedPrice, error) {
	lock, err := a.locks.Get(ctx, betID)
	if err != nil {
		return domain.LockedPrice{}, err
	}
	if lock.Expired(time.Now()) {
		_ = a.locks.Delete(ctx, betID)
		return domain.LockedPrice{}, fmt.Errorf("oracle: lock for bet %s: %w", betID, domain.ErrNotFound)
	}
	return lock, nil
}

// ReleaseLock removes a bet's price lock, e.g. on cancellation or after
// settlement consumed it.
func (a *Adapter) ReleaseLock(ctx context.Context, betID string) error {
	if err := a.locks.Delete(ctx, betID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("oracle: release lock for bet %s: %w", betID, err)
	}
	return nil
}

// Run is the single ingestion loop: it applies stream ticks, serves refresh
// requests, polls while the stream is down, and sweeps expired locks. It
// returns when ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	pollTicker := time.NewTicker(a.cfg.PollEvery)
	defer pollTicker.Stop()
	sweepTicker := time.NewTicker(a.cfg.SweepEvery)
	defer sweepTicker.Stop()

	var ticks <-chan domain.PriceTick
	if a.stream != nil {
		ticks = a.stream.Ticks()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case tick, ok := <-ticks:
			if !ok {
				// Stream gone for good; keep serving from the
				// polling fallback.
				ticks = nil
				continue
			}
			a.apply(ctx, tick)

		case symbol := <-a.refreshCh:
			a.pollOne(ctx, symbol)

		case <-pollTicker.C:
			if a.stream == nil || !a.stream.Connected() {
				for _, symbol := range a.cfg.Symbols {
					a.pollOne(ctx, symbol)
				}
			}

		case <-sweepTicker.C:
			n, err := a.locks.Sweep(ctx, time.Now())
			if err != nil {
				a.logger.WarnContext(ctx, "lock sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.DebugContext(ctx, "swept expired locks", slog.Int("count", n))
			}
		}
	}
}

// apply overwrites the cached price for the tick's symbol and propagates it to
// the mirror cache and the price channel. Mirror and bus failures degrade to
// warnings; the in-process cache always wins.
func (a *Adapter) apply(ctx context.Context, tick domain.PriceTick) {
	a.mu.Lock()
	a.prices[tick.Symbol] = domain.PricePoint{Price: tick.Price, At: tick.At}
	a.mu.Unlock()

	if a.mirror != nil {
		if err := a.mirror.SetPrice(ctx, tick.Symbol, tick.Price, tick.At); err != nil {
			a.logger.WarnContext(ctx, "price mirror update failed",
				slog.String("symbol", tick.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if a.bus != nil {
		evt, _ := json.Marshal(domain.PriceEvent{
			Event:  "price.update",
			Symbol: tick.Symbol,
			Price:  tick.Price,
			At:     tick.At,
		})
		if err := a.bus.Publish(ctx, domain.ChannelPrices, evt); err != nil {
			a.logger.WarnContext(ctx, "price event publish failed",
				slog.String("symbol", tick.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// pollOne fetches a single symbol through the poller and applies the result.
func (a *Adapter) pollOne(ctx context.Context, symbol string) {
	if a.poller == nil {
		return
	}
	price, ts, err := a.poller.FetchPrice(ctx, symbol)
	if err != nil {
		a.logger.WarnContext(ctx, "poll fetch failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	a.apply(ctx, domain.PriceTick{Symbol: symbol, Price: price, At: ts})
}

// requestRefresh queues an out-of-band refresh without blocking the caller.
func (a *Adapter) requestRefresh(symbol string) {
	select {
	case a.refreshCh <- symbol:
	default:
	}
}
