package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/updownlabs/updown/internal/domain"
	"github.com/updownlabs/updown/internal/feed"
	"github.com/updownlabs/updown/internal/match"
	"github.com/updownlabs/updown/internal/notify"
	"github.com/updownlabs/updown/internal/oracle"
	"github.com/updownlabs/updown/internal/sched"
	"github.com/updownlabs/updown/internal/server"
	"github.com/updownlabs/updown/internal/server/handler"
	"github.com/updownlabs/updown/internal/server/ws"
	"github.com/updownlabs/updown/internal/service"
	"github.com/updownlabs/updown/internal/settle"
)

// run builds the lifecycle components on top of the wired dependencies and
// supervises every goroutine until the context is cancelled.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	feeRate, err := decimal.NewFromString(a.cfg.Settle.FeeRate)
	if err != nil {
		return fmt.Errorf("app: settle.fee_rate %q: %w", a.cfg.Settle.FeeRate, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Market data: streaming feed plus REST fallback, both behind the oracle.
	wsFeed := feed.NewWSFeed(feed.WSConfig{
		URL:           a.cfg.Feed.WsURL,
		Symbols:       a.cfg.Oracle.Symbols,
		ReconnectBase: a.cfg.Feed.ReconnectBase.Duration,
		ReconnectMax:  a.cfg.Feed.ReconnectMax.Duration,
		MaxAttempts:   a.cfg.Feed.MaxAttempts,
	}, a.logger)
	restClient := feed.NewRESTClient(a.cfg.Feed.RestURL)

	oracleAdapter := oracle.New(oracle.Config{
		Symbols:    a.cfg.Oracle.Symbols,
		FreshFor:   a.cfg.Oracle.FreshFor.Duration,
		LockTTL:    a.cfg.Oracle.LockTTL.Duration,
		PollEvery:  a.cfg.Oracle.PollEvery.Duration,
		SweepEvery: a.cfg.Oracle.SweepEvery.Duration,
	}, wsFeed, restClient, deps.LockStore, deps.PriceMirror, deps.SignalBus, a.logger)

	scheduler := sched.New(a.logger)
	defer scheduler.Close()

	matcher := match.NewEngine(deps.BetStore, deps.PolicyStore, oracleAdapter, deps.SignalBus, scheduler, a.logger)
	defer matcher.Close()

	settler := settle.NewEngine(settle.Config{
		FeeRate:        feeRate,
		CountdownEvery: a.cfg.Settle.CountdownEvery.Duration,
		ClaimTTL:       a.cfg.Settle.ClaimTTL.Duration,
	}, deps.BetStore, oracleAdapter,
		&alertingLedger{inner: deps.Ledger, alerts: deps.Alerts},
		deps.SignalBus, deps.AuditStore, deps.LockManager, scheduler, a.logger)

	// Timers do not survive restarts; re-arm bets left non-terminal by the
	// previous process before accepting new work.
	if err := recoverInFlight(ctx, deps.BetStore, settler, a.logger); err != nil {
		return err
	}

	betSvc := service.NewBetService(service.Config{
		SupportedSymbols: a.cfg.Oracle.Symbols,
		MaxPriceAge:      a.cfg.Bets.MaxPriceAge.Duration,
	}, deps.BetStore, oracleAdapter, matcher, deps.PolicyStore, deps.SignalBus, a.logger)

	g.Go(func() error {
		defer wsFeed.Close()
		return wsFeed.Run(ctx)
	})
	g.Go(func() error {
		return oracleAdapter.Run(ctx)
	})

	// Pairings flow from the matcher into the settlement countdown.
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case res, ok := <-matcher.Matches():
				if !ok {
					return nil
				}
				if err := settler.Start(ctx, res.BetID); err != nil {
					a.logger.ErrorContext(ctx, "settlement start failed",
						slog.String("bet_id", res.BetID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	})

	// Feed connectivity alerts: report loss and recovery transitions.
	g.Go(func() error {
		return a.watchFeed(ctx, wsFeed, deps.Alerts)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.RunEvery(ctx, a.cfg.Archive.RunEvery.Duration)
		})
	}

	if a.cfg.Server.Enabled {
		startedAt := time.Now().UTC()

		hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: startedAt,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})

		srv := server.NewServer(server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		}, server.Handlers{
			Health: handler.NewHealthHandler(deps.BetStore, wsFeed.Connected, startedAt, a.logger),
			Bets:   handler.NewBetHandler(betSvc, settler, a.logger),
			Policy: handler.NewPolicyHandler(deps.PolicyStore, deps.AuditStore, a.logger),
			Prices: handler.NewPriceHandler(oracleAdapter, a.cfg.Oracle.Symbols, a.logger),
		}, hub, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	return g.Wait()
}

// watchFeed polls the stream connection state and fires alerts on
// transitions. The first FeedDown waits out the full reconnect budget so
// transient blips stay quiet.
func (a *App) watchFeed(ctx context.Context, f *feed.WSFeed, alerts *notify.Alerts) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	wasUp := true
	downSince := time.Time{}
	grace := a.cfg.Feed.ReconnectMax.Duration * 2

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			up := f.Connected()
			switch {
			case up && !wasUp:
				alerts.FeedRestored(ctx)
				wasUp = true
			case !up && wasUp:
				if downSince.IsZero() {
					downSince = time.Now()
				}
				if time.Since(downSince) >= grace {
					alerts.FeedDown(ctx, a.cfg.Feed.MaxAttempts)
					wasUp = false
				}
			case up:
				downSince = time.Time{}
			}
		}
	}
}

// alertingLedger fires a notification whenever a credit fails, without
// changing the error the settlement engine sees.
type alertingLedger struct {
	inner  domain.BalanceLedger
	alerts *notify.Alerts
}

func (l *alertingLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal, assetUnit, ref string) error {
	err := l.inner.Credit(ctx, userID, amount, assetUnit, ref)
	if err != nil {
		l.alerts.LedgerFailure(ctx, ref, userID, amount.String()+" "+assetUnit)
	}
	return err
}

func (l *alertingLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal, assetUnit, ref string) error {
	return l.inner.Debit(ctx, userID, amount, assetUnit, ref)
}
