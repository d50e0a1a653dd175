package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/feed"
	"github.com/fundingarb/basisbot/internal/gateway"
	"github.com/fundingarb/basisbot/internal/saga"
	"github.com/fundingarb/basisbot/internal/server"
	"github.com/fundingarb/basisbot/internal/server/handler"
)

// ServeMode runs the trading loop: the command consumer feeding the open and
// close sagas, conditional-trigger watching over the exchange order streams,
// funding accrual, periodic archival, and the metrics endpoint.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	sagaCfg := saga.Config{
		LegTimeout:         a.cfg.Saga.LegTimeout.Duration,
		CompensationDelays: a.cfg.Saga.CompensationDurations(),
		OpenLockTTL:        a.cfg.Saga.OpenLockTTL.Duration,
		CloseLockTTL:       a.cfg.Saga.CloseLockTTL.Duration,
		PriceFetchWait:     a.cfg.Saga.PriceFetchWait.Duration,
		BalanceBuffer:      decimal.NewFromFloat(a.cfg.Saga.BalanceBuffer),
		MarginAsset:        a.cfg.Saga.MarginAsset,
	}

	prices := saga.NewPriceFetcher(a.cfg.Saga.PriceFetchWait.Duration, a.logger)
	orchestrator := saga.NewOrchestrator(sagaCfg, deps.Positions, deps.Locks, deps.Traders,
		prices, deps.Audit, deps.Events, deps.Metrics, a.logger)
	closer := saga.NewCloser(sagaCfg, deps.Positions, deps.Trades, deps.FundSvc, deps.Locks,
		deps.Traders, prices, deps.Audit, deps.Events, deps.Metrics, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	// Open/close commands arrive on a Redis stream.
	consumer := newCommandConsumer(deps.Bus, a.cfg.Redis.CommandStream, orchestrator, closer, a.logger)
	g.Go(func() error { return consumer.Run(ctx) })

	// Conditional trigger watcher over the configured private order streams.
	watcher := feed.NewTriggerWatcher(deps.Positions, closer, a.logger)
	var streams []*gateway.OrderStream
	for name, url := range a.cfg.Exchanges.WsURLs {
		streams = append(streams, gateway.NewOrderStream(
			name, url, orderStreamSubscription(name), watcher.Handler(), a.logger))
	}
	if len(streams) > 0 {
		g.Go(func() error { return watcher.Run(ctx, streams...) })
	} else {
		a.logger.WarnContext(ctx, "no order streams configured, stop-loss/take-profit fills will not auto-close legs")
	}

	// Funding accrual and shared mark prices for open positions.
	if a.cfg.Funding.Enabled {
		g.Go(func() error { return a.runFundingLoop(ctx, deps) })
	}

	// Periodic archival when S3 is wired.
	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchiveLoop(ctx, deps) })
	}

	if a.cfg.Server.Enabled {
		a.startAPIServer(ctx, g, deps)
	}

	if a.cfg.Metrics.Enabled {
		a.startMetricsServer(ctx, g, deps)
	}

	return g.Wait()
}

// startAPIServer runs the HTTP control surface under the errgroup.
func (a *App) startAPIServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	checks := make(map[string]handler.HealthCheckFunc, len(deps.Health))
	for name, probe := range deps.Health {
		checks[name] = probe
	}

	srv := server.NewServer(
		server.Config{
			Addr:        a.cfg.Server.Addr,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(checks),
			Positions: handler.NewPositionHandler(deps.Positions, a.logger),
			Trades:    handler.NewTradeHandler(deps.Trades, a.logger),
			Audit:     handler.NewAuditHandler(deps.Audit, a.logger),
			Commands:  handler.NewCommandHandler(deps.Bus, a.cfg.Redis.CommandStream, a.logger),
		},
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ArchiveMode runs one archival pass over records older than the retention
// window and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode", "cutoff", cutoff)

	trades, err := deps.Archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: trades: %w", err)
	}
	audits, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: audit: %w", err)
	}

	a.logger.InfoContext(ctx, "archive complete", "trades", trades, "audit_entries", audits)
	return nil
}

// runFundingLoop periodically syncs funding payments for every open position
// and refreshes the shared mark-price cache for their legs.
func (a *App) runFundingLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Funding.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.accrueFunding(ctx, deps)
		}
	}
}

func (a *App) accrueFunding(ctx context.Context, deps *Dependencies) {
	open, err := deps.Positions.ListByStatus(ctx, domain.PositionStatusOpen, domain.ListOpts{Limit: 500})
	if err != nil {
		a.logger.ErrorContext(ctx, "funding: listing open positions failed", "error", err)
		return
	}

	for _, pos := range open {
		sessions := make(map[domain.LegSide]domain.TradingSession, 2)
		for _, side := range []domain.LegSide{domain.LegLong, domain.LegShort} {
			leg := pos.Leg(side)
			trader, err := deps.Traders.Build(ctx, pos.UserID, leg.Exchange, pos.Symbol)
			if err != nil {
				a.logger.WarnContext(ctx, "funding: trader build failed",
					"position_id", pos.ID, "exchange", leg.Exchange, "error", err)
				continue
			}
			sessions[side] = trader.Session

			if price, err := trader.Session.FetchMarkPrice(ctx, pos.Symbol); err == nil {
				_ = deps.MarkPrices.Set(ctx, leg.Exchange, pos.Symbol, price, time.Now().UTC())
			}
		}
		if len(sessions) == 0 {
			continue
		}
		if err := deps.FundSvc.Sync(ctx, &pos, sessions); err != nil {
			a.logger.WarnContext(ctx, "funding: sync failed",
				"position_id", pos.ID, "error", err)
		}
	}
}

// runArchiveLoop periodically archives records past the retention window.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
			if _, err := deps.Archiver.ArchiveTrades(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive: trades failed", "error", err)
			}
			if _, err := deps.Archiver.ArchiveAudit(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive: audit failed", "error", err)
			}
		}
	}
}

// startMetricsServer exposes the Prometheus registry over HTTP.
func (a *App) startMetricsServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "metrics server listening", "addr", a.cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// orderStreamSubscription returns the subscribe frame sent after connecting
// to an exchange's private order stream. Exchanges whose stream is scoped by
// the URL itself (listen-key style) need none.
func orderStreamSubscription(exchange string) []byte {
	switch exchange {
	case "okx":
		return []byte(`{"op":"subscribe","args":[{"channel":"orders","instType":"SWAP"},{"channel":"orders-algo","instType":"SWAP"}]}`)
	default:
		return nil
	}
}
