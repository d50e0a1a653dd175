package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/exchange"
	"github.com/fundingarb/basisbot/internal/lock"
	"github.com/fundingarb/basisbot/internal/metrics"
	"github.com/fundingarb/basisbot/internal/pnl"
)

// Closer runs the close saga: a symmetric two-leg flatten with the same
// fork-join shape as the open saga but no compensation. Both legs fail and
// the position reverts to OPEN, retryable; one leg fails and the position is
// PARTIAL, recorded for manual follow-up since it is already being
// liquidated.
type Closer struct {
	cfg       Config
	positions domain.PositionStore
	trades    domain.TradeStore
	funding   *pnl.FundingService
	locks     *lock.Service
	traders   exchange.TraderBuilder
	prices    *PriceFetcher
	audit     domain.AuditStore
	events    EventSink
	metrics   *metrics.Metrics
	logger    *slog.Logger

	newID func() string
	now   func() time.Time
}

func NewCloser(cfg Config, positions domain.PositionStore, trades domain.TradeStore, funding *pnl.FundingService, locks *lock.Service, traders exchange.TraderBuilder, prices *PriceFetcher, audit domain.AuditStore, events EventSink, m *metrics.Metrics, logger *slog.Logger) *Closer {
	return &Closer{
		cfg:       cfg.withDefaults(),
		positions: positions,
		trades:    trades,
		funding:   funding,
		locks:     locks,
		traders:   traders,
		prices:    prices,
		audit:     audit,
		events:    events,
		metrics:   m,
		logger:    logger.With("component", "closer"),
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

// Close flattens both legs of an open position and settles it into an
// immutable trade record.
func (c *Closer) Close(ctx context.Context, positionID string, reason domain.CloseReason) (domain.Trade, error) {
	pos, err := c.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Trade{}, err
	}
	if pos.Status != domain.PositionStatusOpen {
		return domain.Trade{}, &domain.ValidationError{
			Field: "position", Value: positionID,
			Reason: fmt.Sprintf("cannot close position in status %s", pos.Status),
		}
	}

	lc, err := c.locks.Acquire(ctx, pos.UserID, pos.Symbol, c.cfg.CloseLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockConflict) {
			c.metrics.LockConflicts.Inc()
		}
		return domain.Trade{}, err
	}
	defer c.locks.Release(lc)

	log := c.logger.With("position_id", pos.ID, "user_id", pos.UserID, "symbol", pos.Symbol)

	longTrader, shortTrader, err := c.buildTraders(ctx, &pos)
	if err != nil {
		return domain.Trade{}, err
	}

	pos.Status = domain.PositionStatusClosing
	pos.CloseReason = reason
	if err := c.positions.Update(ctx, pos); err != nil {
		return domain.Trade{}, fmt.Errorf("mark closing: %w", err)
	}

	longRes, shortRes := runBothLegs(
		func() legResult {
			return c.submitCloseLeg(ctx, longTrader, domain.LegLong, &pos)
		},
		func() legResult {
			return c.submitCloseLeg(ctx, shortTrader, domain.LegShort, &pos)
		},
	)

	switch {
	case longRes.ok() && shortRes.ok():
		return c.settle(ctx, &pos, longTrader, shortTrader, longRes, shortRes, log)

	case !longRes.ok() && !shortRes.ok():
		// No leg moved; the position is still fully hedged.
		pos.Status = domain.PositionStatusOpen
		pos.CloseReason = ""
		if err := c.positions.Update(ctx, pos); err != nil {
			log.Error("reverting position to open failed", "error", err)
		}
		bilateral := &domain.BilateralError{Op: "close", LongErr: longRes.err, ShortErr: shortRes.err}
		c.metrics.SagaOutcomes.WithLabelValues("close", "reverted").Inc()
		log.Warn("close failed on both legs, position reverted to open",
			"long_error", longRes.err, "short_error", shortRes.err)
		return domain.Trade{}, bilateral

	default:
		return domain.Trade{}, c.partialClose(ctx, &pos, longRes, shortRes, log)
	}
}

// CloseLeg flattens only the given leg, used when a stop-loss or take-profit
// trigger fired on one exchange. The counter-leg is left open; deciding what
// to do with it is a separate risk decision. Only the closed leg's residual
// conditional orders are cancelled.
func (c *Closer) CloseLeg(ctx context.Context, positionID string, side domain.LegSide, reason domain.CloseReason) error {
	pos, err := c.positions.GetByID(ctx, positionID)
	if err != nil {
		return err
	}
	if pos.Status != domain.PositionStatusOpen {
		return &domain.ValidationError{
			Field: "position", Value: positionID,
			Reason: fmt.Sprintf("cannot close leg of position in status %s", pos.Status),
		}
	}

	return c.locks.WithLock(ctx, pos.UserID, pos.Symbol, c.cfg.CloseLockTTL, func(ctx context.Context) error {
		leg := pos.Leg(side)
		log := c.logger.With("position_id", pos.ID, "side", side, "exchange", leg.Exchange)

		trader, err := c.traders.Build(ctx, pos.UserID, leg.Exchange, pos.Symbol)
		if err != nil {
			return err
		}

		res := c.submitCloseLeg(ctx, trader, side, &pos)
		if res.err != nil {
			return fmt.Errorf("close %s leg: %w", side, res.err)
		}

		leg.ExitPrice = res.price
		leg.CloseOrderID = res.orderID
		leg.CloseFee = res.fee
		pos.CloseReason = reason
		pos.Status = domain.PositionStatusPartial
		pos.FailureReason = fmt.Sprintf("%s leg closed by %s trigger, %s leg still open", side, reason, side.Opposite())

		c.cancelLegConditionals(ctx, trader, &pos, side, log)

		if err := c.positions.Update(ctx, pos); err != nil {
			return fmt.Errorf("persist leg close: %w", err)
		}

		c.metrics.OpenPositions.Dec()
		c.metrics.SagaOutcomes.WithLabelValues("close", "leg_"+string(side)).Inc()
		c.auditLog(ctx, "position.leg_closed", map[string]any{
			"position_id": pos.ID, "side": string(side),
			"reason": string(reason), "exit_price": res.price.String(),
		})
		c.events.UnhedgedExposure(ctx, pos, fmt.Errorf("%s leg closed by %s, counter-leg unhedged", side, reason))
		log.Warn("single leg closed, counter-leg unhedged", "reason", reason)
		return nil
	})
}

func (c *Closer) buildTraders(ctx context.Context, pos *domain.Position) (*exchange.Trader, *exchange.Trader, error) {
	var longTrader, shortTrader *exchange.Trader
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := c.traders.Build(gctx, pos.UserID, pos.Long.Exchange, pos.Symbol)
		if err != nil {
			return fmt.Errorf("long leg %s: %w", pos.Long.Exchange, err)
		}
		longTrader = t
		return nil
	})
	g.Go(func() error {
		t, err := c.traders.Build(gctx, pos.UserID, pos.Short.Exchange, pos.Symbol)
		if err != nil {
			return fmt.Errorf("short leg %s: %w", pos.Short.Exchange, err)
		}
		shortTrader = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return longTrader, shortTrader, nil
}

func (c *Closer) submitCloseLeg(ctx context.Context, trader *exchange.Trader, side domain.LegSide, pos *domain.Position) legResult {
	params, err := trader.CloseParams(side)
	if err != nil {
		return legResult{side: side, err: err}
	}
	start := c.now()
	res := legSubmitter{trader: trader, prices: c.prices}.
		submit(ctx, side, side.CloseSide(), pos.Symbol, pos.Leg(side).Size, params, c.cfg.LegTimeout, false)
	c.metrics.LegLatency.WithLabelValues(trader.Session.Exchange()).
		Observe(c.now().Sub(start).Seconds())
	return res
}

func (c *Closer) settle(ctx context.Context, pos *domain.Position, longTrader, shortTrader *exchange.Trader, longRes, shortRes legResult, log *slog.Logger) (domain.Trade, error) {
	closedAt := c.now()
	pos.Long.ExitPrice = longRes.price
	pos.Long.CloseOrderID = longRes.orderID
	pos.Long.CloseFee = longRes.fee
	pos.Short.ExitPrice = shortRes.price
	pos.Short.CloseOrderID = shortRes.orderID
	pos.Short.CloseFee = shortRes.fee

	fundingPnL := c.fundingPnL(ctx, pos, longTrader, shortTrader, log)
	breakdown := pnl.Compute(pos, fundingPnL, closedAt)
	trade := breakdown.Trade(c.newID(), pos, closedAt)
	if err := c.trades.Create(ctx, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("create trade for %s: %w", pos.ID, err)
	}

	c.cancelLegConditionals(ctx, longTrader, pos, domain.LegLong, log)
	c.cancelLegConditionals(ctx, shortTrader, pos, domain.LegShort, log)

	pos.Status = domain.PositionStatusClosed
	pos.ClosedAt = &closedAt
	if err := c.positions.Update(ctx, *pos); err != nil {
		return trade, fmt.Errorf("persist closed position %s: %w", pos.ID, err)
	}

	c.metrics.SagaOutcomes.WithLabelValues("close", string(domain.PositionStatusClosed)).Inc()
	c.metrics.OpenPositions.Dec()
	c.auditLog(ctx, "position.closed", map[string]any{
		"position_id": pos.ID,
		"total_pnl":   breakdown.TotalPnL.String(),
		"roi_pct":     breakdown.ROIPct.String(),
		"reason":      string(pos.CloseReason),
	})
	c.events.PositionClosed(ctx, *pos, trade)
	log.Info("position closed",
		"total_pnl", breakdown.TotalPnL, "roi_pct", breakdown.ROIPct,
		"holding_seconds", breakdown.HoldingSeconds)
	return trade, nil
}

func (c *Closer) partialClose(ctx context.Context, pos *domain.Position, longRes, shortRes legResult, log *slog.Logger) error {
	filled, failed := longRes, shortRes
	if shortRes.ok() {
		filled, failed = shortRes, longRes
	}
	leg := pos.Leg(filled.side)
	leg.ExitPrice = filled.price
	leg.CloseOrderID = filled.orderID
	leg.CloseFee = filled.fee

	partialErr := &domain.PartialCloseError{
		FilledExchange: leg.Exchange,
		FailedExchange: pos.Leg(failed.side).Exchange,
		FailedSide:     failed.side,
		Err:            failed.err,
	}
	pos.Status = domain.PositionStatusPartial
	pos.FailureReason = partialErr.Error()
	if err := c.positions.Update(ctx, *pos); err != nil {
		log.Error("persisting partial close failed", "error", err)
	}

	c.metrics.SagaOutcomes.WithLabelValues("close", string(domain.PositionStatusPartial)).Inc()
	c.metrics.OpenPositions.Dec()
	c.auditLog(ctx, "position.close.partial", map[string]any{
		"position_id":     pos.ID,
		"failed_side":     string(failed.side),
		"failed_exchange": partialErr.FailedExchange,
	})
	c.events.UnhedgedExposure(ctx, *pos, partialErr)
	log.Error("partial close, manual follow-up required",
		"failed_side", failed.side, "error", failed.err)
	return partialErr
}

// fundingPnL syncs outstanding funding payments and returns the accumulated
// signed total. Best effort: a sync failure settles with what is recorded.
func (c *Closer) fundingPnL(ctx context.Context, pos *domain.Position, longTrader, shortTrader *exchange.Trader, log *slog.Logger) decimal.Decimal {
	if c.funding == nil {
		return decimal.Zero
	}
	sessions := map[domain.LegSide]domain.TradingSession{
		domain.LegLong:  longTrader.Session,
		domain.LegShort: shortTrader.Session,
	}
	if err := c.funding.Sync(ctx, pos, sessions); err != nil {
		log.Warn("funding sync incomplete at close", "error", err)
	}
	total, err := c.funding.TotalForPosition(ctx, pos.ID)
	if err != nil {
		log.Warn("funding total unavailable, settling without it", "error", err)
		return decimal.Zero
	}
	return total
}

func (c *Closer) cancelLegConditionals(ctx context.Context, trader *exchange.Trader, pos *domain.Position, side domain.LegSide, log *slog.Logger) {
	leg := pos.Leg(side)
	for _, id := range []string{leg.StopLoss.OrderID, leg.TakeProfit.OrderID} {
		if id == "" {
			continue
		}
		if _, err := trader.Conditional.Cancel(ctx, pos.Symbol, id); err != nil {
			log.Warn("conditional cancel failed",
				"side", side, "order_id", id, "error", err)
		}
	}
	leg.StopLoss.OrderID = ""
	leg.TakeProfit.OrderID = ""
}

func (c *Closer) auditLog(ctx context.Context, event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.Warn("audit log failed", "event", event, "error", err)
	}
}
