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
)

// OpenRequest describes a position to open: a long leg on one exchange
// hedged by a short leg on another, with optional trigger levels.
type OpenRequest struct {
	UserID        string
	Symbol        string
	LongExchange  string
	ShortExchange string
	Quantity      decimal.Decimal
	LongLeverage  decimal.Decimal
	ShortLeverage decimal.Decimal
	// StopLoss and TakeProfit are optional trigger prices armed on both
	// legs after a successful open. Zero means not requested.
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

func (r OpenRequest) validate() error {
	switch {
	case r.UserID == "":
		return &domain.ValidationError{Field: "user_id", Value: "", Reason: "required"}
	case r.Symbol == "":
		return &domain.ValidationError{Field: "symbol", Value: "", Reason: "required"}
	case r.LongExchange == r.ShortExchange:
		return &domain.ValidationError{Field: "short_exchange", Value: r.ShortExchange, Reason: "legs must be on different exchanges"}
	case !r.Quantity.IsPositive():
		return &domain.ValidationError{Field: "quantity", Value: r.Quantity.String(), Reason: "must be positive"}
	}
	one := decimal.NewFromInt(1)
	if r.LongLeverage.LessThan(one) {
		return &domain.ValidationError{Field: "long_leverage", Value: r.LongLeverage.String(), Reason: "must be at least 1"}
	}
	if r.ShortLeverage.LessThan(one) {
		return &domain.ValidationError{Field: "short_leverage", Value: r.ShortLeverage.String(), Reason: "must be at least 1"}
	}
	return nil
}

// Orchestrator runs the open saga. State machine: PENDING to OPEN on double
// fill, PENDING to FAILED when both legs fail or a lone fill is compensated,
// PENDING to PARTIAL when compensation exhausts its attempts.
type Orchestrator struct {
	cfg       Config
	positions domain.PositionStore
	locks     *lock.Service
	traders   exchange.TraderBuilder
	balance   *BalanceValidator
	prices    *PriceFetcher
	audit     domain.AuditStore
	events    EventSink
	metrics   *metrics.Metrics
	logger    *slog.Logger

	newID func() string
	now   func() time.Time
}

func NewOrchestrator(cfg Config, positions domain.PositionStore, locks *lock.Service, traders exchange.TraderBuilder, prices *PriceFetcher, audit domain.AuditStore, events EventSink, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:       cfg,
		positions: positions,
		locks:     locks,
		traders:   traders,
		balance:   NewBalanceValidator(cfg.BalanceBuffer, cfg.MarginAsset),
		prices:    prices,
		audit:     audit,
		events:    events,
		metrics:   m,
		logger:    logger.With("component", "orchestrator"),
		newID:     func() string { return uuid.New().String() },
		now:       time.Now,
	}
}

// Open runs the open saga to a terminal outcome. Credential and margin
// failures surface before the lock is taken or any order is placed.
func (o *Orchestrator) Open(ctx context.Context, req OpenRequest) (domain.Position, error) {
	if err := req.validate(); err != nil {
		return domain.Position{}, err
	}

	log := o.logger.With("user_id", req.UserID, "symbol", req.Symbol,
		"long", req.LongExchange, "short", req.ShortExchange)

	// Building the traders first makes missing credentials and unknown
	// symbols fail before the lock is held, and the balance check below
	// needs the authenticated sessions anyway.
	longTrader, shortTrader, err := o.buildTraders(ctx, req)
	if err != nil {
		return domain.Position{}, err
	}

	price, err := o.referencePrice(ctx, longTrader, shortTrader, req.Symbol)
	if err != nil {
		return domain.Position{}, err
	}

	legs := []legMargin{
		{side: domain.LegLong, exchange: req.LongExchange, session: longTrader.Session, leverage: req.LongLeverage},
		{side: domain.LegShort, exchange: req.ShortExchange, session: shortTrader.Session, leverage: req.ShortLeverage},
	}
	if err := o.balance.Validate(ctx, legs, req.Quantity, price); err != nil {
		return domain.Position{}, err
	}

	lc, err := o.locks.Acquire(ctx, req.UserID, req.Symbol, o.cfg.OpenLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockConflict) {
			o.metrics.LockConflicts.Inc()
		}
		return domain.Position{}, err
	}
	defer o.locks.Release(lc)

	pos := domain.Position{
		ID:       o.newID(),
		UserID:   req.UserID,
		Symbol:   req.Symbol,
		Status:   domain.PositionStatusPending,
		OpenedAt: o.now(),
		Long: domain.Leg{
			Exchange: req.LongExchange,
			Size:     req.Quantity,
			Leverage: req.LongLeverage,
			StopLoss: domain.ConditionalLevel{Price: req.StopLoss},
			TakeProfit: domain.ConditionalLevel{
				Price: req.TakeProfit,
			},
		},
		Short: domain.Leg{
			Exchange:   req.ShortExchange,
			Size:       req.Quantity,
			Leverage:   req.ShortLeverage,
			StopLoss:   domain.ConditionalLevel{Price: req.StopLoss},
			TakeProfit: domain.ConditionalLevel{Price: req.TakeProfit},
		},
	}
	if err := o.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("create position: %w", err)
	}
	o.auditLog(ctx, "position.open.started", map[string]any{
		"position_id": pos.ID, "user_id": req.UserID, "symbol": req.Symbol,
		"long": req.LongExchange, "short": req.ShortExchange,
		"quantity": req.Quantity.String(),
	})

	longRes, shortRes := o.submitOpenLegs(ctx, &pos, longTrader, shortTrader, req.Quantity)

	switch {
	case longRes.ok() && shortRes.ok():
		return o.finishOpen(ctx, &pos, longTrader, shortTrader, longRes, shortRes, log)

	case !longRes.ok() && !shortRes.ok():
		err := &domain.BilateralError{Op: "open", LongErr: longRes.err, ShortErr: shortRes.err}
		o.markFailed(ctx, &pos, err.Error())
		o.metrics.SagaOutcomes.WithLabelValues("open", string(domain.PositionStatusFailed)).Inc()
		o.events.PositionFailed(ctx, pos, err)
		log.Warn("open failed on both legs", "position_id", pos.ID,
			"long_error", longRes.err, "short_error", shortRes.err)
		return pos, err

	default:
		return o.compensateOpen(ctx, &pos, longTrader, shortTrader, longRes, shortRes, req.Quantity, log)
	}
}

func (o *Orchestrator) buildTraders(ctx context.Context, req OpenRequest) (*exchange.Trader, *exchange.Trader, error) {
	var longTrader, shortTrader *exchange.Trader
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := o.traders.Build(gctx, req.UserID, req.LongExchange, req.Symbol)
		if err != nil {
			return fmt.Errorf("long leg %s: %w", req.LongExchange, err)
		}
		longTrader = t
		return nil
	})
	g.Go(func() error {
		t, err := o.traders.Build(gctx, req.UserID, req.ShortExchange, req.Symbol)
		if err != nil {
			return fmt.Errorf("short leg %s: %w", req.ShortExchange, err)
		}
		shortTrader = t
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return longTrader, shortTrader, nil
}

// referencePrice fetches a mark price for margin calculation, preferring the
// long venue.
func (o *Orchestrator) referencePrice(ctx context.Context, longTrader, shortTrader *exchange.Trader, symbol string) (decimal.Decimal, error) {
	price, err := longTrader.Session.FetchMarkPrice(ctx, symbol)
	if err == nil && price.IsPositive() {
		return price, nil
	}
	price, err2 := shortTrader.Session.FetchMarkPrice(ctx, symbol)
	if err2 == nil && price.IsPositive() {
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("fetch mark price for %s: %w", symbol, errors.Join(err, err2))
}

func (o *Orchestrator) submitOpenLegs(ctx context.Context, pos *domain.Position, longTrader, shortTrader *exchange.Trader, qty decimal.Decimal) (legResult, legResult) {
	return runBothLegs(
		func() legResult {
			return o.submitOpenLeg(ctx, longTrader, domain.LegLong, pos.Symbol, qty)
		},
		func() legResult {
			return o.submitOpenLeg(ctx, shortTrader, domain.LegShort, pos.Symbol, qty)
		},
	)
}

func (o *Orchestrator) submitOpenLeg(ctx context.Context, trader *exchange.Trader, side domain.LegSide, symbol string, qty decimal.Decimal) legResult {
	params, err := trader.OpenParams(side)
	if err != nil {
		return legResult{side: side, err: err}
	}
	start := o.now()
	res := legSubmitter{trader: trader, prices: o.prices}.
		submit(ctx, side, side.OpenSide(), symbol, qty, params, o.cfg.LegTimeout, true)
	o.metrics.LegLatency.WithLabelValues(trader.Session.Exchange()).
		Observe(o.now().Sub(start).Seconds())
	return res
}

func (o *Orchestrator) finishOpen(ctx context.Context, pos *domain.Position, longTrader, shortTrader *exchange.Trader, longRes, shortRes legResult, log *slog.Logger) (domain.Position, error) {
	pos.Long.EntryPrice = longRes.price
	pos.Long.OpenOrderID = longRes.orderID
	pos.Long.OpenFee = longRes.fee
	pos.Short.EntryPrice = shortRes.price
	pos.Short.OpenOrderID = shortRes.orderID
	pos.Short.OpenFee = shortRes.fee
	pos.Status = domain.PositionStatusOpen

	o.armConditionals(ctx, pos, longTrader, shortTrader)

	if err := o.positions.Update(ctx, *pos); err != nil {
		return *pos, fmt.Errorf("persist open position %s: %w", pos.ID, err)
	}

	o.metrics.SagaOutcomes.WithLabelValues("open", string(domain.PositionStatusOpen)).Inc()
	o.metrics.OpenPositions.Inc()
	o.auditLog(ctx, "position.opened", map[string]any{
		"position_id": pos.ID,
		"long_entry":  longRes.price.String(),
		"short_entry": shortRes.price.String(),
	})
	o.events.PositionOpened(ctx, *pos)
	log.Info("position opened", "position_id", pos.ID,
		"long_entry", longRes.price, "short_entry", shortRes.price,
		"cond_status", pos.CondStat)
	return *pos, nil
}

// armConditionals is best effort: a failure never changes the OPEN status,
// it only marks the conditional status FAILED for separate reporting, since
// the position is already economically live.
func (o *Orchestrator) armConditionals(ctx context.Context, pos *domain.Position, longTrader, shortTrader *exchange.Trader) {
	if !pos.Long.StopLoss.IsSet() && !pos.Long.TakeProfit.IsSet() {
		return
	}

	var firstErr error
	arm := func(trader *exchange.Trader, side domain.LegSide) {
		leg := pos.Leg(side)
		if leg.StopLoss.IsSet() {
			id, err := trader.Conditional.SetStopLoss(ctx, pos.Symbol, side, leg.Size, leg.StopLoss.Price)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("stop loss on %s: %w", leg.Exchange, err)
				}
			} else {
				leg.StopLoss.OrderID = id
			}
		}
		if leg.TakeProfit.IsSet() {
			id, err := trader.Conditional.SetTakeProfit(ctx, pos.Symbol, side, leg.Size, leg.TakeProfit.Price)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("take profit on %s: %w", leg.Exchange, err)
				}
			} else {
				leg.TakeProfit.OrderID = id
			}
		}
	}
	arm(longTrader, domain.LegLong)
	arm(shortTrader, domain.LegShort)

	if firstErr != nil {
		pos.CondStat = domain.ConditionalStatusFailed
		o.metrics.ConditionalFailures.Inc()
		o.events.ConditionalFailed(ctx, *pos, firstErr)
		o.logger.Warn("conditional order setup failed",
			"position_id", pos.ID, "error", firstErr)
		return
	}
	pos.CondStat = domain.ConditionalStatusSet
}

// compensateOpen closes the lone filled leg with bounded retries. Success
// yields a clean FAILED with no residual exposure; exhaustion yields PARTIAL
// and a RollbackFailedError that requires manual operator action.
func (o *Orchestrator) compensateOpen(ctx context.Context, pos *domain.Position, longTrader, shortTrader *exchange.Trader, longRes, shortRes legResult, qty decimal.Decimal, log *slog.Logger) (domain.Position, error) {
	filled, failed := longRes, shortRes
	trader := longTrader
	if shortRes.ok() {
		filled, failed = shortRes, longRes
		trader = shortTrader
	}
	exchangeName := pos.Leg(filled.side).Exchange

	log.Warn("one leg failed, compensating",
		"position_id", pos.ID, "filled_side", filled.side,
		"filled_exchange", exchangeName, "leg_error", failed.err)

	var compErr error
	for _, delay := range o.cfg.CompensationDelays {
		if err := sleep(ctx, delay); err != nil {
			compErr = err
			break
		}
		o.metrics.CompensationAttempts.Inc()
		compErr = o.submitCompensation(ctx, trader, filled.side, pos.Symbol, qty)
		if compErr == nil {
			break
		}
		log.Warn("compensation attempt failed",
			"position_id", pos.ID, "exchange", exchangeName, "error", compErr)
	}

	if compErr == nil {
		reason := fmt.Sprintf("%s leg failed (%v); %s leg compensated", failed.side, failed.err, filled.side)
		o.markFailed(ctx, pos, reason)
		o.metrics.SagaOutcomes.WithLabelValues("open", string(domain.PositionStatusFailed)).Inc()
		err := fmt.Errorf("open aborted, %s leg compensated: %w", filled.side, failed.err)
		o.events.PositionFailed(ctx, *pos, err)
		log.Info("compensation succeeded", "position_id", pos.ID)
		return *pos, err
	}

	rollbackErr := &domain.RollbackFailedError{
		Exchange: exchangeName,
		Side:     filled.side,
		Attempts: len(o.cfg.CompensationDelays),
		Err:      compErr,
	}
	pos.Status = domain.PositionStatusPartial
	pos.FailureReason = rollbackErr.Error()
	pos.Leg(filled.side).EntryPrice = filled.price
	pos.Leg(filled.side).OpenOrderID = filled.orderID
	pos.Leg(filled.side).OpenFee = filled.fee
	if err := o.positions.Update(ctx, *pos); err != nil {
		log.Error("persisting partial position failed", "position_id", pos.ID, "error", err)
	}

	o.metrics.SagaOutcomes.WithLabelValues("open", string(domain.PositionStatusPartial)).Inc()
	o.metrics.RollbackFailures.Inc()
	o.auditLog(ctx, "position.rollback_failed", map[string]any{
		"position_id": pos.ID,
		"exchange":    exchangeName,
		"side":        string(filled.side),
		"attempts":    rollbackErr.Attempts,
	})
	o.events.UnhedgedExposure(ctx, *pos, rollbackErr)
	log.Error("compensation exhausted, unhedged exposure",
		"position_id", pos.ID, "exchange", exchangeName, "attempts", rollbackErr.Attempts)
	return *pos, rollbackErr
}

func (o *Orchestrator) submitCompensation(ctx context.Context, trader *exchange.Trader, side domain.LegSide, symbol string, qty decimal.Decimal) error {
	params, err := trader.CloseParams(side)
	if err != nil {
		return err
	}
	_, err = submitWithTimeout(ctx, o.cfg.LegTimeout, func(ctx context.Context) (domain.OrderAck, error) {
		return trader.Session.CreateMarketOrder(ctx, symbol, side.CloseSide(), qty, params)
	})
	return err
}

func (o *Orchestrator) markFailed(ctx context.Context, pos *domain.Position, reason string) {
	pos.Status = domain.PositionStatusFailed
	pos.FailureReason = reason
	if err := o.positions.Update(ctx, *pos); err != nil {
		o.logger.Error("persisting failed position", "position_id", pos.ID, "error", err)
	}
	o.auditLog(ctx, "position.open.failed", map[string]any{
		"position_id": pos.ID, "reason": reason,
	})
}

func (o *Orchestrator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Log(ctx, event, detail); err != nil {
		o.logger.Warn("audit log failed", "event", event, "error", err)
	}
}
