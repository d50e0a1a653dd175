package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/exchange"
)

// legResult is the explicit per-leg outcome joined after both legs complete.
// Outcome classification inspects these values, never error identity across
// the concurrency boundary.
type legResult struct {
	side    domain.LegSide
	orderID string
	price   decimal.Decimal
	fee     decimal.Decimal
	err     error
}

func (r legResult) ok() bool { return r.err == nil }

// submitWithTimeout runs submit and waits at most timeout for its result.
// On timeout the wait is abandoned but the call itself is not cancelled: an
// order already accepted by the exchange must be reconciled by compensation,
// not assumed dead.
func submitWithTimeout(ctx context.Context, timeout time.Duration, submit func(context.Context) (domain.OrderAck, error)) (domain.OrderAck, error) {
	type result struct {
		ack domain.OrderAck
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ack, err := submit(ctx)
		ch <- result{ack, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.ack, r.err
	case <-timer.C:
		return domain.OrderAck{}, domain.ErrLegTimeout
	case <-ctx.Done():
		return domain.OrderAck{}, fmt.Errorf("%w: %v", domain.ErrContextDone, ctx.Err())
	}
}

// legSubmitter submits one leg's market order and resolves its fill price.
type legSubmitter struct {
	trader *exchange.Trader
	prices *PriceFetcher
}

// submit places the order with the given literal side and params, bounded by
// timeout, then resolves the fill price. strictPrice selects the open-path
// policy (unresolvable price is an error) versus the close-path policy
// (fall back to zero with a warning).
func (ls legSubmitter) submit(ctx context.Context, side domain.LegSide, literal domain.Side, symbol string, qty decimal.Decimal, params domain.OrderParams, timeout time.Duration, strictPrice bool) legResult {
	ack, err := submitWithTimeout(ctx, timeout, func(ctx context.Context) (domain.OrderAck, error) {
		return ls.trader.Session.CreateMarketOrder(ctx, symbol, literal, qty, params)
	})
	if err != nil {
		return legResult{side: side, err: err}
	}

	price, fee, err := ls.prices.FillPrice(ctx, ls.trader.Session, ack, symbol, strictPrice)
	if err != nil {
		return legResult{side: side, orderID: ack.ID, err: err}
	}
	return legResult{side: side, orderID: ack.ID, price: price, fee: fee}
}

// runBothLegs executes the long and short submissions concurrently and joins
// on both results. There is no ordering guarantee between the legs.
func runBothLegs(long, short func() legResult) (legResult, legResult) {
	var longRes, shortRes legResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		longRes = long()
	}()
	go func() {
		defer wg.Done()
		shortRes = short()
	}()
	wg.Wait()
	return longRes, shortRes
}
