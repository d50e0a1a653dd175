package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/basisbot/internal/domain"
)

func openPosition() domain.Position {
	return domain.Position{
		ID:       "pos-1",
		UserID:   "u1",
		Symbol:   testSymbol,
		Status:   domain.PositionStatusOpen,
		OpenedAt: time.Now().Add(-time.Hour),
		Long: domain.Leg{
			Exchange:   "binance",
			EntryPrice: d("100"),
			Size:       d("1"),
			Leverage:   d("10"),
			StopLoss:   domain.ConditionalLevel{Price: d("90"), OrderID: "L-sl"},
			TakeProfit: domain.ConditionalLevel{Price: d("115"), OrderID: "L-tp"},
		},
		Short: domain.Leg{
			Exchange:   "okx",
			EntryPrice: d("100"),
			Size:       d("1"),
			Leverage:   d("10"),
			StopLoss:   domain.ConditionalLevel{Price: d("110"), OrderID: "S-sl"},
		},
	}
}

func newTestCloser(t *testing.T, long, short *scriptedSession, seed domain.Position) (*Closer, *memPositionStore, *memTradeStore, *eventRecorder) {
	t.Helper()
	positions := newMemPositionStore()
	require.NoError(t, positions.Create(context.Background(), seed))
	trades := &memTradeStore{}
	locks, _ := testLockService()
	events := &eventRecorder{}
	builder := &fakeTraderBuilder{sessions: map[string]*scriptedSession{
		long.name:  long,
		short.name: short,
	}}
	c := NewCloser(fastConfig(), positions, trades, nil, locks, builder,
		NewPriceFetcher(1, testLogger()), nil, events, testMetrics(), testLogger())
	return c, positions, trades, events
}

// Long 100 -> 110 and short 100 -> 95 on size 1 with 0.1 fees per leg:
// priceDiffPnL = 10 + 5 = 15, totalFees = 0.2, totalPnL = 14.8.
func TestCloseSuccess(t *testing.T) {
	long := fundedSession("binance")
	long.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return fill("L-close", testSymbol, side, "110", "1", "0.1")
	}
	short := fundedSession("okx")
	short.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return fill("S-close", testSymbol, side, "95", "1", "0.1")
	}
	c, positions, trades, events := newTestCloser(t, long, short, openPosition())

	trade, err := c.Close(context.Background(), "pos-1", domain.CloseReasonManual)
	require.NoError(t, err)

	assert.True(t, trade.PriceDiffPnL.Equal(d("15")), "priceDiff %s", trade.PriceDiffPnL)
	assert.True(t, trade.TotalFees.Equal(d("0.2")), "fees %s", trade.TotalFees)
	assert.True(t, trade.TotalPnL.Equal(d("14.8")), "total %s", trade.TotalPnL)
	// margin at entry: 100/10 + 100/10 = 20, roi = 14.8/20*100 = 74
	assert.True(t, trade.MarginUsed.Equal(d("20")))
	assert.True(t, trade.ROIPct.Equal(d("74")), "roi %s", trade.ROIPct)
	assert.Equal(t, domain.CloseReasonManual, trade.CloseReason)

	// closing flattens with opposite literal sides under the original tags
	require.Equal(t, 1, long.orderCount())
	assert.Equal(t, domain.SideSell, long.orders[0].Side)
	assert.Equal(t, "LONG", long.orders[0].Params["positionSide"])
	require.Equal(t, 1, short.orderCount())
	assert.Equal(t, domain.SideBuy, short.orders[0].Side)

	stored := positions.get("pos-1")
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	require.NotNil(t, stored.ClosedAt)
	assert.True(t, stored.Long.ExitPrice.Equal(d("110")))
	assert.True(t, stored.Short.ExitPrice.Equal(d("95")))

	// residual conditional orders cancelled on both legs
	assert.ElementsMatch(t, []string{"L-sl", "L-tp"}, long.cancelled)
	assert.ElementsMatch(t, []string{"S-sl"}, short.cancelled)

	assert.Len(t, trades.trades, 1)
	assert.Len(t, events.closed, 1)
}

func TestCloseBothLegsFailRevertsToOpen(t *testing.T) {
	long := fundedSession("binance")
	long.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return domain.OrderAck{}, errors.New("binance down")
	}
	short := fundedSession("okx")
	short.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return domain.OrderAck{}, errors.New("okx down")
	}
	c, positions, trades, _ := newTestCloser(t, long, short, openPosition())

	_, err := c.Close(context.Background(), "pos-1", domain.CloseReasonManual)

	var bilateral *domain.BilateralError
	require.ErrorAs(t, err, &bilateral)
	assert.True(t, domain.IsRetryable(err), "still fully hedged, retryable")

	stored := positions.get("pos-1")
	assert.Equal(t, domain.PositionStatusOpen, stored.Status, "reverted, not terminal")
	assert.Empty(t, stored.CloseReason)
	assert.Empty(t, trades.trades)
}

// Exactly one close leg failing is terminal: the close saga never
// compensates a position that is already being liquidated.
func TestClosePartial(t *testing.T) {
	long := fundedSession("binance")
	long.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return fill("L-close", testSymbol, side, "110", "1", "0.1")
	}
	short := fundedSession("okx")
	short.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return domain.OrderAck{}, errors.New("okx down")
	}
	c, positions, trades, events := newTestCloser(t, long, short, openPosition())

	_, err := c.Close(context.Background(), "pos-1", domain.CloseReasonManual)

	var partial *domain.PartialCloseError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "binance", partial.FilledExchange)
	assert.Equal(t, "okx", partial.FailedExchange)
	assert.Equal(t, domain.LegShort, partial.FailedSide)
	assert.False(t, domain.IsRetryable(err))

	// no second attempt on either leg
	assert.Equal(t, 1, long.orderCount())
	assert.Equal(t, 1, short.orderCount())

	stored := positions.get("pos-1")
	assert.Equal(t, domain.PositionStatusPartial, stored.Status)
	assert.True(t, stored.Long.ExitPrice.Equal(d("110")), "filled exit recorded")
	assert.Empty(t, trades.trades, "no settlement on partial close")
	assert.Len(t, events.unhedged, 1)
}

func TestCloseRejectsNonOpenStatus(t *testing.T) {
	seed := openPosition()
	seed.Status = domain.PositionStatusPartial
	c, _, _, _ := newTestCloser(t, fundedSession("binance"), fundedSession("okx"), seed)

	_, err := c.Close(context.Background(), "pos-1", domain.CloseReasonManual)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
}

// A price resolution failure never blocks flattening: the close settles with
// a zero exit price and a warning instead.
func TestCloseToleratesUnresolvedPrice(t *testing.T) {
	long := fundedSession("binance")
	long.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		// ack without a price, re-fetch fails, no own trades
		return domain.OrderAck{ID: "L-close", Symbol: testSymbol, Side: side}, nil
	}
	long.fetchOrderErr = errors.New("order endpoint down")
	short := fundedSession("okx")
	short.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return fill("S-close", testSymbol, side, "95", "1", "0.1")
	}
	c, positions, trades, _ := newTestCloser(t, long, short, openPosition())

	_, err := c.Close(context.Background(), "pos-1", domain.CloseReasonManual)
	require.NoError(t, err)

	stored := positions.get("pos-1")
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	assert.True(t, stored.Long.ExitPrice.IsZero())
	assert.Len(t, trades.trades, 1)
}

func TestCloseLeg(t *testing.T) {
	long := fundedSession("binance")
	long.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return fill("L-close", testSymbol, side, "90", "1", "0.1")
	}
	short := fundedSession("okx")
	c, positions, trades, events := newTestCloser(t, long, short, openPosition())

	err := c.CloseLeg(context.Background(), "pos-1", domain.LegLong, domain.CloseReasonStopLoss)
	require.NoError(t, err)

	stored := positions.get("pos-1")
	assert.Equal(t, domain.PositionStatusPartial, stored.Status)
	assert.Equal(t, domain.CloseReasonStopLoss, stored.CloseReason)
	assert.True(t, stored.Long.ExitPrice.Equal(d("90")))
	assert.Equal(t, "L-close", stored.Long.CloseOrderID)

	// only the closed leg's conditionals are cancelled; the counter-leg is
	// a separate risk decision
	assert.ElementsMatch(t, []string{"L-sl", "L-tp"}, long.cancelled)
	assert.Empty(t, short.cancelled)
	assert.Equal(t, 0, short.orderCount())

	assert.Empty(t, trades.trades)
	assert.Len(t, events.unhedged, 1)
}

func TestCloseLegRejectsNonOpen(t *testing.T) {
	seed := openPosition()
	seed.Status = domain.PositionStatusClosed
	c, _, _, _ := newTestCloser(t, fundedSession("binance"), fundedSession("okx"), seed)

	err := c.CloseLeg(context.Background(), "pos-1", domain.LegLong, domain.CloseReasonStopLoss)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
}
