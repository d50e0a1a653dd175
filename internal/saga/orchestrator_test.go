package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/lock"
)

const testSymbol = "BTC/USDT:USDT"

func openRequest() OpenRequest {
	return OpenRequest{
		UserID:        "u1",
		Symbol:        testSymbol,
		LongExchange:  "binance",
		ShortExchange: "okx",
		Quantity:      d("1"),
		LongLeverage:  d("10"),
		ShortLeverage: d("10"),
	}
}

func fundedSession(name string) *scriptedSession {
	return &scriptedSession{
		name:      name,
		balance:   d("100000"),
		markPrice: d("50000"),
		hedge:     true,
	}
}

func newTestOrchestrator(t *testing.T, long, short *scriptedSession) (*Orchestrator, *memPositionStore, *memLockStore, *eventRecorder) {
	t.Helper()
	positions := newMemPositionStore()
	locks, lockStore := testLockService()
	events := &eventRecorder{}
	builder := &fakeTraderBuilder{sessions: map[string]*scriptedSession{
		long.name:  long,
		short.name: short,
	}}
	o := NewOrchestrator(fastConfig(), positions, locks, builder,
		NewPriceFetcher(1, testLogger()), nil, events, testMetrics(), testLogger())
	return o, positions, lockStore, events
}

func TestOpenSuccess(t *testing.T) {
	long := fundedSession("binance")
	long.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return fill("L-1", testSymbol, side, "50000", "1", "0.1")
	}
	short := fundedSession("okx")
	short.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return fill("S-1", testSymbol, side, "50010", "1", "0.12")
	}
	o, positions, lockStore, events := newTestOrchestrator(t, long, short)

	pos, err := o.Open(context.Background(), openRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, "L-1", pos.Long.OpenOrderID)
	assert.Equal(t, "S-1", pos.Short.OpenOrderID)
	assert.True(t, pos.Long.EntryPrice.Equal(d("50000")))
	assert.True(t, pos.Short.EntryPrice.Equal(d("50010")))
	assert.True(t, pos.Long.OpenFee.Equal(d("0.1")))

	// literal sides: long opens with buy, short with sell, both tagged with
	// their position identity
	require.Equal(t, 1, long.orderCount())
	assert.Equal(t, domain.SideBuy, long.orders[0].Side)
	assert.Equal(t, "LONG", long.orders[0].Params["positionSide"])
	require.Equal(t, 1, short.orderCount())
	assert.Equal(t, domain.SideSell, short.orders[0].Side)
	assert.Equal(t, "short", short.orders[0].Params["posSide"])

	assert.Equal(t, domain.PositionStatusOpen, positions.get(pos.ID).Status)
	assert.False(t, lockStore.held(lock.Key("u1", testSymbol)), "lock released")
	assert.Len(t, events.opened, 1)
}

func TestOpenRequestValidation(t *testing.T) {
	o, positions, _, _ := newTestOrchestrator(t, fundedSession("binance"), fundedSession("okx"))
	var vErr *domain.ValidationError

	req := openRequest()
	req.ShortExchange = req.LongExchange
	_, err := o.Open(context.Background(), req)
	require.ErrorAs(t, err, &vErr)

	req = openRequest()
	req.Quantity = d("0")
	_, err = o.Open(context.Background(), req)
	require.ErrorAs(t, err, &vErr)

	req = openRequest()
	req.LongLeverage = d("0.5")
	_, err = o.Open(context.Background(), req)
	require.ErrorAs(t, err, &vErr)

	assert.Empty(t, positions.positions, "no position persisted on validation failure")
}

func TestOpenMissingCredentials(t *testing.T) {
	long := fundedSession("binance")
	o, positions, _, _ := newTestOrchestrator(t, long, fundedSession("okx"))

	req := openRequest()
	req.ShortExchange = "bingx" // no session configured for it
	_, err := o.Open(context.Background(), req)

	assert.ErrorIs(t, err, domain.ErrAPIKeyNotFound)
	assert.Equal(t, 0, long.orderCount(), "no order before credentials resolve")
	assert.Empty(t, positions.positions)
}

func TestOpenInsufficientBalance(t *testing.T) {
	long := fundedSession("binance")
	short := fundedSession("okx")
	short.balance = d("10")
	o, positions, lockStore, _ := newTestOrchestrator(t, long, short)

	_, err := o.Open(context.Background(), openRequest())

	var insErr *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &insErr)
	assert.Equal(t, "okx", insErr.Exchange)
	assert.Equal(t, 0, long.orderCount())
	assert.Equal(t, 0, short.orderCount())
	assert.Empty(t, positions.positions)
	assert.False(t, lockStore.held(lock.Key("u1", testSymbol)), "balance fails before the lock")
}

func TestOpenLockConflict(t *testing.T) {
	long := fundedSession("binance")
	short := fundedSession("okx")
	o, _, lockStore, _ := newTestOrchestrator(t, long, short)

	_, err := lockStore.SetIfNotExists(context.Background(), lock.Key("u1", testSymbol), "other-saga", 0)
	require.NoError(t, err)

	_, err = o.Open(context.Background(), openRequest())
	assert.ErrorIs(t, err, domain.ErrLockConflict)
	assert.Equal(t, 0, long.orderCount())
	assert.Equal(t, 0, short.orderCount())
}

func TestOpenBothLegsFail(t *testing.T) {
	long := fundedSession("binance")
	long.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return domain.OrderAck{}, errors.New("binance rejected")
	}
	short := fundedSession("okx")
	short.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return domain.OrderAck{}, errors.New("okx rejected")
	}
	o, positions, _, events := newTestOrchestrator(t, long, short)

	pos, err := o.Open(context.Background(), openRequest())

	var bilateral *domain.BilateralError
	require.ErrorAs(t, err, &bilateral)
	assert.True(t, domain.IsRetryable(err), "no residue, caller may retry")
	assert.Equal(t, domain.PositionStatusFailed, pos.Status)
	assert.Equal(t, domain.PositionStatusFailed, positions.get(pos.ID).Status)
	assert.Len(t, events.failed, 1)
	// no compensation when nothing filled
	assert.Equal(t, 1, long.orderCount())
	assert.Equal(t, 1, short.orderCount())
}

func TestOpenCompensationSuccess(t *testing.T) {
	long := fundedSession("binance")
	long.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		if call == 1 {
			return fill("L-1", testSymbol, side, "50000", "1", "0.1")
		}
		// compensation close
		return fill("L-comp", testSymbol, side, "49990", "1", "0.1")
	}
	short := fundedSession("okx")
	short.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return domain.OrderAck{}, errors.New("okx rejected")
	}
	o, positions, _, events := newTestOrchestrator(t, long, short)

	pos, err := o.Open(context.Background(), openRequest())
	require.Error(t, err)

	var rollback *domain.RollbackFailedError
	assert.False(t, errors.As(err, &rollback), "clean failure, not a rollback failure")
	assert.Equal(t, domain.PositionStatusFailed, pos.Status)
	assert.Equal(t, domain.PositionStatusFailed, positions.get(pos.ID).Status)

	// exactly one compensating order on the long exchange, flattening the
	// long with a sell still tagged LONG
	require.Equal(t, 2, long.orderCount())
	comp := long.orders[1]
	assert.Equal(t, domain.SideSell, comp.Side)
	assert.Equal(t, "LONG", comp.Params["positionSide"])
	assert.Equal(t, 1, short.orderCount())
	assert.Len(t, events.failed, 1)
	assert.Empty(t, events.unhedged)
}

func TestOpenCompensationExhaustion(t *testing.T) {
	long := fundedSession("binance")
	long.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		if call == 1 {
			return fill("L-1", testSymbol, side, "50000", "1", "0.1")
		}
		return domain.OrderAck{}, errors.New("binance unreachable")
	}
	short := fundedSession("okx")
	short.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return domain.OrderAck{}, errors.New("okx rejected")
	}
	o, positions, lockStore, events := newTestOrchestrator(t, long, short)

	pos, err := o.Open(context.Background(), openRequest())

	var rollback *domain.RollbackFailedError
	require.ErrorAs(t, err, &rollback)
	assert.Equal(t, "binance", rollback.Exchange)
	assert.Equal(t, domain.LegLong, rollback.Side)
	assert.Equal(t, 3, rollback.Attempts)
	assert.False(t, domain.IsRetryable(err), "manual intervention, never auto-retried")

	// 1 long open + 3 compensation + 1 short = 5 total submissions
	assert.Equal(t, 4, long.orderCount())
	assert.Equal(t, 1, short.orderCount())

	stored := positions.get(pos.ID)
	assert.Equal(t, domain.PositionStatusPartial, stored.Status)
	assert.True(t, stored.Long.EntryPrice.Equal(d("50000")), "lone fill recorded for the operator")
	assert.NotEmpty(t, stored.FailureReason)
	assert.Len(t, events.unhedged, 1)
	assert.False(t, lockStore.held(lock.Key("u1", testSymbol)), "lock released even on rollback failure")
}

func TestOpenArmsConditionals(t *testing.T) {
	long := fundedSession("binance")
	long.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return fill("L-1", testSymbol, side, "50000", "1", "0.1")
	}
	short := fundedSession("okx")
	short.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return fill("S-1", testSymbol, side, "50010", "1", "0.1")
	}
	o, positions, _, _ := newTestOrchestrator(t, long, short)

	req := openRequest()
	req.StopLoss = d("48000")
	req.TakeProfit = d("53000")
	pos, err := o.Open(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, domain.ConditionalStatusSet, pos.CondStat)
	assert.Len(t, long.condPlaced, 2)
	assert.Len(t, short.condPlaced, 2)

	stored := positions.get(pos.ID)
	assert.NotEmpty(t, stored.Long.StopLoss.OrderID)
	assert.NotEmpty(t, stored.Long.TakeProfit.OrderID)
	assert.NotEmpty(t, stored.Short.StopLoss.OrderID)
	assert.NotEmpty(t, stored.Short.TakeProfit.OrderID)
}

// Conditional-order failure never threatens the OPEN status; the position is
// already economically live.
func TestOpenConditionalFailureNonFatal(t *testing.T) {
	long := fundedSession("binance")
	long.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return fill("L-1", testSymbol, side, "50000", "1", "0.1")
	}
	short := fundedSession("okx")
	short.create = func(call int, side domain.Side) (domain.OrderAck, error) {
		return fill("S-1", testSymbol, side, "50010", "1", "0.1")
	}
	short.condErr = errors.New("algo order rejected")
	o, positions, _, events := newTestOrchestrator(t, long, short)

	req := openRequest()
	req.StopLoss = d("48000")
	pos, err := o.Open(context.Background(), req)
	require.NoError(t, err, "conditional failures are never thrown out of the saga")

	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, domain.ConditionalStatusFailed, pos.CondStat)
	assert.Equal(t, domain.ConditionalStatusFailed, positions.get(pos.ID).CondStat)
	assert.Len(t, events.condFails, 1)
}
