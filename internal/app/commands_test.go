package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/saga"
)

type fakeBus struct {
	entries []domain.StreamMessage
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error { return nil }

func (b *fakeBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	id := fmt.Sprintf("%d-0", len(b.entries)+1)
	b.entries = append(b.entries, domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

func (b *fakeBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	var out []domain.StreamMessage
	seen := lastID == "0"
	for _, e := range b.entries {
		if seen {
			out = append(out, e)
		}
		if e.ID == lastID {
			seen = true
		}
		if len(out) == count {
			break
		}
	}
	return out, nil
}

type fakeOpener struct {
	reqs []saga.OpenRequest
	err  error
}

func (o *fakeOpener) Open(ctx context.Context, req saga.OpenRequest) (domain.Position, error) {
	o.reqs = append(o.reqs, req)
	return domain.Position{ID: "pos-1", UserID: req.UserID, Symbol: req.Symbol}, o.err
}

type fakeCloser struct {
	closed  []string
	reasons []domain.CloseReason
	legs    []domain.LegSide
}

func (c *fakeCloser) Close(ctx context.Context, positionID string, reason domain.CloseReason) (domain.Trade, error) {
	c.closed = append(c.closed, positionID)
	c.reasons = append(c.reasons, reason)
	return domain.Trade{}, nil
}

func (c *fakeCloser) CloseLeg(ctx context.Context, positionID string, side domain.LegSide, reason domain.CloseReason) error {
	c.closed = append(c.closed, positionID)
	c.reasons = append(c.reasons, reason)
	c.legs = append(c.legs, side)
	return nil
}

func consumerFixture() (*commandConsumer, *fakeBus, *fakeOpener, *fakeCloser) {
	bus := &fakeBus{}
	opener := &fakeOpener{}
	closer := &fakeCloser{}
	c := newCommandConsumer(bus, "commands", opener, closer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return c, bus, opener, closer
}

func TestCommandOpen(t *testing.T) {
	c, bus, opener, _ := consumerFixture()
	ctx := context.Background()

	require.NoError(t, bus.StreamAppend(ctx, "commands", []byte(`{
		"action": "open",
		"user_id": "u1",
		"symbol": "BTC/USDT:USDT",
		"long_exchange": "binance",
		"short_exchange": "okx",
		"quantity": "0.5",
		"long_leverage": "3",
		"short_leverage": "3",
		"stop_loss": "55000"
	}`)))

	require.NoError(t, c.drain(ctx))

	require.Len(t, opener.reqs, 1)
	req := opener.reqs[0]
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, "BTC/USDT:USDT", req.Symbol)
	assert.Equal(t, "binance", req.LongExchange)
	assert.Equal(t, "okx", req.ShortExchange)
	assert.True(t, req.Quantity.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, req.StopLoss.Equal(decimal.NewFromInt(55000)))
	assert.True(t, req.TakeProfit.IsZero())
}

func TestCommandCloseDefaultsToManual(t *testing.T) {
	c, bus, _, closer := consumerFixture()
	ctx := context.Background()

	require.NoError(t, bus.StreamAppend(ctx, "commands",
		[]byte(`{"action": "close", "position_id": "pos-9"}`)))
	require.NoError(t, c.drain(ctx))

	require.Equal(t, []string{"pos-9"}, closer.closed)
	assert.Equal(t, domain.CloseReasonManual, closer.reasons[0])
}

func TestCommandCloseLeg(t *testing.T) {
	c, bus, _, closer := consumerFixture()
	ctx := context.Background()

	require.NoError(t, bus.StreamAppend(ctx, "commands",
		[]byte(`{"action": "close_leg", "position_id": "pos-9", "side": "short", "reason": "stop_loss"}`)))
	require.NoError(t, c.drain(ctx))

	require.Equal(t, []string{"pos-9"}, closer.closed)
	assert.Equal(t, domain.LegShort, closer.legs[0])
	assert.Equal(t, domain.CloseReasonStopLoss, closer.reasons[0])
}

func TestCommandBadEntryDoesNotWedgeStream(t *testing.T) {
	c, bus, opener, _ := consumerFixture()
	ctx := context.Background()

	require.NoError(t, bus.StreamAppend(ctx, "commands", []byte(`{"action": "explode"}`)))
	require.NoError(t, bus.StreamAppend(ctx, "commands", []byte(`not json`)))
	require.NoError(t, bus.StreamAppend(ctx, "commands", []byte(`{
		"action": "open", "user_id": "u1", "symbol": "ETH/USDT:USDT",
		"long_exchange": "binance", "short_exchange": "bybit",
		"quantity": "1", "long_leverage": "2", "short_leverage": "2"
	}`)))

	require.NoError(t, c.drain(ctx))

	require.Len(t, opener.reqs, 1)
	assert.Equal(t, "ETH/USDT:USDT", opener.reqs[0].Symbol)
	assert.Equal(t, "3-0", c.lastID)
}

func TestCommandDrainResumesFromLastID(t *testing.T) {
	c, bus, _, closer := consumerFixture()
	ctx := context.Background()

	require.NoError(t, bus.StreamAppend(ctx, "commands",
		[]byte(`{"action": "close", "position_id": "pos-1"}`)))
	require.NoError(t, c.drain(ctx))

	require.NoError(t, bus.StreamAppend(ctx, "commands",
		[]byte(`{"action": "close", "position_id": "pos-2"}`)))
	require.NoError(t, c.drain(ctx))

	assert.Equal(t, []string{"pos-1", "pos-2"}, closer.closed)
}

func TestParseCloseReasonRejectsUnknown(t *testing.T) {
	_, err := parseCloseReason("liquidation")
	require.Error(t, err)

	_, err = parseLegSide("sideways")
	require.Error(t, err)
}
