package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/basisbot/internal/domain"
)

type recordingBus struct {
	fakeBus
	published [][]byte
	pubErr    error
}

func (b *recordingBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.pubErr != nil {
		return b.pubErr
	}
	b.published = append(b.published, payload)
	return nil
}

func TestBusSinkPublishesAndAppends(t *testing.T) {
	bus := &recordingBus{}
	sink := newBusSink(bus, "positions", "events", slog.New(slog.NewTextHandler(io.Discard, nil)))

	pos := domain.Position{ID: "p1", UserID: "u1", Symbol: "BTC/USDT:USDT", Status: domain.PositionStatusClosed}
	trade := domain.Trade{TotalPnL: decimal.RequireFromString("12.5")}
	sink.PositionClosed(context.Background(), pos, trade)

	require.Len(t, bus.published, 1)
	require.Len(t, bus.entries, 1)
	assert.Equal(t, bus.published[0], bus.entries[0].Payload)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(bus.published[0], &ev))
	assert.Equal(t, "position_closed", ev["event"])
	assert.Equal(t, "p1", ev["position_id"])
	assert.Equal(t, "12.5", ev["total_pnl"])
	assert.Equal(t, "closed", ev["status"])
}

func TestBusSinkSwallowsPublishFailure(t *testing.T) {
	bus := &recordingBus{pubErr: errors.New("redis down")}
	sink := newBusSink(bus, "positions", "events", slog.New(slog.NewTextHandler(io.Discard, nil)))

	pos := domain.Position{ID: "p1", Status: domain.PositionStatusFailed}
	sink.PositionFailed(context.Background(), pos, errors.New("leg timeout"))

	// Stream append still happens even when pub/sub fails.
	require.Len(t, bus.entries, 1)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(bus.entries[0].Payload, &ev))
	assert.Equal(t, "position_failed", ev["event"])
	assert.Equal(t, "leg timeout", ev["error"])
}

func TestFanoutSinkDeliversToAll(t *testing.T) {
	a := &recordingBus{}
	b := &recordingBus{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sink := fanoutSink{
		newBusSink(a, "positions", "events", log),
		newBusSink(b, "positions", "events", log),
	}

	sink.PositionOpened(context.Background(), domain.Position{ID: "p1"})

	assert.Len(t, a.published, 1)
	assert.Len(t, b.published, 1)
}
