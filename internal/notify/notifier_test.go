package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/basisbot/internal/domain"
)

type recordedMessage struct {
	title   string
	message string
}

type fakeSender struct {
	name string
	sent []recordedMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, title, message string) error {
	f.sent = append(f.sent, recordedMessage{title, message})
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, []string{EventPositionClosed}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventPositionOpened, "opened", "x"))
	assert.Empty(t, sender.sent)

	require.NoError(t, n.Notify(context.Background(), EventPositionClosed, "closed", "y"))
	assert.Len(t, sender.sent, 1)
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventPositionFailed, "failed", "x"))
	assert.Len(t, sender.sent, 1)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, []string{EventPositionClosed}, testLogger())

	require.NoError(t, n.NotifyAll(context.Background(), "UNHEDGED EXPOSURE", "x"))
	assert.Len(t, sender.sent, 1)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	broken := &fakeSender{name: "broken", err: errors.New("timeout")}
	working := &fakeSender{name: "working"}
	n := NewNotifier([]Sender{broken, working}, nil, testLogger())

	err := n.Notify(context.Background(), EventPositionOpened, "opened", "x")
	assert.ErrorContains(t, err, "broken")
	assert.Len(t, working.sent, 1)
}

func sinkFixture(events []string) (*Sink, *fakeSender) {
	sender := &fakeSender{name: "fake"}
	return NewSink(NewNotifier([]Sender{sender}, events, testLogger())), sender
}

func testPosition() domain.Position {
	return domain.Position{
		ID:     "pos-1",
		Symbol: "BTC/USDT:USDT",
		Long:   domain.Leg{Exchange: "binance", EntryPrice: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Leverage: decimal.NewFromInt(10)},
		Short:  domain.Leg{Exchange: "okx", EntryPrice: decimal.NewFromInt(100), Size: decimal.NewFromInt(1), Leverage: decimal.NewFromInt(10)},
	}
}

func TestSinkPositionClosedMessage(t *testing.T) {
	sink, sender := sinkFixture(nil)

	sink.PositionClosed(context.Background(), testPosition(), domain.Trade{
		TotalPnL:    decimal.NewFromFloat(14.8),
		CloseReason: domain.CloseReasonManual,
	})

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Position closed", sender.sent[0].title)
	assert.Contains(t, sender.sent[0].message, "14.8")
	assert.Contains(t, sender.sent[0].message, "manual")
}

func TestSinkUnhedgedExposureBypassesFilter(t *testing.T) {
	// filter allows only closed events; the escalation must still go out
	sink, sender := sinkFixture([]string{EventPositionClosed})

	sink.UnhedgedExposure(context.Background(), testPosition(), errors.New("short leg close failed"))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "UNHEDGED EXPOSURE", sender.sent[0].title)
	assert.Contains(t, sender.sent[0].message, "manual intervention")
}

func TestSinkFilteredEventSuppressed(t *testing.T) {
	sink, sender := sinkFixture([]string{EventPositionClosed})

	sink.PositionOpened(context.Background(), testPosition())

	assert.Empty(t, sender.sent)
}
