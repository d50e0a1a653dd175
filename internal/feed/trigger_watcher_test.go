package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/gateway"
)

type fakePositionIndex struct {
	pos  domain.Position
	side domain.LegSide
	err  error
}

func (f *fakePositionIndex) Create(context.Context, domain.Position) error { return nil }
func (f *fakePositionIndex) Update(context.Context, domain.Position) error { return nil }
func (f *fakePositionIndex) GetByID(context.Context, string) (domain.Position, error) {
	return f.pos, nil
}
func (f *fakePositionIndex) ListOpen(context.Context, string) ([]domain.Position, error) {
	return nil, nil
}
func (f *fakePositionIndex) ListByStatus(context.Context, domain.PositionStatus, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakePositionIndex) FindByConditionalOrderID(_ context.Context, orderID string) (domain.Position, domain.LegSide, error) {
	if f.err != nil {
		return domain.Position{}, "", f.err
	}
	leg := f.pos.Leg(f.side)
	if leg.StopLoss.OrderID == orderID || leg.TakeProfit.OrderID == orderID {
		return f.pos, f.side, nil
	}
	return domain.Position{}, "", domain.ErrNotFound
}

type closeLegCall struct {
	positionID string
	side       domain.LegSide
	reason     domain.CloseReason
}

type fakeLegCloser struct {
	calls []closeLegCall
	err   error
}

func (f *fakeLegCloser) CloseLeg(_ context.Context, positionID string, side domain.LegSide, reason domain.CloseReason) error {
	f.calls = append(f.calls, closeLegCall{positionID, side, reason})
	return f.err
}

func watcherFixture(side domain.LegSide) (*TriggerWatcher, *fakeLegCloser, *fakePositionIndex) {
	pos := domain.Position{ID: "pos-1", Status: domain.PositionStatusOpen}
	leg := pos.Leg(side)
	leg.StopLoss.OrderID = "sl-1"
	leg.TakeProfit.OrderID = "tp-1"

	index := &fakePositionIndex{pos: pos, side: side}
	closer := &fakeLegCloser{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewTriggerWatcher(index, closer, logger), closer, index
}

func TestTriggerWatcherStopLossFill(t *testing.T) {
	w, closer, _ := watcherFixture(domain.LegLong)

	w.HandleUpdate(context.Background(), gateway.OrderUpdate{
		Exchange: "binance", OrderID: "sl-1", Status: "FILLED",
	})

	assert.Equal(t, []closeLegCall{{"pos-1", domain.LegLong, domain.CloseReasonStopLoss}}, closer.calls)
}

func TestTriggerWatcherTakeProfitFill(t *testing.T) {
	w, closer, _ := watcherFixture(domain.LegShort)

	w.HandleUpdate(context.Background(), gateway.OrderUpdate{
		Exchange: "okx", OrderID: "tp-1", Status: "filled",
	})

	assert.Equal(t, []closeLegCall{{"pos-1", domain.LegShort, domain.CloseReasonTakeProfit}}, closer.calls)
}

func TestTriggerWatcherIgnoresNonTerminalStates(t *testing.T) {
	w, closer, _ := watcherFixture(domain.LegLong)

	w.HandleUpdate(context.Background(), gateway.OrderUpdate{OrderID: "sl-1", Status: "NEW"})
	w.HandleUpdate(context.Background(), gateway.OrderUpdate{OrderID: "sl-1", Status: "CANCELED"})

	assert.Empty(t, closer.calls)
}

func TestTriggerWatcherIgnoresForeignOrders(t *testing.T) {
	w, closer, _ := watcherFixture(domain.LegLong)

	// the account stream carries every order, not just conditionals we armed
	w.HandleUpdate(context.Background(), gateway.OrderUpdate{OrderID: "someone-elses", Status: "FILLED"})

	assert.Empty(t, closer.calls)
}

func TestTriggerWatcherSurvivesLookupFailure(t *testing.T) {
	w, closer, index := watcherFixture(domain.LegLong)
	index.err = errors.New("db down")

	w.HandleUpdate(context.Background(), gateway.OrderUpdate{OrderID: "sl-1", Status: "FILLED"})

	assert.Empty(t, closer.calls)
}
