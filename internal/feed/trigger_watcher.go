// Package feed routes private order-stream events into position actions.
package feed

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/gateway"
)

// LegCloser is the slice of the close saga the watcher needs.
type LegCloser interface {
	CloseLeg(ctx context.Context, positionID string, side domain.LegSide, reason domain.CloseReason) error
}

// TriggerWatcher consumes order updates and fires the single-leg close when a
// recorded stop-loss or take-profit order fills on the venue. Updates for
// orders the store does not know are dropped; the stream carries every order
// on the account, not only ours.
type TriggerWatcher struct {
	positions domain.PositionStore
	closer    LegCloser
	logger    *slog.Logger
}

func NewTriggerWatcher(positions domain.PositionStore, closer LegCloser, logger *slog.Logger) *TriggerWatcher {
	return &TriggerWatcher{
		positions: positions,
		closer:    closer,
		logger:    logger.With("component", "trigger_watcher"),
	}
}

// Handler adapts the watcher to the order-stream callback contract.
func (w *TriggerWatcher) Handler() gateway.OrderUpdateHandler {
	return func(ctx context.Context, update gateway.OrderUpdate) {
		w.HandleUpdate(ctx, update)
	}
}

// HandleUpdate processes one normalized order update.
func (w *TriggerWatcher) HandleUpdate(ctx context.Context, update gateway.OrderUpdate) {
	if !update.Filled() {
		return
	}

	pos, side, err := w.positions.FindByConditionalOrderID(ctx, update.OrderID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			w.logger.Error("conditional order lookup failed",
				"order_id", update.OrderID, "error", err)
		}
		return
	}

	reason := domain.CloseReasonTakeProfit
	if pos.Leg(side).StopLoss.OrderID == update.OrderID {
		reason = domain.CloseReasonStopLoss
	}

	w.logger.Info("conditional order filled, closing leg",
		"position_id", pos.ID, "side", side, "reason", reason,
		"order_id", update.OrderID, "exchange", update.Exchange)

	if err := w.closer.CloseLeg(ctx, pos.ID, side, reason); err != nil {
		w.logger.Error("trigger-initiated leg close failed",
			"position_id", pos.ID, "side", side, "error", err)
	}
}

// Run drives a set of order streams until ctx is cancelled. One stream
// failing terminally brings the group down so the supervisor restarts them
// together.
func (w *TriggerWatcher) Run(ctx context.Context, streams ...*gateway.OrderStream) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range streams {
		g.Go(func() error { return s.Run(gctx) })
	}
	return g.Wait()
}
