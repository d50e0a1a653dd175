package notify

import (
	"context"
	"fmt"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/saga"
)

// Sink renders saga lifecycle events into operator notifications. Routine
// events go through the Notifier's filter; unhedged exposure always goes out
// on every channel because an operator has to flatten the naked leg by hand.
type Sink struct {
	notifier *Notifier
}

var _ saga.EventSink = (*Sink)(nil)

func NewSink(notifier *Notifier) *Sink {
	return &Sink{notifier: notifier}
}

func (s *Sink) PositionOpened(ctx context.Context, pos domain.Position) {
	msg := fmt.Sprintf("%s %s\nlong %s @ %s on %s\nshort %s @ %s on %s\nleverage %sx",
		pos.Symbol, pos.ID,
		pos.Long.Size, pos.Long.EntryPrice, pos.Long.Exchange,
		pos.Short.Size, pos.Short.EntryPrice, pos.Short.Exchange,
		pos.Long.Leverage)
	s.notifier.Notify(ctx, EventPositionOpened, "Position opened", msg)
}

func (s *Sink) PositionClosed(ctx context.Context, pos domain.Position, trade domain.Trade) {
	msg := fmt.Sprintf("%s %s (%s)\npnl %s (price %s, funding %s, fees %s)\nmargin %s, roi %s%%",
		pos.Symbol, pos.ID, trade.CloseReason,
		trade.TotalPnL, trade.PriceDiffPnL, trade.FundingPnL, trade.TotalFees,
		trade.MarginUsed, trade.ROIPct)
	s.notifier.Notify(ctx, EventPositionClosed, "Position closed", msg)
}

func (s *Sink) PositionFailed(ctx context.Context, pos domain.Position, err error) {
	msg := fmt.Sprintf("%s %s\n%v", pos.Symbol, pos.ID, err)
	s.notifier.Notify(ctx, EventPositionFailed, "Position failed", msg)
}

func (s *Sink) UnhedgedExposure(ctx context.Context, pos domain.Position, err error) {
	msg := fmt.Sprintf("%s %s is PARTIAL: one leg live without its hedge\nlong %s / short %s\n%v\nmanual intervention required",
		pos.Symbol, pos.ID, pos.Long.Exchange, pos.Short.Exchange, err)
	s.notifier.NotifyAll(ctx, "UNHEDGED EXPOSURE", msg)
}

func (s *Sink) ConditionalFailed(ctx context.Context, pos domain.Position, err error) {
	msg := fmt.Sprintf("%s %s opened but stop-loss/take-profit placement failed\n%v",
		pos.Symbol, pos.ID, err)
	s.notifier.Notify(ctx, EventConditionalFailed, "Conditional orders failed", msg)
}
