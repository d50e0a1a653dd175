package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/notify"
	"github.com/fundingarb/basisbot/internal/saga"
)

// positionEvent is the wire format of saga lifecycle events published on the
// bus. Consumers (dashboards, the UI) read the pub/sub channel for live
// updates and the stream for replay.
type positionEvent struct {
	Event      string    `json:"event"`
	PositionID string    `json:"position_id"`
	UserID     string    `json:"user_id"`
	Symbol     string    `json:"symbol"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	TotalPnL   string    `json:"total_pnl,omitempty"`
	At         time.Time `json:"at"`
}

// busSink publishes saga lifecycle events on the signal bus: once on the
// pub/sub channel for live subscribers and once on a durable stream for
// replay. Failures are logged and swallowed; event delivery must never
// influence saga outcomes.
type busSink struct {
	bus     domain.SignalBus
	channel string
	stream  string
	logger  *slog.Logger
}

func newBusSink(bus domain.SignalBus, channel, stream string, logger *slog.Logger) *busSink {
	return &busSink{
		bus:     bus,
		channel: channel,
		stream:  stream,
		logger:  logger.With("component", "event_bus"),
	}
}

var _ saga.EventSink = (*busSink)(nil)

func (s *busSink) PositionOpened(ctx context.Context, pos domain.Position) {
	s.emit(ctx, positionEvent{Event: notify.EventPositionOpened, PositionID: pos.ID,
		UserID: pos.UserID, Symbol: pos.Symbol, Status: string(pos.Status)})
}

func (s *busSink) PositionClosed(ctx context.Context, pos domain.Position, trade domain.Trade) {
	s.emit(ctx, positionEvent{Event: notify.EventPositionClosed, PositionID: pos.ID,
		UserID: pos.UserID, Symbol: pos.Symbol, Status: string(pos.Status),
		TotalPnL: trade.TotalPnL.String()})
}

func (s *busSink) PositionFailed(ctx context.Context, pos domain.Position, err error) {
	s.emit(ctx, positionEvent{Event: notify.EventPositionFailed, PositionID: pos.ID,
		UserID: pos.UserID, Symbol: pos.Symbol, Status: string(pos.Status), Error: errString(err)})
}

func (s *busSink) UnhedgedExposure(ctx context.Context, pos domain.Position, err error) {
	s.emit(ctx, positionEvent{Event: notify.EventUnhedgedExposure, PositionID: pos.ID,
		UserID: pos.UserID, Symbol: pos.Symbol, Status: string(pos.Status), Error: errString(err)})
}

func (s *busSink) ConditionalFailed(ctx context.Context, pos domain.Position, err error) {
	s.emit(ctx, positionEvent{Event: notify.EventConditionalFailed, PositionID: pos.ID,
		UserID: pos.UserID, Symbol: pos.Symbol, Status: string(pos.Status), Error: errString(err)})
}

func (s *busSink) emit(ctx context.Context, ev positionEvent) {
	ev.At = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "marshaling event failed", "event", ev.Event, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, s.channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publishing event failed",
			"event", ev.Event, "channel", s.channel, "error", err)
	}
	if err := s.bus.StreamAppend(ctx, s.stream, payload); err != nil {
		s.logger.WarnContext(ctx, "appending event to stream failed",
			"event", ev.Event, "stream", s.stream, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// fanoutSink delivers each event to every underlying sink.
type fanoutSink []saga.EventSink

var _ saga.EventSink = (fanoutSink)(nil)

func (f fanoutSink) PositionOpened(ctx context.Context, pos domain.Position) {
	for _, s := range f {
		s.PositionOpened(ctx, pos)
	}
}

func (f fanoutSink) PositionClosed(ctx context.Context, pos domain.Position, trade domain.Trade) {
	for _, s := range f {
		s.PositionClosed(ctx, pos, trade)
	}
}

func (f fanoutSink) PositionFailed(ctx context.Context, pos domain.Position, err error) {
	for _, s := range f {
		s.PositionFailed(ctx, pos, err)
	}
}

func (f fanoutSink) UnhedgedExposure(ctx context.Context, pos domain.Position, err error) {
	for _, s := range f {
		s.UnhedgedExposure(ctx, pos, err)
	}
}

func (f fanoutSink) ConditionalFailed(ctx context.Context, pos domain.Position, err error) {
	for _, s := range f {
		s.ConditionalFailed(ctx, pos, err)
	}
}
