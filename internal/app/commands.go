package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
	"github.com/fundingarb/basisbot/internal/saga"
)

// commandPollInterval is how often the consumer polls the command stream when
// no new entries are pending.
const commandPollInterval = time.Second

// tradeCommand is the wire format of entries on the Redis command stream.
// Action selects the saga; the remaining fields depend on it.
type tradeCommand struct {
	Action string `json:"action"`

	// open
	UserID        string          `json:"user_id,omitempty"`
	Symbol        string          `json:"symbol,omitempty"`
	LongExchange  string          `json:"long_exchange,omitempty"`
	ShortExchange string          `json:"short_exchange,omitempty"`
	Quantity      decimal.Decimal `json:"quantity,omitempty"`
	LongLeverage  decimal.Decimal `json:"long_leverage,omitempty"`
	ShortLeverage decimal.Decimal `json:"short_leverage,omitempty"`
	StopLoss      decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit    decimal.Decimal `json:"take_profit,omitempty"`

	// close, close_leg
	PositionID string `json:"position_id,omitempty"`
	Side       string `json:"side,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type positionOpener interface {
	Open(ctx context.Context, req saga.OpenRequest) (domain.Position, error)
}

type positionCloser interface {
	Close(ctx context.Context, positionID string, reason domain.CloseReason) (domain.Trade, error)
	CloseLeg(ctx context.Context, positionID string, side domain.LegSide, reason domain.CloseReason) error
}

// commandConsumer tails the command stream and dispatches each entry to the
// open or close saga. Delivery is at-least-once: the last seen stream ID is
// held in memory, so a restart replays the stream from the beginning and
// relies on the sagas' own status checks to reject stale commands.
type commandConsumer struct {
	bus    domain.SignalBus
	stream string
	opener positionOpener
	closer positionCloser
	logger *slog.Logger

	lastID string
}

func newCommandConsumer(bus domain.SignalBus, stream string, opener positionOpener, closer positionCloser, logger *slog.Logger) *commandConsumer {
	return &commandConsumer{
		bus:    bus,
		stream: stream,
		opener: opener,
		closer: closer,
		logger: logger.With("component", "commands", "stream", stream),
		lastID: "0",
	}
}

// Run polls the stream until the context is cancelled. A malformed or failed
// command is logged and skipped, never retried, so one bad entry cannot wedge
// the stream.
func (c *commandConsumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(commandPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.drain(ctx); err != nil {
				c.logger.ErrorContext(ctx, "reading command stream failed", "error", err)
			}
		}
	}
}

// drain reads and handles all currently pending entries.
func (c *commandConsumer) drain(ctx context.Context) error {
	for {
		msgs, err := c.bus.StreamRead(ctx, c.stream, c.lastID, 64)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, msg := range msgs {
			c.lastID = msg.ID
			if err := c.handle(ctx, msg.Payload); err != nil {
				c.logger.ErrorContext(ctx, "command failed", "stream_id", msg.ID, "error", err)
			}
		}
	}
}

func (c *commandConsumer) handle(ctx context.Context, payload []byte) error {
	var cmd tradeCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}

	switch cmd.Action {
	case "open":
		pos, err := c.opener.Open(ctx, saga.OpenRequest{
			UserID:        cmd.UserID,
			Symbol:        cmd.Symbol,
			LongExchange:  cmd.LongExchange,
			ShortExchange: cmd.ShortExchange,
			Quantity:      cmd.Quantity,
			LongLeverage:  cmd.LongLeverage,
			ShortLeverage: cmd.ShortLeverage,
			StopLoss:      cmd.StopLoss,
			TakeProfit:    cmd.TakeProfit,
		})
		if err != nil {
			return fmt.Errorf("open %s/%s: %w", cmd.UserID, cmd.Symbol, err)
		}
		c.logger.InfoContext(ctx, "position opened via command",
			"position_id", pos.ID, "user_id", pos.UserID, "symbol", pos.Symbol)
		return nil

	case "close":
		reason, err := parseCloseReason(cmd.Reason)
		if err != nil {
			return err
		}
		trade, err := c.closer.Close(ctx, cmd.PositionID, reason)
		if err != nil {
			return fmt.Errorf("close %s: %w", cmd.PositionID, err)
		}
		c.logger.InfoContext(ctx, "position closed via command",
			"position_id", cmd.PositionID, "total_pnl", trade.TotalPnL)
		return nil

	case "close_leg":
		side, err := parseLegSide(cmd.Side)
		if err != nil {
			return err
		}
		reason, err := parseCloseReason(cmd.Reason)
		if err != nil {
			return err
		}
		if err := c.closer.CloseLeg(ctx, cmd.PositionID, side, reason); err != nil {
			return fmt.Errorf("close leg %s/%s: %w", cmd.PositionID, side, err)
		}
		c.logger.InfoContext(ctx, "leg closed via command",
			"position_id", cmd.PositionID, "side", side, "reason", reason)
		return nil

	default:
		return fmt.Errorf("unknown command action %q", cmd.Action)
	}
}

// parseCloseReason maps the command field to a close reason, defaulting to
// manual when empty.
func parseCloseReason(s string) (domain.CloseReason, error) {
	switch domain.CloseReason(s) {
	case "":
		return domain.CloseReasonManual, nil
	case domain.CloseReasonManual, domain.CloseReasonStopLoss, domain.CloseReasonTakeProfit:
		return domain.CloseReason(s), nil
	default:
		return "", fmt.Errorf("unknown close reason %q", s)
	}
}

func parseLegSide(s string) (domain.LegSide, error) {
	switch domain.LegSide(s) {
	case domain.LegLong, domain.LegShort:
		return domain.LegSide(s), nil
	default:
		return "", fmt.Errorf("unknown leg side %q", s)
	}
}
