package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// CommandHandler enqueues open and close commands on the durable command
// stream. Requests are accepted asynchronously; the serve loop picks them up
// and runs the sagas.
type CommandHandler struct {
	bus    domain.SignalBus
	stream string
	logger *slog.Logger
}

// NewCommandHandler creates a CommandHandler writing to the given stream.
func NewCommandHandler(bus domain.SignalBus, stream string, logger *slog.Logger) *CommandHandler {
	return &CommandHandler{
		bus:    bus,
		stream: stream,
		logger: logger,
	}
}

type openRequest struct {
	UserID        string          `json:"user_id"`
	Symbol        string          `json:"symbol"`
	LongExchange  string          `json:"long_exchange"`
	ShortExchange string          `json:"short_exchange"`
	Quantity      decimal.Decimal `json:"quantity"`
	LongLeverage  decimal.Decimal `json:"long_leverage"`
	ShortLeverage decimal.Decimal `json:"short_leverage"`
	StopLoss      decimal.Decimal `json:"stop_loss"`
	TakeProfit    decimal.Decimal `json:"take_profit"`
}

type closeRequest struct {
	Reason string `json:"reason"`
	Side   string `json:"side"`
}

type queuedResponse struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

// Open enqueues an open command.
// POST /api/positions
func (h *CommandHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Symbol == "" || req.LongExchange == "" || req.ShortExchange == "" {
		writeError(w, http.StatusBadRequest, "user_id, symbol, long_exchange and short_exchange are required")
		return
	}
	if !req.Quantity.IsPositive() {
		writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	h.enqueue(w, r, "open", map[string]any{
		"action":         "open",
		"user_id":        req.UserID,
		"symbol":         req.Symbol,
		"long_exchange":  req.LongExchange,
		"short_exchange": req.ShortExchange,
		"quantity":       req.Quantity,
		"long_leverage":  req.LongLeverage,
		"short_leverage": req.ShortLeverage,
		"stop_loss":      req.StopLoss,
		"take_profit":    req.TakeProfit,
	})
}

// Close enqueues a close command for the whole position.
// POST /api/positions/{id}/close
func (h *CommandHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	h.enqueue(w, r, "close", map[string]any{
		"action":      "close",
		"position_id": r.PathValue("id"),
		"reason":      req.Reason,
	})
}

// CloseLeg enqueues a single-leg close command.
// POST /api/positions/{id}/close-leg
func (h *CommandHandler) CloseLeg(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Side != string(domain.LegLong) && req.Side != string(domain.LegShort) {
		writeError(w, http.StatusBadRequest, "side must be long or short")
		return
	}

	h.enqueue(w, r, "close_leg", map[string]any{
		"action":      "close_leg",
		"position_id": r.PathValue("id"),
		"side":        req.Side,
		"reason":      req.Reason,
	})
}

func (h *CommandHandler) enqueue(w http.ResponseWriter, r *http.Request, action string, cmd map[string]any) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := h.bus.StreamAppend(r.Context(), h.stream, payload); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: enqueue command failed",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "command stream unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, queuedResponse{Status: "queued", Action: action})
}

// decodeOptionalBody decodes a JSON body into v, treating an empty body as an
// empty request.
func decodeOptionalBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
