package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// OrderUpdate is one normalized order state transition from a venue's private
// stream. Only the fields the trigger watcher needs survive normalization.
type OrderUpdate struct {
	Exchange string
	OrderID  string
	Status   string
}

// Filled reports whether the update is a terminal full fill.
func (u OrderUpdate) Filled() bool {
	switch strings.ToLower(u.Status) {
	case "filled", "full_fill", "finished":
		return true
	}
	return false
}

// OrderUpdateHandler consumes normalized order updates.
type OrderUpdateHandler func(ctx context.Context, update OrderUpdate)

// updateParser extracts an OrderUpdate from one raw frame. ok is false for
// frames that are not order transitions (depth pushes, acks, heartbeats).
type updateParser func(raw []byte) (OrderUpdate, bool)

// OrderStream consumes one exchange's private order-update websocket and
// feeds normalized updates to a handler. It reconnects with exponential
// backoff and re-sends the subscribe payload after every reconnect.
type OrderStream struct {
	exchange  string
	url       string
	subscribe []byte
	parse     updateParser
	handler   OrderUpdateHandler
	logger    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewOrderStream builds a stream for the given exchange. The subscribe
// payload carries the venue's authentication (listen key, signed login) and
// is produced by the caller's credential handling.
func NewOrderStream(exchangeName, url string, subscribe []byte, handler OrderUpdateHandler, logger *slog.Logger) *OrderStream {
	return &OrderStream{
		exchange:  exchangeName,
		url:       url,
		subscribe: subscribe,
		parse:     parserFor(exchangeName),
		handler:   handler,
		logger:    logger.With("component", "order_stream", "exchange", exchangeName),
		done:      make(chan struct{}),
	}
}

// Run connects and consumes updates until ctx is cancelled or Close is
// called. Connection failures reconnect with exponential backoff.
func (s *OrderStream) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		err := s.runConnection(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("order stream disconnected, reconnecting",
			"error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the stream.
func (s *OrderStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *OrderStream) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if len(s.subscribe) > 0 {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, s.subscribe); err != nil {
			return err
		}
	}

	go s.pingLoop(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if update, ok := s.parse(raw); ok {
			update.Exchange = s.exchange
			s.handler(ctx, update)
		}
	}
}

func (s *OrderStream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func parserFor(exchangeName string) updateParser {
	switch exchangeName {
	case "binance", "bingx":
		return parseBinanceUpdate
	case "okx":
		return parseOKXUpdate
	default:
		return parseGenericUpdate
	}
}

// parseBinanceUpdate handles the user-data ORDER_TRADE_UPDATE event shared by
// the binance-family streams.
func parseBinanceUpdate(raw []byte) (OrderUpdate, bool) {
	var msg struct {
		Event string `json:"e"`
		Order struct {
			OrderID int64  `json:"i"`
			Status  string `json:"X"`
		} `json:"o"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event != "ORDER_TRADE_UPDATE" {
		return OrderUpdate{}, false
	}
	return OrderUpdate{
		OrderID: strconv.FormatInt(msg.Order.OrderID, 10),
		Status:  msg.Order.Status,
	}, true
}

// parseOKXUpdate handles both the orders and orders-algo channels; the algo
// id takes precedence because conditional orders are tracked by it.
func parseOKXUpdate(raw []byte) (OrderUpdate, bool) {
	var msg struct {
		Arg struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []struct {
			OrdID  string `json:"ordId"`
			AlgoID string `json:"algoId"`
			State  string `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || len(msg.Data) == 0 {
		return OrderUpdate{}, false
	}
	if !strings.HasPrefix(msg.Arg.Channel, "orders") {
		return OrderUpdate{}, false
	}
	d := msg.Data[0]
	id := d.AlgoID
	if id == "" {
		id = d.OrdID
	}
	return OrderUpdate{OrderID: id, Status: d.State}, true
}

func parseGenericUpdate(raw []byte) (OrderUpdate, bool) {
	var msg struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.OrderID == "" {
		return OrderUpdate{}, false
	}
	return OrderUpdate{OrderID: msg.OrderID, Status: msg.Status}, true
}
