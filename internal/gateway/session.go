// Package gateway is the production implementation of the normalized trading
// contract: signed REST sessions over resty plus a websocket order-update
// stream. Each exchange contributes a small protocol mapping; everything
// above it (symbols, throttling, signing, error classification) is shared.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// errProbeUnsupported marks an account probe the venue has no endpoint for;
// the mode detector treats it like any other probe failure.
var errProbeUnsupported = errors.New("probe not supported")

// protocol maps the normalized operations onto one exchange's REST API.
// Symbols are already native; unified conversion happens in Session.
type protocol interface {
	createOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params domain.OrderParams) (domain.OrderAck, error)
	fetchOrder(ctx context.Context, id, symbol string) (domain.OrderAck, error)
	myTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.Fill, error)

	availableBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	markPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	markets(ctx context.Context) (map[string]domain.Market, error)

	positionMode(ctx context.Context) (bool, error)
	accountConfig(ctx context.Context) (domain.AccountConfig, error)

	placeConditional(ctx context.Context, symbol string, req domain.ConditionalRequest) (string, error)
	cancelConditional(ctx context.Context, symbol, orderID string) (bool, error)
	listConditional(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error)

	fundingPayments(ctx context.Context, symbol string, since time.Time) ([]domain.FundingPayment, error)
}

// Session implements domain.TradingSession for one authenticated exchange
// connection.
type Session struct {
	exchange string
	proto    protocol
}

var _ domain.TradingSession = (*Session)(nil)

func (s *Session) Exchange() string { return s.exchange }

func (s *Session) native(symbol string) (string, error) {
	return nativeSymbol(s.exchange, symbol)
}

func (s *Session) CreateMarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params domain.OrderParams) (domain.OrderAck, error) {
	native, err := s.native(symbol)
	if err != nil {
		return domain.OrderAck{}, err
	}
	ack, err := s.proto.createOrder(ctx, native, side, qty, params)
	if err != nil {
		return domain.OrderAck{}, err
	}
	ack.Symbol = symbol
	return ack, nil
}

func (s *Session) FetchOrder(ctx context.Context, id, symbol string) (domain.OrderAck, error) {
	native, err := s.native(symbol)
	if err != nil {
		return domain.OrderAck{}, err
	}
	ack, err := s.proto.fetchOrder(ctx, id, native)
	if err != nil {
		return domain.OrderAck{}, err
	}
	ack.Symbol = symbol
	return ack, nil
}

func (s *Session) FetchMyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.Fill, error) {
	native, err := s.native(symbol)
	if err != nil {
		return nil, err
	}
	fills, err := s.proto.myTrades(ctx, native, since, limit)
	if err != nil {
		return nil, err
	}
	for i := range fills {
		fills[i].Symbol = symbol
	}
	return fills, nil
}

func (s *Session) FetchAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return s.proto.availableBalance(ctx, asset)
}

func (s *Session) FetchMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	native, err := s.native(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return s.proto.markPrice(ctx, native)
}

func (s *Session) LoadMarkets(ctx context.Context) (map[string]domain.Market, error) {
	return s.proto.markets(ctx)
}

func (s *Session) FetchPositionMode(ctx context.Context) (bool, error) {
	return s.proto.positionMode(ctx)
}

func (s *Session) FetchAccountConfig(ctx context.Context) (domain.AccountConfig, error) {
	return s.proto.accountConfig(ctx)
}

func (s *Session) PlaceConditionalOrder(ctx context.Context, symbol string, req domain.ConditionalRequest) (string, error) {
	native, err := s.native(symbol)
	if err != nil {
		return "", err
	}
	return s.proto.placeConditional(ctx, native, req)
}

func (s *Session) CancelConditionalOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	native, err := s.native(symbol)
	if err != nil {
		return false, err
	}
	return s.proto.cancelConditional(ctx, native, orderID)
}

func (s *Session) ListConditionalOrders(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	native, err := s.native(symbol)
	if err != nil {
		return nil, err
	}
	orders, err := s.proto.listConditional(ctx, native)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Symbol = symbol
	}
	return orders, nil
}

func (s *Session) FetchFundingPayments(ctx context.Context, symbol string, since time.Time) ([]domain.FundingPayment, error) {
	native, err := s.native(symbol)
	if err != nil {
		return nil, err
	}
	payments, err := s.proto.fundingPayments(ctx, native, since)
	if err != nil {
		return nil, err
	}
	for i := range payments {
		payments[i].Exchange = s.exchange
		payments[i].Symbol = symbol
	}
	return payments, nil
}

// dec parses a decimal string tolerantly: empty or malformed values become
// zero. Venue payloads routinely omit optional numeric fields.
func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// stepPrecision converts a tick/lot step such as "0.001" to its decimal
// place count.
func stepPrecision(step string) int32 {
	_, frac, ok := strings.Cut(step, ".")
	if !ok {
		return 0
	}
	frac = strings.TrimRight(frac, "0")
	return int32(len(frac))
}

// lowerSide maps a literal side to the lowercase wire form.
func lowerSide(s domain.Side) string { return string(s) }

// upperSide maps a literal side to the uppercase wire form.
func upperSide(s domain.Side) string { return strings.ToUpper(string(s)) }

func sideFromString(s string) domain.Side {
	if strings.EqualFold(s, "sell") {
		return domain.SideSell
	}
	return domain.SideBuy
}
