package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// fakeSession implements domain.TradingSession with scripted probe results
// and records conditional order requests.
type fakeSession struct {
	name string

	positionModeHedge bool
	positionModeErr   error
	accountConfig     domain.AccountConfig
	accountConfigErr  error
	positionModeCalls int

	markets    map[string]domain.Market
	marketsErr error

	placedConditional []domain.ConditionalRequest
	conditionalID     string
	conditionalErr    error
	cancelled         []string
	listed            []domain.ConditionalOrder
}

func (f *fakeSession) Exchange() string { return f.name }

func (f *fakeSession) CreateMarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, params domain.OrderParams) (domain.OrderAck, error) {
	return domain.OrderAck{}, errors.New("not scripted")
}

func (f *fakeSession) FetchOrder(ctx context.Context, id, symbol string) (domain.OrderAck, error) {
	return domain.OrderAck{}, errors.New("not scripted")
}

func (f *fakeSession) FetchMyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.Fill, error) {
	return nil, nil
}

func (f *fakeSession) FetchAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeSession) FetchMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeSession) LoadMarkets(ctx context.Context) (map[string]domain.Market, error) {
	if f.marketsErr != nil {
		return nil, f.marketsErr
	}
	return f.markets, nil
}

func (f *fakeSession) FetchPositionMode(ctx context.Context) (bool, error) {
	f.positionModeCalls++
	return f.positionModeHedge, f.positionModeErr
}

func (f *fakeSession) FetchAccountConfig(ctx context.Context) (domain.AccountConfig, error) {
	return f.accountConfig, f.accountConfigErr
}

func (f *fakeSession) PlaceConditionalOrder(ctx context.Context, symbol string, req domain.ConditionalRequest) (string, error) {
	f.placedConditional = append(f.placedConditional, req)
	if f.conditionalErr != nil {
		return "", f.conditionalErr
	}
	if f.conditionalID != "" {
		return f.conditionalID, nil
	}
	return "cond-1", nil
}

func (f *fakeSession) CancelConditionalOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	f.cancelled = append(f.cancelled, orderID)
	return true, nil
}

func (f *fakeSession) ListConditionalOrders(ctx context.Context, symbol string) ([]domain.ConditionalOrder, error) {
	return f.listed, nil
}

func (f *fakeSession) FetchFundingPayments(ctx context.Context, symbol string, since time.Time) ([]domain.FundingPayment, error) {
	return nil, nil
}
