package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the literal order side sent to an exchange.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other literal side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderParams is the exchange-specific parameter bag attached to an order.
// The keys and values are produced by the params builder for a concrete
// exchange (positionSide, posSide, tdMode, reduceOnly, ...) and passed
// through to the trading session untouched.
type OrderParams map[string]any

// OrderAck is the normalized acknowledgement returned by an order submission
// or an order fetch. AveragePrice and Price may be zero when the exchange has
// not yet resolved the fill; callers fall back to the price fetcher.
type OrderAck struct {
	ID           string
	Symbol       string
	Side         Side
	AveragePrice decimal.Decimal
	Price        decimal.Decimal
	FilledQty    decimal.Decimal
	Fee          decimal.Decimal
	Status       string
	CreatedAt    time.Time
}

// FillPrice returns the best price embedded in the acknowledgement, or zero.
func (a OrderAck) FillPrice() decimal.Decimal {
	if a.AveragePrice.IsPositive() {
		return a.AveragePrice
	}
	return a.Price
}

// Fill is one execution record from the account's own trade history.
type Fill struct {
	ID      string
	OrderID string
	Symbol  string
	Side    Side
	Price   decimal.Decimal
	Qty     decimal.Decimal
	Fee     decimal.Decimal
	Time    time.Time
}

// Market is normalized instrument metadata.
type Market struct {
	Symbol          string
	ContractSize    decimal.Decimal
	PricePrecision  int32
	AmountPrecision int32
	MinQty          decimal.Decimal
}

// MarginVariant distinguishes account margin models where the probe can tell
// them apart.
type MarginVariant string

const (
	MarginStandard MarginVariant = "standard"
	MarginUnified  MarginVariant = "unified"
)

// AccountMode is the result of probing an authenticated session.
// DetectionFailed is set when every probe failed and the safe default
// (hedge mode, standard margin) was assumed; callers should log and alert
// rather than silently trust it.
type AccountMode struct {
	HedgeMode       bool
	MarginVariant   MarginVariant
	DetectionFailed bool
}

// AccountConfig is the raw result of the alternate account-config probe.
type AccountConfig struct {
	HedgeMode     bool
	MarginVariant MarginVariant
}

// ConditionalKind distinguishes the two trigger order intents.
type ConditionalKind string

const (
	ConditionalStopLoss   ConditionalKind = "stop_loss"
	ConditionalTakeProfit ConditionalKind = "take_profit"
)

// ConditionalRequest is a normalized trigger order, already mapped to the
// target exchange's taxonomy by a conditional-order adapter.
type ConditionalRequest struct {
	Kind         ConditionalKind
	OrderType    string
	Side         Side
	PositionSide string
	Qty          decimal.Decimal
	TriggerPrice decimal.Decimal
	ReduceOnly   bool
	Params       OrderParams
}

// ConditionalOrder is an open trigger order as reported by an exchange. Kind
// may be empty for exchanges that only expose a generic trigger; adapters
// classify it heuristically.
type ConditionalOrder struct {
	ID           string
	Symbol       string
	Side         Side
	PositionSide string
	Kind         ConditionalKind
	TriggerPrice decimal.Decimal
	Qty          decimal.Decimal
}

// TradingSession is the normalized contract the sagas need from any
// authenticated exchange adapter. Implementations own the wire protocol;
// every call is bounded by the adapter's own transport timeout.
type TradingSession interface {
	Exchange() string

	CreateMarketOrder(ctx context.Context, symbol string, side Side, qty decimal.Decimal, params OrderParams) (OrderAck, error)
	FetchOrder(ctx context.Context, id, symbol string) (OrderAck, error)
	FetchMyTrades(ctx context.Context, symbol string, since time.Time, limit int) ([]Fill, error)

	FetchAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	FetchMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	LoadMarkets(ctx context.Context) (map[string]Market, error)

	// FetchPositionMode is the primary account-mode probe: true means hedge
	// mode. FetchAccountConfig is the alternate probe used when the primary
	// endpoint is unavailable for the account type.
	FetchPositionMode(ctx context.Context) (bool, error)
	FetchAccountConfig(ctx context.Context) (AccountConfig, error)

	PlaceConditionalOrder(ctx context.Context, symbol string, req ConditionalRequest) (string, error)
	CancelConditionalOrder(ctx context.Context, symbol, orderID string) (bool, error)
	ListConditionalOrders(ctx context.Context, symbol string) ([]ConditionalOrder, error)

	FetchFundingPayments(ctx context.Context, symbol string, since time.Time) ([]FundingPayment, error)
}

// Credential is a decrypted API credential set for one (user, exchange).
type Credential struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// CredentialSource resolves decrypted credentials per (userID, exchange).
// It returns ErrAPIKeyNotFound when no credentials are configured.
type CredentialSource interface {
	Get(ctx context.Context, userID, exchange string) (Credential, error)
}
