package saga

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fundingarb/basisbot/internal/domain"
)

// RequiredMargin computes quantity × price ÷ leverage × (1 + buffer).
func RequiredMargin(qty, price, leverage, buffer decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, &domain.ValidationError{Field: "quantity", Value: qty.String(), Reason: "must be positive"}
	}
	if !price.IsPositive() {
		return decimal.Zero, &domain.ValidationError{Field: "price", Value: price.String(), Reason: "must be positive"}
	}
	if leverage.LessThan(decimal.NewFromInt(1)) {
		return decimal.Zero, &domain.ValidationError{Field: "leverage", Value: leverage.String(), Reason: "must be at least 1"}
	}
	one := decimal.NewFromInt(1)
	return qty.Mul(price).Div(leverage).Mul(one.Add(buffer)), nil
}

// legMargin is one leg's balance requirement.
type legMargin struct {
	side     domain.LegSide
	exchange string
	session  domain.TradingSession
	leverage decimal.Decimal
}

// LegBalance is the structured result of a non-failing balance check.
type LegBalance struct {
	Side       domain.LegSide
	Exchange   string
	Required   decimal.Decimal
	Available  decimal.Decimal
	Sufficient bool
}

// BalanceValidator checks margin sufficiency on both legs before any order
// is placed.
type BalanceValidator struct {
	buffer decimal.Decimal
	asset  string
}

func NewBalanceValidator(buffer decimal.Decimal, asset string) *BalanceValidator {
	if buffer.IsZero() {
		buffer = decimal.NewFromFloat(0.10)
	}
	if asset == "" {
		asset = "USDT"
	}
	return &BalanceValidator{buffer: buffer, asset: asset}
}

// Check fetches both legs' available balances and compares them against the
// required margin, long leg first. It never fails on insufficiency; callers
// that need the failing variant use Validate.
func (v *BalanceValidator) Check(ctx context.Context, legs []legMargin, qty, price decimal.Decimal) ([]LegBalance, error) {
	results := make([]LegBalance, 0, len(legs))
	for _, leg := range legs {
		required, err := RequiredMargin(qty, price, leg.leverage, v.buffer)
		if err != nil {
			return nil, err
		}
		available, err := leg.session.FetchAvailableBalance(ctx, v.asset)
		if err != nil {
			return nil, fmt.Errorf("fetch balance on %s: %w", leg.exchange, err)
		}
		results = append(results, LegBalance{
			Side:       leg.side,
			Exchange:   leg.exchange,
			Required:   required,
			Available:  available,
			Sufficient: available.GreaterThanOrEqual(required),
		})
	}
	return results, nil
}

// Validate fails with InsufficientBalanceError for the first insufficient leg
// in long-then-short order, a deterministic tie-break when both are short of
// margin.
func (v *BalanceValidator) Validate(ctx context.Context, legs []legMargin, qty, price decimal.Decimal) error {
	results, err := v.Check(ctx, legs, qty, price)
	if err != nil {
		return err
	}
	for _, r := range results {
		if !r.Sufficient {
			return &domain.InsufficientBalanceError{
				Exchange:  r.Exchange,
				Required:  r.Required,
				Available: r.Available,
			}
		}
	}
	return nil
}
