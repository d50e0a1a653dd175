// Package exchange normalizes per-exchange trading capabilities behind a
// closed set of variants: order parameter construction, account mode
// detection, conditional order placement and authenticated session assembly.
package exchange

import (
	"sort"

	"github.com/fundingarb/basisbot/internal/domain"
)

// Family groups exchanges that share an order-parameter and trigger-order
// taxonomy. Dispatch is resolved once at registry construction, never by
// string inspection at call time.
type Family string

const (
	// FamilyBinance uses positionSide LONG/SHORT tags and native
	// STOP_MARKET/TAKE_PROFIT_MARKET trigger types.
	FamilyBinance Family = "binance"
	// FamilyOKX uses posSide long/short/net with tdMode and a generic algo
	// trigger order that does not distinguish stop-loss from take-profit.
	FamilyOKX Family = "okx"
	// FamilyBingX uses positionSide LONG/SHORT/BOTH and native trigger types
	// with string-formatted prices at the instrument's declared precision.
	FamilyBingX Family = "bingx"
	// FamilyGeneric covers exchanges with no position tagging: flattening
	// relies on reduceOnly in one-way mode.
	FamilyGeneric Family = "generic"
)

// Variant is one registered exchange with its resolved family.
type Variant struct {
	Name   string
	Family Family
}

// Registry maps exchange identifiers to their variant. The set is closed at
// construction; an unknown identifier is a validation error, never a silent
// default.
type Registry struct {
	variants map[string]Variant
}

// NewRegistry builds the registry with the supported exchange set.
func NewRegistry() *Registry {
	r := &Registry{variants: make(map[string]Variant)}
	for _, v := range []Variant{
		{Name: "binance", Family: FamilyBinance},
		{Name: "okx", Family: FamilyOKX},
		{Name: "bingx", Family: FamilyBingX},
		{Name: "gate", Family: FamilyGeneric},
		{Name: "bitget", Family: FamilyGeneric},
	} {
		r.variants[v.Name] = v
	}
	return r
}

// Lookup resolves an exchange identifier.
func (r *Registry) Lookup(exchange string) (Variant, error) {
	v, ok := r.variants[exchange]
	if !ok {
		return Variant{}, &domain.ValidationError{
			Field:  "exchange",
			Value:  exchange,
			Reason: "not a supported exchange",
		}
	}
	return v, nil
}

// Names returns the registered exchange identifiers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.variants))
	for name := range r.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
