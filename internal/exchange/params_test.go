package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundingarb/basisbot/internal/domain"
)

func mustLookup(t *testing.T, name string) Variant {
	t.Helper()
	v, err := NewRegistry().Lookup(name)
	require.NoError(t, err)
	return v
}

func TestOpenParams(t *testing.T) {
	tests := []struct {
		exchange string
		side     domain.LegSide
		hedge    bool
		want     domain.OrderParams
	}{
		{"binance", domain.LegLong, true, domain.OrderParams{"positionSide": "LONG"}},
		{"binance", domain.LegShort, true, domain.OrderParams{"positionSide": "SHORT"}},
		{"binance", domain.LegLong, false, domain.OrderParams{}},
		{"okx", domain.LegLong, true, domain.OrderParams{"posSide": "long", "tdMode": "cross"}},
		{"okx", domain.LegShort, true, domain.OrderParams{"posSide": "short", "tdMode": "cross"}},
		{"okx", domain.LegShort, false, domain.OrderParams{"posSide": "net", "tdMode": "cross"}},
		{"bingx", domain.LegLong, true, domain.OrderParams{"positionSide": "LONG"}},
		{"bingx", domain.LegLong, false, domain.OrderParams{"positionSide": "BOTH"}},
		{"gate", domain.LegLong, true, domain.OrderParams{}},
		{"bitget", domain.LegShort, false, domain.OrderParams{}},
	}
	for _, tt := range tests {
		t.Run(tt.exchange+"/"+string(tt.side), func(t *testing.T) {
			got, err := mustLookup(t, tt.exchange).OpenParams(tt.side, tt.hedge)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCloseParams(t *testing.T) {
	tests := []struct {
		exchange string
		side     domain.LegSide
		hedge    bool
		want     domain.OrderParams
	}{
		{"binance", domain.LegLong, true, domain.OrderParams{"positionSide": "LONG"}},
		{"binance", domain.LegLong, false, domain.OrderParams{"reduceOnly": true}},
		{"okx", domain.LegShort, true, domain.OrderParams{"posSide": "short", "tdMode": "cross"}},
		{"okx", domain.LegLong, false, domain.OrderParams{"posSide": "net", "tdMode": "cross", "reduceOnly": true}},
		{"bingx", domain.LegShort, true, domain.OrderParams{"positionSide": "SHORT"}},
		{"bingx", domain.LegShort, false, domain.OrderParams{"positionSide": "BOTH", "reduceOnly": true}},
		{"gate", domain.LegLong, false, domain.OrderParams{"reduceOnly": true}},
		{"gate", domain.LegLong, true, domain.OrderParams{}},
	}
	for _, tt := range tests {
		t.Run(tt.exchange+"/"+string(tt.side), func(t *testing.T) {
			got, err := mustLookup(t, tt.exchange).CloseParams(tt.side, tt.hedge)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Opening and then closing the same leg must carry the same position identity
// tag even though the literal order sides are opposite.
func TestParamsRoundTrip(t *testing.T) {
	reg := NewRegistry()
	for _, name := range reg.Names() {
		for _, hedge := range []bool{true, false} {
			for _, side := range []domain.LegSide{domain.LegLong, domain.LegShort} {
				v, err := reg.Lookup(name)
				require.NoError(t, err)

				open, err := v.OpenParams(side, hedge)
				require.NoError(t, err)
				closeP, err := v.CloseParams(side, hedge)
				require.NoError(t, err)

				assert.NotEqual(t, side.OpenSide(), side.CloseSide())
				if hedge {
					for _, key := range []string{"positionSide", "posSide"} {
						if tag, ok := open[key]; ok {
							assert.Equal(t, tag, closeP[key],
								"%s %s hedge: close must reuse the open identity tag", name, side)
						}
					}
					assert.NotContains(t, closeP, "reduceOnly",
						"%s %s hedge: identity tag replaces reduceOnly", name)
				}
			}
		}
	}
}

func TestParamsValidation(t *testing.T) {
	_, err := NewRegistry().Lookup("ftx")
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "exchange", vErr.Field)

	v := mustLookup(t, "binance")
	_, err = v.OpenParams(domain.LegSide("sideways"), true)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "side", vErr.Field)

	_, err = v.CloseParams(domain.LegSide(""), false)
	require.ErrorAs(t, err, &vErr)
}
