package gateway

import (
	"fmt"
	"strings"

	"github.com/fundingarb/basisbot/internal/domain"
)

// symbolParts is a parsed unified perpetual symbol such as "BTC/USDT:USDT".
type symbolParts struct {
	Base   string
	Quote  string
	Settle string
}

func parseSymbol(unified string) (symbolParts, error) {
	pair, settle, ok := strings.Cut(unified, ":")
	if !ok {
		return symbolParts{}, &domain.ValidationError{
			Field: "symbol", Value: unified, Reason: "missing settle suffix",
		}
	}
	base, quote, ok := strings.Cut(pair, "/")
	if !ok || base == "" || quote == "" || settle == "" {
		return symbolParts{}, &domain.ValidationError{
			Field: "symbol", Value: unified, Reason: "want BASE/QUOTE:SETTLE",
		}
	}
	return symbolParts{Base: base, Quote: quote, Settle: settle}, nil
}

// nativeSymbol converts a unified symbol to the instrument id the exchange's
// API expects.
func nativeSymbol(exchange, unified string) (string, error) {
	p, err := parseSymbol(unified)
	if err != nil {
		return "", err
	}
	switch exchange {
	case "binance", "bitget":
		return p.Base + p.Quote, nil
	case "okx":
		return p.Base + "-" + p.Quote + "-SWAP", nil
	case "bingx":
		return p.Base + "-" + p.Quote, nil
	case "gate":
		return p.Base + "_" + p.Quote, nil
	}
	return "", &domain.ValidationError{
		Field: "exchange", Value: exchange, Reason: "no symbol mapping",
	}
}

// unifiedSymbol converts an exchange-native instrument id back to the unified
// form. Linear perpetuals only; the settle currency is the quote currency.
func unifiedSymbol(exchange, native string) (string, error) {
	var base, quote string
	switch exchange {
	case "okx":
		parts := strings.Split(native, "-")
		if len(parts) != 3 || parts[2] != "SWAP" {
			return "", fmt.Errorf("gateway: unexpected okx instrument %q", native)
		}
		base, quote = parts[0], parts[1]
	case "bingx":
		var ok bool
		base, quote, ok = strings.Cut(native, "-")
		if !ok {
			return "", fmt.Errorf("gateway: unexpected bingx instrument %q", native)
		}
	case "gate":
		var ok bool
		base, quote, ok = strings.Cut(native, "_")
		if !ok {
			return "", fmt.Errorf("gateway: unexpected gate instrument %q", native)
		}
	case "binance", "bitget":
		for _, q := range []string{"USDT", "USDC"} {
			if strings.HasSuffix(native, q) && len(native) > len(q) {
				base, quote = strings.TrimSuffix(native, q), q
				break
			}
		}
		if base == "" {
			return "", fmt.Errorf("gateway: unexpected %s instrument %q", exchange, native)
		}
	default:
		return "", fmt.Errorf("gateway: no symbol mapping for %s", exchange)
	}
	return base + "/" + quote + ":" + quote, nil
}
