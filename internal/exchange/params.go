package exchange

import (
	"github.com/fundingarb/basisbot/internal/domain"
)

// OpenParams builds the parameter bag for an order that opens the given leg.
// No I/O and no side effects; validation failures are typed, never defaulted.
func (v Variant) OpenParams(side domain.LegSide, hedge bool) (domain.OrderParams, error) {
	if err := validateSide(side); err != nil {
		return nil, err
	}
	params := domain.OrderParams{}
	switch v.Family {
	case FamilyBinance:
		if hedge {
			params["positionSide"] = positionSideTag(side)
		}
	case FamilyOKX:
		params["tdMode"] = "cross"
		if hedge {
			params["posSide"] = string(side)
		} else {
			params["posSide"] = "net"
		}
	case FamilyBingX:
		if hedge {
			params["positionSide"] = positionSideTag(side)
		} else {
			params["positionSide"] = "BOTH"
		}
	case FamilyGeneric:
		// no position tagging
	default:
		return nil, &domain.ValidationError{Field: "exchange", Value: v.Name, Reason: "unknown variant family"}
	}
	return params, nil
}

// CloseParams builds the parameter bag for an order that flattens the given
// leg. side is always the leg's original open identity: closing a long
// submits a sell order that still tags positionSide=LONG. In one-way mode the
// flatten intent is expressed with reduceOnly instead.
func (v Variant) CloseParams(side domain.LegSide, hedge bool) (domain.OrderParams, error) {
	if err := validateSide(side); err != nil {
		return nil, err
	}
	params := domain.OrderParams{}
	switch v.Family {
	case FamilyBinance:
		if hedge {
			params["positionSide"] = positionSideTag(side)
		} else {
			params["reduceOnly"] = true
		}
	case FamilyOKX:
		params["tdMode"] = "cross"
		if hedge {
			params["posSide"] = string(side)
		} else {
			params["posSide"] = "net"
			params["reduceOnly"] = true
		}
	case FamilyBingX:
		if hedge {
			params["positionSide"] = positionSideTag(side)
		} else {
			params["positionSide"] = "BOTH"
			params["reduceOnly"] = true
		}
	case FamilyGeneric:
		if !hedge {
			params["reduceOnly"] = true
		}
	default:
		return nil, &domain.ValidationError{Field: "exchange", Value: v.Name, Reason: "unknown variant family"}
	}
	return params, nil
}

func positionSideTag(side domain.LegSide) string {
	if side == domain.LegShort {
		return "SHORT"
	}
	return "LONG"
}

func validateSide(side domain.LegSide) error {
	if side != domain.LegLong && side != domain.LegShort {
		return &domain.ValidationError{Field: "side", Value: string(side), Reason: "must be long or short"}
	}
	return nil
}
