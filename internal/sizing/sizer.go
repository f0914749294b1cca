// Package sizing converts sizing intents into filter-compliant order
// quantities. All arithmetic is decimal; a quantity that passes here must
// pass the exchange's LOT_SIZE and MIN_NOTIONAL checks exactly.
package sizing

import (
	"tradeguard/internal/exchange"
	"tradeguard/internal/types"

	"github.com/shopspring/decimal"
)

type Policy string

const (
	// PolicyStrict rejects quantities below the exchange minimum instead of
	// inflating the position beyond what the caller asked for.
	PolicyStrict Policy = "strict"
	// PolicyFlexible bumps a below-minimum quantity up to the smallest legal
	// quantity when the wallet can still afford it.
	PolicyFlexible Policy = "flexible"
)

type RejectReason string

const (
	ReasonNoPriceAvailable    RejectReason = "no_price_available"
	ReasonInvalidSize         RejectReason = "invalid_size"
	ReasonBelowMinimum        RejectReason = "below_minimum"
	ReasonInsufficientBalance RejectReason = "insufficient_balance"
)

// Request is a sizing intent. Exactly one of Qty and Percent is meaningful:
// a positive Qty takes precedence over Percent.
type Request struct {
	Symbol     string
	Side       types.Side
	Qty        decimal.Decimal
	Percent    decimal.Decimal
	Leverage   int
	Price      decimal.Decimal
	MarginMode types.MarginMode
	ReduceOnly bool
	Policy     Policy
}

// Result is either an accepted quantity with its mode, or a structured
// rejection. RequiredPercent on a rejection is the smallest percent that
// would have been accepted, so callers can render an exact correction hint.
type Result struct {
	OK       bool
	Quantity decimal.Decimal
	Notional decimal.Decimal
	Mode     types.SizingMode

	Reason          RejectReason
	RequiredPercent decimal.Decimal
	MinQuantity     decimal.Decimal
	MinNotional     decimal.Decimal
}

// requiredPercentPlaces bounds the precision of the correction hint; the
// value is rounded toward +inf so re-sizing with it always clears the
// minimum.
const requiredPercentPlaces = 8

type Sizer struct {
	maxBumpPercent decimal.Decimal
}

// NewSizer builds a sizer whose flexible policy bumps at most up to
// maxBumpPercent of the available balance; zero or negative means 100.
func NewSizer(maxBumpPercent decimal.Decimal) *Sizer {
	if maxBumpPercent.Sign() <= 0 {
		maxBumpPercent = decimal.NewFromInt(100)
	}
	return &Sizer{maxBumpPercent: maxBumpPercent}
}

// Size computes a filter-compliant quantity for the request, or a structured
// rejection. availableBalance is the wallet balance in the quote asset.
func (s *Sizer) Size(req Request, filters exchange.SymbolFilters, availableBalance decimal.Decimal) Result {
	if req.Price.Sign() <= 0 {
		return Result{Reason: ReasonNoPriceAvailable}
	}
	leverage := decimal.NewFromInt(int64(req.Leverage))
	if req.Leverage <= 0 {
		leverage = decimal.NewFromInt(1)
	}

	minLegal := minLegalQty(filters, req.Price)

	var qty decimal.Decimal
	var mode types.SizingMode
	switch {
	case req.Qty.Sign() > 0:
		qty = snapDown(req.Qty, filters.StepSize)
		mode = types.SizingModeQuantity
	case req.Percent.Sign() > 0:
		if availableBalance.Sign() <= 0 {
			return Result{Reason: ReasonInsufficientBalance, MinQuantity: minLegal, MinNotional: minLegal.Mul(req.Price)}
		}
		// margin budget = balance * percent/100, target notional = budget *
		// leverage, quantity = notional/price floored to the step. A single
		// division keeps step-boundary results exact.
		targetNotional := availableBalance.Mul(req.Percent).Mul(leverage)
		den := req.Price.Mul(decimal.NewFromInt(100))
		if filters.StepSize.Sign() > 0 {
			qty = targetNotional.Div(den.Mul(filters.StepSize)).Floor().Mul(filters.StepSize)
		} else {
			qty = targetNotional.Div(den)
		}
		mode = types.SizingModePercent
	default:
		return Result{Reason: ReasonInvalidSize}
	}

	if qty.GreaterThanOrEqual(minLegal) && qty.Sign() > 0 {
		return Result{OK: true, Quantity: qty, Notional: qty.Mul(req.Price), Mode: mode}
	}

	minNotional := minLegal.Mul(req.Price)
	required := requiredPercent(minNotional, availableBalance, leverage)

	if req.Policy == PolicyFlexible && availableBalance.Sign() > 0 &&
		required.Sign() > 0 && required.LessThanOrEqual(s.maxBumpPercent) {
		bumped := types.SizingModePercentBumped
		if mode == types.SizingModeQuantity {
			bumped = types.SizingModeFallbackMin
		}
		return Result{OK: true, Quantity: minLegal, Notional: minNotional, Mode: bumped}
	}

	return Result{
		Reason:          ReasonBelowMinimum,
		RequiredPercent: required,
		MinQuantity:     minLegal,
		MinNotional:     minNotional,
	}
}

// minLegalQty is the smallest quantity that satisfies both the lot-size
// floor and the notional floor, aligned up to the quantity step.
func minLegalQty(filters exchange.SymbolFilters, price decimal.Decimal) decimal.Decimal {
	min := filters.MinQty
	if filters.MinNotional.Sign() > 0 {
		var byNotional decimal.Decimal
		if filters.StepSize.Sign() > 0 {
			byNotional = filters.MinNotional.Div(price.Mul(filters.StepSize)).Ceil().Mul(filters.StepSize)
		} else {
			byNotional = filters.MinNotional.Div(price)
		}
		if byNotional.GreaterThan(min) {
			min = byNotional
		}
	}
	if filters.StepSize.Sign() > 0 {
		min = ceilToStep(min, filters.StepSize)
	}
	return min
}

func requiredPercent(minNotional, balance, leverage decimal.Decimal) decimal.Decimal {
	if balance.Sign() <= 0 || leverage.Sign() <= 0 {
		return decimal.Zero
	}
	pct := minNotional.Div(balance.Mul(leverage)).Mul(decimal.NewFromInt(100))
	return pct.RoundCeil(requiredPercentPlaces)
}

func snapDown(qty, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

func ceilToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return qty
	}
	return qty.Div(step).Ceil().Mul(step)
}

// CeilToStep aligns qty up to the next multiple of step. The closer uses it
// to guarantee a full offset of a leg even when the live amount sits between
// steps.
func CeilToStep(qty, step decimal.Decimal) decimal.Decimal {
	return ceilToStep(qty, step)
}

// SnapDown aligns qty down to the previous multiple of step.
func SnapDown(qty, step decimal.Decimal) decimal.Decimal {
	return snapDown(qty, step)
}
