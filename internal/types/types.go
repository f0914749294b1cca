package types

type Side string

type MarginMode string

type PositionSide string

type OrderType string

type TimeInForce string

type SizingMode string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	MarginModeIsolated MarginMode = "ISOLATED"
	MarginModeCross    MarginMode = "CROSSED"
)

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
	PositionSideBoth  PositionSide = "BOTH"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
)

const (
	SizingModeQuantity      SizingMode = "quantity"
	SizingModePercent       SizingMode = "percent"
	SizingModePercentBumped SizingMode = "percent_bumped_to_minimum"
	SizingModeFallbackMin   SizingMode = "fallback_minimum"
)

// Opposite returns the other order side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSideFor maps an order side to the hedge-mode leg it opens:
// a buy opens the LONG leg, a sell opens the SHORT leg.
func PositionSideFor(s Side) PositionSide {
	if s == SideSell {
		return PositionSideShort
	}
	return PositionSideLong
}
