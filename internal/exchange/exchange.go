// Package exchange defines the boundary between the execution core and the
// upstream futures exchange. The core only ever sees the small typed surface
// below; raw exchange payloads are validated and converted at this boundary.
package exchange

import (
	"context"
	"errors"
	"fmt"

	"tradeguard/internal/types"

	"github.com/shopspring/decimal"
)

// SymbolFilters carries the per-symbol trading constraints used for sizing.
type SymbolFilters struct {
	Symbol      string
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	TickSize    decimal.Decimal
}

// Position is one live leg. Amount is signed: positive long, negative short.
type Position struct {
	Symbol       string
	PositionSide types.PositionSide
	Amount       decimal.Decimal
	EntryPrice   decimal.Decimal
	MarkPrice    decimal.Decimal
	Leverage     int
	MarginMode   types.MarginMode
}

func (p Position) Flat() bool {
	return p.Amount.IsZero()
}

// Direction returns the order side that opened this leg.
func (p Position) Direction() types.Side {
	if p.Amount.Sign() < 0 {
		return types.SideSell
	}
	return types.SideBuy
}

// SymbolMargin is the current margin configuration of a symbol.
type SymbolMargin struct {
	Symbol   string
	Mode     types.MarginMode
	Leverage int
}

// Order is a placement request. Price and TimeInForce are only set for limit
// orders. PositionSide is only set on hedge-mode accounts.
type Order struct {
	Symbol        string
	Side          types.Side
	PositionSide  types.PositionSide
	Type          types.OrderType
	Qty           decimal.Decimal
	Price         decimal.Decimal
	TimeInForce   types.TimeInForce
	ReduceOnly    bool
	ClientOrderID string
}

// OrderAck is the exchange's confirmation of an accepted order.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Status        string
	ExecutedQty   decimal.Decimal
}

// OpenOrder identifies a resting order on the book.
type OpenOrder struct {
	OrderID int64
	Symbol  string
}

// Client is the exchange surface the core consumes. Positions with an empty
// symbol returns every live leg; flat legs are omitted in either form.
type Client interface {
	Ping(ctx context.Context) error
	SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error)
	AvailableBalance(ctx context.Context) (decimal.Decimal, error)
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Positions(ctx context.Context, symbol string) ([]Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	MarginInfo(ctx context.Context, symbol string) (SymbolMargin, error)
	SetMarginMode(ctx context.Context, symbol string, mode types.MarginMode) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, order Order) (OrderAck, error)
}

// ErrorKind classifies exchange rejections the core reacts to differently.
type ErrorKind string

const (
	// KindReduceOnlyRejected is the distinguishable rejection class that
	// triggers the closer's limit-IOC fallback.
	KindReduceOnlyRejected ErrorKind = "reduce_only_rejected"
	// KindNoChangeNeeded means the requested state already holds; callers
	// must treat it as success.
	KindNoChangeNeeded ErrorKind = "no_change_needed"
	// KindPositionConflict means live exposure or resting orders block the
	// requested mutation.
	KindPositionConflict ErrorKind = "position_conflict"
	KindSymbolNotFound   ErrorKind = "symbol_not_found"
	// KindTransport covers network failures and exchange unavailability.
	KindTransport ErrorKind = "transport"
	KindRejected  ErrorKind = "rejected"
)

// APIError is a typed exchange rejection.
type APIError struct {
	Kind ErrorKind
	Code int64
	Msg  string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange: %s (code %d): %s", e.Kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("exchange: %s: %s", e.Kind, e.Msg)
}

// KindOf returns the error's kind, or KindTransport for anything that is not
// a typed exchange rejection (a raw network error reaching the caller means
// the request never produced an exchange verdict).
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransport
}

func IsReduceOnlyRejected(err error) bool { return is(err, KindReduceOnlyRejected) }

func IsNoChangeNeeded(err error) bool { return is(err, KindNoChangeNeeded) }

func IsPositionConflict(err error) bool { return is(err, KindPositionConflict) }

func IsSymbolNotFound(err error) bool { return is(err, KindSymbolNotFound) }

func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindTransport
}

func is(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
