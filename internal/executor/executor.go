// Package executor places entry orders and flattens positions. It owns the
// hedge-mode leg bookkeeping: entry sides map to position sides, and closes
// are always issued against a specific leg so they can never flip exposure.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"tradeguard/internal/exchange"
	"tradeguard/internal/filters"
	"tradeguard/internal/sizing"
	"tradeguard/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrNothingToClose is returned by CloseSymbol when the symbol has no live
// legs.
var ErrNothingToClose = errors.New("executor: no live position")

// Config tunes order placement.
type Config struct {
	// HedgeMode tags every order with an explicit position side. Off means
	// one-way mode, where closes rely on the reduceOnly flag instead.
	HedgeMode bool
	// SlippagePercent is how far through the mark price the limit fallback
	// bids when a reduce-only market close is rejected. Zero means 0.5.
	SlippagePercent decimal.Decimal
}

// PlaceRequest is an entry order.
type PlaceRequest struct {
	Symbol   string
	Side     types.Side
	Quantity decimal.Decimal
	// PositionSide overrides the hedge-mode inference when set.
	PositionSide types.PositionSide
	// ReduceOnly places an offsetting entry in one-way mode.
	ReduceOnly bool
}

// LegResult reports the outcome of closing one position leg.
type LegResult struct {
	PositionSide  types.PositionSide
	Quantity      decimal.Decimal
	OrderID       int64
	LimitFallback bool
	Err           error
}

// CloseReport aggregates the per-leg outcomes for one symbol.
type CloseReport struct {
	Symbol    string
	Legs      []LegResult
	CancelErr error
}

// Err returns the first failure in the report, if any.
func (r CloseReport) Err() error {
	if r.CancelErr != nil {
		return r.CancelErr
	}
	for _, leg := range r.Legs {
		if leg.Err != nil {
			return leg.Err
		}
	}
	return nil
}

type Executor struct {
	client  exchange.Client
	filters *filters.Provider
	log     zerolog.Logger
	cfg     Config
}

func New(client exchange.Client, provider *filters.Provider, cfg Config, log zerolog.Logger) *Executor {
	if cfg.SlippagePercent.Sign() <= 0 {
		cfg.SlippagePercent = decimal.RequireFromString("0.5")
	}
	return &Executor{client: client, filters: provider, log: log, cfg: cfg}
}

// Place submits a market entry order. In hedge mode the position side is
// inferred from the order side: buys open the long leg, sells the short leg.
func (e *Executor) Place(ctx context.Context, req PlaceRequest) (exchange.OrderAck, error) {
	if req.Quantity.Sign() <= 0 {
		return exchange.OrderAck{}, fmt.Errorf("executor: non-positive quantity for %s", req.Symbol)
	}
	order := exchange.Order{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          types.OrderTypeMarket,
		Qty:           req.Quantity,
		ReduceOnly:    req.ReduceOnly,
		ClientOrderID: newClientOrderID(),
	}
	switch {
	case req.PositionSide != "":
		order.PositionSide = req.PositionSide
	case e.cfg.HedgeMode:
		order.PositionSide = types.PositionSideFor(req.Side)
	}
	ack, err := e.client.PlaceOrder(ctx, order)
	if err != nil {
		return exchange.OrderAck{}, fmt.Errorf("executor: place %s %s: %w", req.Side, req.Symbol, err)
	}
	e.log.Info().Str("symbol", req.Symbol).Str("side", string(req.Side)).
		Str("qty", req.Quantity.String()).Int64("order_id", ack.OrderID).Msg("entry order placed")
	return ack, nil
}

// CloseSymbol cancels the symbol's resting orders and flattens every live
// leg. Legs are closed independently; one rejection does not stop the rest.
func (e *Executor) CloseSymbol(ctx context.Context, symbol string) (CloseReport, error) {
	report := CloseReport{Symbol: symbol}

	// Resting orders go first so a triggered stop cannot re-open the
	// position mid-flatten.
	if err := e.client.CancelAllOrders(ctx, symbol); err != nil {
		report.CancelErr = fmt.Errorf("executor: cancel orders for %s: %w", symbol, err)
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("order cancel before close failed")
	}

	positions, err := e.client.Positions(ctx, symbol)
	if err != nil {
		return report, fmt.Errorf("executor: read positions for %s: %w", symbol, err)
	}

	closed := 0
	for _, pos := range positions {
		if pos.Flat() {
			continue
		}
		closed++
		report.Legs = append(report.Legs, e.closeLeg(ctx, pos))
	}
	if closed == 0 && report.CancelErr == nil {
		return report, ErrNothingToClose
	}
	return report, nil
}

// closeLeg flattens one leg with a reduce-only market order, falling back to
// a marketable limit IOC when the exchange rejects the market close.
func (e *Executor) closeLeg(ctx context.Context, pos exchange.Position) LegResult {
	side := pos.Direction().Opposite()
	qty := pos.Amount.Abs()
	var tick, step decimal.Decimal
	if f, err := e.filters.Get(ctx, pos.Symbol); err == nil {
		tick, step = f.TickSize, f.StepSize
		// round the amount up a step so dust between steps still offsets in
		// full; reduce-only caps the fill at the live amount
		qty = sizing.CeilToStep(qty, step)
	}

	result := LegResult{PositionSide: pos.PositionSide, Quantity: qty}

	order := exchange.Order{
		Symbol:        pos.Symbol,
		Side:          side,
		Type:          types.OrderTypeMarket,
		Qty:           qty,
		ClientOrderID: newClientOrderID(),
	}
	if e.cfg.HedgeMode {
		order.PositionSide = pos.PositionSide
	} else {
		order.ReduceOnly = true
	}

	ack, err := e.client.PlaceOrder(ctx, order)
	if err == nil {
		result.OrderID = ack.OrderID
		e.log.Info().Str("symbol", pos.Symbol).Str("leg", string(pos.PositionSide)).
			Str("qty", qty.String()).Msg("position leg closed")
		return result
	}
	if !exchange.IsReduceOnlyRejected(err) {
		result.Err = fmt.Errorf("executor: close %s %s: %w", pos.Symbol, pos.PositionSide, err)
		return result
	}

	e.log.Warn().Str("symbol", pos.Symbol).Str("leg", string(pos.PositionSide)).
		Msg("reduce-only market close rejected, trying limit fallback")

	ack, err = e.limitFallback(ctx, order, tick)
	if err != nil {
		result.Err = err
		return result
	}
	result.OrderID = ack.OrderID
	result.LimitFallback = true
	return result
}

// limitFallback re-issues the close as an immediate-or-cancel limit priced
// through the mark so it fills like a market order but survives the
// exchange's reduce-only market restrictions.
func (e *Executor) limitFallback(ctx context.Context, order exchange.Order, tick decimal.Decimal) (exchange.OrderAck, error) {
	mark, err := e.client.MarkPrice(ctx, order.Symbol)
	if err != nil {
		return exchange.OrderAck{}, fmt.Errorf("executor: mark price for limit fallback on %s: %w", order.Symbol, err)
	}
	if mark.Sign() <= 0 {
		return exchange.OrderAck{}, fmt.Errorf("executor: no mark price for limit fallback on %s", order.Symbol)
	}

	slip := e.cfg.SlippagePercent.Div(decimal.NewFromInt(100))
	var price decimal.Decimal
	if order.Side == types.SideSell {
		price = mark.Mul(decimal.NewFromInt(1).Sub(slip))
		price = sizing.SnapDown(price, tick)
	} else {
		price = mark.Mul(decimal.NewFromInt(1).Add(slip))
		price = sizing.CeilToStep(price, tick)
	}

	order.Type = types.OrderTypeLimit
	order.Price = price
	order.TimeInForce = types.TimeInForceIOC
	order.ClientOrderID = newClientOrderID()

	ack, err := e.client.PlaceOrder(ctx, order)
	if err != nil {
		return exchange.OrderAck{}, fmt.Errorf("executor: limit fallback on %s: %w", order.Symbol, err)
	}
	return ack, nil
}

// CloseAll flattens every live position across all symbols. Each symbol is
// handled independently and the per-symbol reports are returned in symbol
// order.
func (e *Executor) CloseAll(ctx context.Context) ([]CloseReport, error) {
	positions, err := e.client.Positions(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("executor: read positions: %w", err)
	}

	bySymbol := make(map[string][]exchange.Position)
	for _, pos := range positions {
		if pos.Flat() {
			continue
		}
		bySymbol[pos.Symbol] = append(bySymbol[pos.Symbol], pos)
	}

	symbols := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	reports := make([]CloseReport, 0, len(symbols))
	for _, symbol := range symbols {
		report := CloseReport{Symbol: symbol}
		if err := e.client.CancelAllOrders(ctx, symbol); err != nil {
			report.CancelErr = fmt.Errorf("executor: cancel orders for %s: %w", symbol, err)
		}
		for _, pos := range bySymbol[symbol] {
			report.Legs = append(report.Legs, e.closeLeg(ctx, pos))
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func newClientOrderID() string {
	return "tg-" + uuid.NewString()
}
