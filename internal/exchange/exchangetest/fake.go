// Package exchangetest provides a configurable in-memory exchange.Client for
// tests.
package exchangetest

import (
	"context"
	"fmt"
	"sync"

	"tradeguard/internal/exchange"
	"tradeguard/internal/types"

	"github.com/shopspring/decimal"
)

// Fake implements exchange.Client. Every method records a call tag and
// delegates to the matching Fn hook when one is set; unset hooks return zero
// values and no error. Safe for concurrent use.
type Fake struct {
	mu     sync.Mutex
	calls  []string
	orders []exchange.Order
	nextID int64

	PingFn             func(ctx context.Context) error
	SymbolFiltersFn    func(ctx context.Context, symbol string) (exchange.SymbolFilters, error)
	AvailableBalanceFn func(ctx context.Context) (decimal.Decimal, error)
	MarkPriceFn        func(ctx context.Context, symbol string) (decimal.Decimal, error)
	PositionsFn        func(ctx context.Context, symbol string) ([]exchange.Position, error)
	OpenOrdersFn       func(ctx context.Context, symbol string) ([]exchange.OpenOrder, error)
	CancelAllOrdersFn  func(ctx context.Context, symbol string) error
	MarginInfoFn       func(ctx context.Context, symbol string) (exchange.SymbolMargin, error)
	SetMarginModeFn    func(ctx context.Context, symbol string, mode types.MarginMode) error
	SetLeverageFn      func(ctx context.Context, symbol string, leverage int) error
	PlaceOrderFn       func(ctx context.Context, order exchange.Order) (exchange.OrderAck, error)
}

func New() *Fake {
	return &Fake{}
}

// Calls returns the recorded call tags in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns how many recorded calls have the given tag prefix.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// PlacedOrders returns every order passed to PlaceOrder.
func (f *Fake) PlacedOrders() []exchange.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.Order, len(f.orders))
	copy(out, f.orders)
	return out
}

func (f *Fake) record(tag string) {
	f.mu.Lock()
	f.calls = append(f.calls, tag)
	f.mu.Unlock()
}

func (f *Fake) Ping(ctx context.Context) error {
	f.record("ping")
	if f.PingFn != nil {
		return f.PingFn(ctx)
	}
	return nil
}

func (f *Fake) SymbolFilters(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
	f.record("filters:" + symbol)
	if f.SymbolFiltersFn != nil {
		return f.SymbolFiltersFn(ctx, symbol)
	}
	return exchange.SymbolFilters{Symbol: symbol}, nil
}

func (f *Fake) AvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	f.record("balance")
	if f.AvailableBalanceFn != nil {
		return f.AvailableBalanceFn(ctx)
	}
	return decimal.Zero, nil
}

func (f *Fake) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.record("mark:" + symbol)
	if f.MarkPriceFn != nil {
		return f.MarkPriceFn(ctx, symbol)
	}
	return decimal.Zero, nil
}

func (f *Fake) Positions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	f.record("positions:" + symbol)
	if f.PositionsFn != nil {
		return f.PositionsFn(ctx, symbol)
	}
	return nil, nil
}

func (f *Fake) OpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	f.record("openorders:" + symbol)
	if f.OpenOrdersFn != nil {
		return f.OpenOrdersFn(ctx, symbol)
	}
	return nil, nil
}

func (f *Fake) CancelAllOrders(ctx context.Context, symbol string) error {
	f.record("cancelall:" + symbol)
	if f.CancelAllOrdersFn != nil {
		return f.CancelAllOrdersFn(ctx, symbol)
	}
	return nil
}

func (f *Fake) MarginInfo(ctx context.Context, symbol string) (exchange.SymbolMargin, error) {
	f.record("margininfo:" + symbol)
	if f.MarginInfoFn != nil {
		return f.MarginInfoFn(ctx, symbol)
	}
	return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeCross, Leverage: 1}, nil
}

func (f *Fake) SetMarginMode(ctx context.Context, symbol string, mode types.MarginMode) error {
	f.record(fmt.Sprintf("setmargin:%s:%s", symbol, mode))
	if f.SetMarginModeFn != nil {
		return f.SetMarginModeFn(ctx, symbol, mode)
	}
	return nil
}

func (f *Fake) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	f.record(fmt.Sprintf("setleverage:%s:%d", symbol, leverage))
	if f.SetLeverageFn != nil {
		return f.SetLeverageFn(ctx, symbol, leverage)
	}
	return nil
}

func (f *Fake) PlaceOrder(ctx context.Context, order exchange.Order) (exchange.OrderAck, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "place:"+order.Symbol)
	f.orders = append(f.orders, order)
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	if f.PlaceOrderFn != nil {
		return f.PlaceOrderFn(ctx, order)
	}
	return exchange.OrderAck{OrderID: id, ClientOrderID: order.ClientOrderID, Symbol: order.Symbol, Status: "FILLED", ExecutedQty: order.Qty}, nil
}
