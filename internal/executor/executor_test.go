package executor

import (
	"context"
	"strings"
	"testing"

	"tradeguard/internal/exchange"
	"tradeguard/internal/exchange/exchangetest"
	"tradeguard/internal/filters"
	"tradeguard/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func withFilters(fake *exchangetest.Fake) {
	fake.SymbolFiltersFn = func(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
		return exchange.SymbolFilters{
			Symbol:      symbol,
			StepSize:    d("0.001"),
			MinQty:      d("0.001"),
			MinNotional: d("5"),
			TickSize:    d("0.1"),
		}, nil
	}
}

func newExecutor(fake *exchangetest.Fake, hedge bool) *Executor {
	return New(fake, filters.NewProvider(fake), Config{HedgeMode: hedge}, zerolog.Nop())
}

func longLeg(symbol, amount string) exchange.Position {
	return exchange.Position{
		Symbol:       symbol,
		PositionSide: types.PositionSideLong,
		Amount:       d(amount),
	}
}

func shortLeg(symbol, amount string) exchange.Position {
	return exchange.Position{
		Symbol:       symbol,
		PositionSide: types.PositionSideShort,
		Amount:       d(amount),
	}
}

func TestPlaceHedgeModeInfersPositionSide(t *testing.T) {
	fake := exchangetest.New()
	e := newExecutor(fake, true)

	_, err := e.Place(context.Background(), PlaceRequest{Symbol: "BTCUSDT", Side: types.SideSell, Quantity: d("0.01")})
	require.NoError(t, err)

	orders := fake.PlacedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, types.PositionSideShort, orders[0].PositionSide)
	assert.Equal(t, types.OrderTypeMarket, orders[0].Type)
	assert.False(t, orders[0].ReduceOnly)
	assert.True(t, strings.HasPrefix(orders[0].ClientOrderID, "tg-"))
}

func TestPlaceOneWayMode(t *testing.T) {
	fake := exchangetest.New()
	e := newExecutor(fake, false)

	_, err := e.Place(context.Background(), PlaceRequest{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: d("0.01")})
	require.NoError(t, err)

	orders := fake.PlacedOrders()
	require.Len(t, orders, 1)
	assert.Empty(t, orders[0].PositionSide)
	assert.False(t, orders[0].ReduceOnly)
}

func TestPlaceExplicitPositionSideOverridesInference(t *testing.T) {
	fake := exchangetest.New()
	e := newExecutor(fake, true)

	// a sell against the long leg, not the inferred short
	_, err := e.Place(context.Background(), PlaceRequest{
		Symbol:       "BTCUSDT",
		Side:         types.SideSell,
		Quantity:     d("0.01"),
		PositionSide: types.PositionSideLong,
	})
	require.NoError(t, err)

	orders := fake.PlacedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, types.PositionSideLong, orders[0].PositionSide)
}

func TestPlaceReduceOnlyInOneWayMode(t *testing.T) {
	fake := exchangetest.New()
	e := newExecutor(fake, false)

	_, err := e.Place(context.Background(), PlaceRequest{
		Symbol:     "BTCUSDT",
		Side:       types.SideSell,
		Quantity:   d("0.01"),
		ReduceOnly: true,
	})
	require.NoError(t, err)

	orders := fake.PlacedOrders()
	require.Len(t, orders, 1)
	assert.True(t, orders[0].ReduceOnly)
	assert.Empty(t, orders[0].PositionSide)
}

func TestPlaceRejectsNonPositiveQuantity(t *testing.T) {
	fake := exchangetest.New()
	e := newExecutor(fake, false)

	_, err := e.Place(context.Background(), PlaceRequest{Symbol: "BTCUSDT", Side: types.SideBuy, Quantity: decimal.Zero})
	require.Error(t, err)
	assert.Empty(t, fake.PlacedOrders())
}

func TestCloseSymbolCancelsOrdersFirst(t *testing.T) {
	fake := exchangetest.New()
	withFilters(fake)
	fake.PositionsFn = func(ctx context.Context, symbol string) ([]exchange.Position, error) {
		return []exchange.Position{longLeg(symbol, "0.05")}, nil
	}
	e := newExecutor(fake, false)

	report, err := e.CloseSymbol(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Legs, 1)

	calls := fake.Calls()
	cancelIdx, placeIdx := -1, -1
	for i, c := range calls {
		switch c {
		case "cancelall:BTCUSDT":
			cancelIdx = i
		case "place:BTCUSDT":
			placeIdx = i
		}
	}
	require.NotEqual(t, -1, cancelIdx)
	require.NotEqual(t, -1, placeIdx)
	assert.Less(t, cancelIdx, placeIdx)

	orders := fake.PlacedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, types.SideSell, orders[0].Side)
	assert.True(t, orders[0].ReduceOnly)
}

func TestCloseQuantityRoundsUpToStep(t *testing.T) {
	fake := exchangetest.New()
	withFilters(fake)
	fake.PositionsFn = func(ctx context.Context, symbol string) ([]exchange.Position, error) {
		return []exchange.Position{longLeg(symbol, "0.0505")}, nil
	}
	e := newExecutor(fake, false)

	report, err := e.CloseSymbol(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, report.Legs, 1)
	assert.True(t, report.Legs[0].Quantity.Equal(d("0.051")), "got %s", report.Legs[0].Quantity)
}

func TestCloseHedgeLegTargetsLegSide(t *testing.T) {
	fake := exchangetest.New()
	withFilters(fake)
	fake.PositionsFn = func(ctx context.Context, symbol string) ([]exchange.Position, error) {
		return []exchange.Position{shortLeg(symbol, "-1")}, nil
	}
	e := newExecutor(fake, true)

	report, err := e.CloseSymbol(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NoError(t, report.Err())

	orders := fake.PlacedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, types.SideBuy, orders[0].Side)
	assert.Equal(t, types.PositionSideShort, orders[0].PositionSide)
	assert.False(t, orders[0].ReduceOnly)
	assert.True(t, orders[0].Qty.Equal(d("1")))
}

func TestReduceOnlyRejectionFallsBackToLimitIOC(t *testing.T) {
	fake := exchangetest.New()
	withFilters(fake)
	fake.PositionsFn = func(ctx context.Context, symbol string) ([]exchange.Position, error) {
		return []exchange.Position{longLeg(symbol, "0.05")}, nil
	}
	fake.MarkPriceFn = func(ctx context.Context, symbol string) (decimal.Decimal, error) {
		return d("100"), nil
	}
	fake.PlaceOrderFn = func(ctx context.Context, order exchange.Order) (exchange.OrderAck, error) {
		if order.Type == types.OrderTypeMarket {
			return exchange.OrderAck{}, &exchange.APIError{
				Kind: exchange.KindReduceOnlyRejected, Code: -2022, Msg: "ReduceOnly Order is rejected.",
			}
		}
		return exchange.OrderAck{OrderID: 42, Symbol: order.Symbol, Status: "FILLED", ExecutedQty: order.Qty}, nil
	}
	e := newExecutor(fake, false)

	report, err := e.CloseSymbol(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Legs, 1)
	assert.True(t, report.Legs[0].LimitFallback)
	assert.Equal(t, int64(42), report.Legs[0].OrderID)

	orders := fake.PlacedOrders()
	require.Len(t, orders, 2)
	limit := orders[1]
	assert.Equal(t, types.OrderTypeLimit, limit.Type)
	assert.Equal(t, types.TimeInForceIOC, limit.TimeInForce)
	// sell fallback bids half a percent under the mark, snapped to the tick
	assert.True(t, limit.Price.Equal(d("99.5")), "got %s", limit.Price)
}

func TestCloseSymbolWithNoPosition(t *testing.T) {
	fake := exchangetest.New()
	e := newExecutor(fake, false)

	_, err := e.CloseSymbol(context.Background(), "BTCUSDT")
	require.ErrorIs(t, err, ErrNothingToClose)
}

func TestCloseAllAggregatesPerSymbol(t *testing.T) {
	fake := exchangetest.New()
	withFilters(fake)
	fake.PositionsFn = func(ctx context.Context, symbol string) ([]exchange.Position, error) {
		return []exchange.Position{
			longLeg("ETHUSDT", "2"),
			shortLeg("BTCUSDT", "-0.05"),
			longLeg("SOLUSDT", "0"),
		}, nil
	}
	fake.PlaceOrderFn = func(ctx context.Context, order exchange.Order) (exchange.OrderAck, error) {
		if order.Symbol == "ETHUSDT" {
			return exchange.OrderAck{}, &exchange.APIError{Kind: exchange.KindRejected, Msg: "insufficient margin"}
		}
		return exchange.OrderAck{OrderID: 1, Symbol: order.Symbol, Status: "FILLED", ExecutedQty: order.Qty}, nil
	}
	e := newExecutor(fake, false)

	reports, err := e.CloseAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	// one symbol failing must not stop the other
	assert.Equal(t, "BTCUSDT", reports[0].Symbol)
	require.NoError(t, reports[0].Err())
	assert.Equal(t, "ETHUSDT", reports[1].Symbol)
	require.Error(t, reports[1].Err())

	assert.Equal(t, 1, fake.CallCount("cancelall:BTCUSDT"))
	assert.Equal(t, 1, fake.CallCount("cancelall:ETHUSDT"))
	assert.Equal(t, 0, fake.CallCount("cancelall:SOLUSDT"))
}
