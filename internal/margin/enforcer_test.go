package margin

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/exchange/exchangetest"
	"tradeguard/internal/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnforcer(fake *exchangetest.Fake) *Enforcer {
	return New(fake, Config{Retries: 3, Backoff: time.Millisecond}, zerolog.Nop())
}

func TestAlreadyDesiredIsNoop(t *testing.T) {
	fake := exchangetest.New()
	fake.MarginInfoFn = func(ctx context.Context, symbol string) (exchange.SymbolMargin, error) {
		return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeIsolated, Leverage: 10}, nil
	}
	e := newEnforcer(fake)

	require.NoError(t, e.Ensure(context.Background(), "BTCUSDT", types.MarginModeIsolated, 10))
	assert.Equal(t, 0, fake.CallCount("setmargin:"))
	assert.Equal(t, 0, fake.CallCount("setleverage:"))
}

func TestNoChangeNeededTreatedAsSuccess(t *testing.T) {
	fake := exchangetest.New()
	var reads int32
	fake.MarginInfoFn = func(ctx context.Context, symbol string) (exchange.SymbolMargin, error) {
		// stale on the first read, desired once the change settles
		if atomic.AddInt32(&reads, 1) == 1 {
			return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeCross, Leverage: 10}, nil
		}
		return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeIsolated, Leverage: 10}, nil
	}
	fake.SetMarginModeFn = func(ctx context.Context, symbol string, mode types.MarginMode) error {
		return &exchange.APIError{Kind: exchange.KindNoChangeNeeded, Code: -4046, Msg: "No need to change margin type."}
	}
	e := newEnforcer(fake)

	require.NoError(t, e.Ensure(context.Background(), "BTCUSDT", types.MarginModeIsolated, 10))
}

func TestOpenPositionBlocksModeChange(t *testing.T) {
	fake := exchangetest.New()
	fake.MarginInfoFn = func(ctx context.Context, symbol string) (exchange.SymbolMargin, error) {
		return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeCross, Leverage: 5}, nil
	}
	fake.PositionsFn = func(ctx context.Context, symbol string) ([]exchange.Position, error) {
		return []exchange.Position{{
			Symbol:       symbol,
			PositionSide: types.PositionSideLong,
			Amount:       decimal.RequireFromString("0.4"),
		}}, nil
	}
	e := newEnforcer(fake)

	err := e.Ensure(context.Background(), "BTCUSDT", types.MarginModeIsolated, 5)
	require.ErrorIs(t, err, ErrConflictingExposure)
	assert.Equal(t, 0, fake.CallCount("cancelall:"))
	assert.Equal(t, 0, fake.CallCount("setmargin:"))
}

func TestCancelsRestingOrdersBeforeModeChange(t *testing.T) {
	fake := exchangetest.New()
	var reads int32
	fake.MarginInfoFn = func(ctx context.Context, symbol string) (exchange.SymbolMargin, error) {
		if atomic.AddInt32(&reads, 1) == 1 {
			return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeCross, Leverage: 5}, nil
		}
		return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeIsolated, Leverage: 5}, nil
	}
	fake.OpenOrdersFn = func(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
		return []exchange.OpenOrder{{OrderID: 7, Symbol: symbol}}, nil
	}
	e := newEnforcer(fake)

	require.NoError(t, e.Ensure(context.Background(), "BTCUSDT", types.MarginModeIsolated, 5))
	assert.Equal(t, 1, fake.CallCount("cancelall:BTCUSDT"))

	calls := fake.Calls()
	cancelIdx, setIdx := -1, -1
	for i, c := range calls {
		switch c {
		case "cancelall:BTCUSDT":
			cancelIdx = i
		case "setmargin:BTCUSDT:ISOLATED":
			setIdx = i
		}
	}
	require.NotEqual(t, -1, cancelIdx)
	require.NotEqual(t, -1, setIdx)
	assert.Less(t, cancelIdx, setIdx)
}

func TestRetriesUntilVerified(t *testing.T) {
	fake := exchangetest.New()
	var reads int32
	fake.MarginInfoFn = func(ctx context.Context, symbol string) (exchange.SymbolMargin, error) {
		// initial read plus two stale verify reads before the change lands
		if atomic.AddInt32(&reads, 1) <= 3 {
			return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeCross, Leverage: 5}, nil
		}
		return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeIsolated, Leverage: 5}, nil
	}
	e := newEnforcer(fake)

	require.NoError(t, e.Ensure(context.Background(), "BTCUSDT", types.MarginModeIsolated, 5))
	assert.Equal(t, 3, fake.CallCount("setmargin:BTCUSDT:ISOLATED"))
}

func TestVerifyExhaustionFails(t *testing.T) {
	fake := exchangetest.New()
	fake.MarginInfoFn = func(ctx context.Context, symbol string) (exchange.SymbolMargin, error) {
		return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeCross, Leverage: 5}, nil
	}
	e := newEnforcer(fake)

	err := e.Ensure(context.Background(), "BTCUSDT", types.MarginModeIsolated, 5)
	require.ErrorIs(t, err, ErrVerifyFailed)
}

func TestPositionConflictDuringSetAborts(t *testing.T) {
	fake := exchangetest.New()
	fake.MarginInfoFn = func(ctx context.Context, symbol string) (exchange.SymbolMargin, error) {
		return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeCross, Leverage: 5}, nil
	}
	fake.SetMarginModeFn = func(ctx context.Context, symbol string, mode types.MarginMode) error {
		return &exchange.APIError{Kind: exchange.KindPositionConflict, Code: -4048, Msg: "Margin type cannot be changed if there exists position."}
	}
	e := newEnforcer(fake)

	err := e.Ensure(context.Background(), "BTCUSDT", types.MarginModeIsolated, 5)
	require.ErrorIs(t, err, ErrConflictingExposure)
	assert.Equal(t, 1, fake.CallCount("setmargin:"))
}

func TestLeverageFailureIsNonFatal(t *testing.T) {
	fake := exchangetest.New()
	fake.MarginInfoFn = func(ctx context.Context, symbol string) (exchange.SymbolMargin, error) {
		return exchange.SymbolMargin{Symbol: symbol, Mode: types.MarginModeIsolated, Leverage: 5}, nil
	}
	fake.SetLeverageFn = func(ctx context.Context, symbol string, leverage int) error {
		return errors.New("leverage not valid")
	}
	e := newEnforcer(fake)

	require.NoError(t, e.Ensure(context.Background(), "BTCUSDT", types.MarginModeIsolated, 20))
	assert.Equal(t, 1, fake.CallCount("setleverage:BTCUSDT:20"))
}

func TestReadStateErrorSurfaced(t *testing.T) {
	fake := exchangetest.New()
	fake.MarginInfoFn = func(ctx context.Context, symbol string) (exchange.SymbolMargin, error) {
		return exchange.SymbolMargin{}, &exchange.APIError{Kind: exchange.KindTransport, Msg: "timeout"}
	}
	e := newEnforcer(fake)

	err := e.Ensure(context.Background(), "BTCUSDT", types.MarginModeIsolated, 5)
	require.Error(t, err)
	assert.True(t, exchange.IsTransport(err))
}
