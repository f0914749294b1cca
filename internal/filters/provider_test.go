package filters

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tradeguard/internal/exchange"
	"tradeguard/internal/exchange/exchangetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func btcFilters() exchange.SymbolFilters {
	return exchange.SymbolFilters{
		Symbol:      "BTCUSDT",
		StepSize:    decimal.RequireFromString("0.001"),
		MinQty:      decimal.RequireFromString("0.001"),
		MinNotional: decimal.RequireFromString("5"),
		TickSize:    decimal.RequireFromString("0.1"),
	}
}

func TestGetCachesPerSymbol(t *testing.T) {
	fake := exchangetest.New()
	fake.SymbolFiltersFn = func(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
		return btcFilters(), nil
	}
	p := NewProvider(fake)

	first, err := p.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	second, err := p.Get(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.True(t, first.StepSize.Equal(second.StepSize))
	assert.Equal(t, 1, fake.CallCount("filters:BTCUSDT"))
}

func TestGetUnknownSymbolNotCached(t *testing.T) {
	fake := exchangetest.New()
	fake.SymbolFiltersFn = func(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
		return exchange.SymbolFilters{}, &exchange.APIError{Kind: exchange.KindSymbolNotFound, Msg: "symbol not listed"}
	}
	p := NewProvider(fake)

	_, err := p.Get(context.Background(), "NOPEUSDT")
	require.Error(t, err)
	assert.True(t, exchange.IsSymbolNotFound(err))

	// a failed fetch must not poison the cache
	_, err = p.Get(context.Background(), "NOPEUSDT")
	require.Error(t, err)
	assert.Equal(t, 2, fake.CallCount("filters:NOPEUSDT"))
}

func TestRefreshReplacesCachedValue(t *testing.T) {
	fake := exchangetest.New()
	step := decimal.RequireFromString("0.001")
	fake.SymbolFiltersFn = func(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
		return exchange.SymbolFilters{Symbol: symbol, StepSize: step}, nil
	}
	p := NewProvider(fake)

	before, err := p.Get(context.Background(), "ETHUSDT")
	require.NoError(t, err)

	step = decimal.RequireFromString("0.01")
	after, err := p.Refresh(context.Background(), "ETHUSDT")
	require.NoError(t, err)

	assert.False(t, before.StepSize.Equal(after.StepSize))

	cached, err := p.Get(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, cached.StepSize.Equal(after.StepSize))
}

func TestConcurrentGetFetchesOnce(t *testing.T) {
	fake := exchangetest.New()
	fake.SymbolFiltersFn = func(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
		return btcFilters(), nil
	}
	p := NewProvider(fake)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Get(context.Background(), "BTCUSDT")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fake.CallCount("filters:BTCUSDT"))
}

func TestTransportErrorSurfaced(t *testing.T) {
	fake := exchangetest.New()
	fake.SymbolFiltersFn = func(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
		return exchange.SymbolFilters{}, &exchange.APIError{Kind: exchange.KindTransport, Msg: "connection refused"}
	}
	p := NewProvider(fake)

	_, err := p.Get(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.True(t, exchange.IsTransport(err))
	assert.False(t, errors.Is(err, context.Canceled))
}
