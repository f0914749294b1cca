// Package filters caches per-symbol trading constraints fetched from
// exchange metadata.
package filters

import (
	"context"
	"sync"

	"tradeguard/internal/exchange"
)

// Provider serves SymbolFilters from a per-symbol cache. Filters are fetched
// once per process lifetime unless a caller forces a refresh. Population
// locking is per symbol so one symbol's metadata fetch never blocks readers
// of another symbol.
type Provider struct {
	client exchange.Client

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu      sync.Mutex
	loaded  bool
	filters exchange.SymbolFilters
}

func NewProvider(client exchange.Client) *Provider {
	return &Provider{client: client, entries: make(map[string]*entry)}
}

// Get returns the cached filters for symbol, fetching them on first use.
func (p *Provider) Get(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
	e := p.entry(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.filters, nil
	}
	filters, err := p.client.SymbolFilters(ctx, symbol)
	if err != nil {
		return exchange.SymbolFilters{}, err
	}
	e.filters = filters
	e.loaded = true
	return filters, nil
}

// Refresh discards the cached filters for symbol and fetches them again.
func (p *Provider) Refresh(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
	e := p.entry(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	filters, err := p.client.SymbolFilters(ctx, symbol)
	if err != nil {
		return exchange.SymbolFilters{}, err
	}
	e.filters = filters
	e.loaded = true
	return filters, nil
}

func (p *Provider) entry(symbol string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[symbol]
	if !ok {
		e = &entry{}
		p.entries[symbol] = e
	}
	return e
}
