// Package guard serializes open attempts across concurrently running signal
// loops. It owns three tables: the ledger of confirmed-open
// (symbol, interval, side) legs, per-(symbol, interval) active side counts,
// and per-(symbol, side) pending attempts. All three are mutated only under
// the guard's lock.
package guard

import (
	"context"
	"sync"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/types"

	"github.com/rs/zerolog"
)

// Key identifies one leg a signal loop may hold open.
type Key struct {
	Symbol   string
	Interval string
	Side     types.Side
}

// Job is a configured (symbol, interval) signal source, used by Reconcile to
// reseed the ledger from live exchange state.
type Job struct {
	Symbol   string
	Interval string
}

type pairKey struct {
	Symbol   string
	Interval string
}

type sideCount struct {
	Buy  int
	Sell int
}

func (c sideCount) get(side types.Side) int {
	if side == types.SideBuy {
		return c.Buy
	}
	return c.Sell
}

func (c sideCount) zero() bool { return c.Buy == 0 && c.Sell == 0 }

type attemptKey struct {
	Symbol string
	Side   types.Side
}

type attempt struct {
	at       time.Time
	interval string
	ttl      time.Duration
}

// Config tunes the guard's conflict policy.
type Config struct {
	// LedgerTTL expires ledger entries to tolerate external closes the guard
	// was never told about; 0 means entries never expire.
	LedgerTTL time.Duration
	// PendingTTL bounds how long a stuck reservation can block a slot; tuned
	// to the typical order round-trip time.
	PendingTTL time.Duration
	// StrictSymbolSide blocks a side for a symbol across all intervals, not
	// just the requesting one (no cross-interval pyramiding).
	StrictSymbolSide bool
	// DefensiveCheck asks the exchange for an opposing live position before
	// granting an open. Degrades to permit on transport errors.
	DefensiveCheck bool
}

// Guard converts near-simultaneous open signals into exactly one attempt per
// (symbol, side). The exchange client is only used for the defensive check
// in CanOpen and may be nil.
type Guard struct {
	client exchange.Client
	log    zerolog.Logger
	cfg    Config

	mu      sync.Mutex
	ledger  map[Key]time.Time
	active  map[pairKey]sideCount
	pending map[attemptKey]attempt

	now func() time.Time
}

func New(client exchange.Client, cfg Config, log zerolog.Logger) *Guard {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Second
	}
	return &Guard{
		client:  client,
		log:     log,
		cfg:     cfg,
		ledger:  make(map[Key]time.Time),
		active:  make(map[pairKey]sideCount),
		pending: make(map[attemptKey]attempt),
		now:     time.Now,
	}
}

// CanOpen reports whether an open attempt for the key may proceed and, when
// it may, reserves the (symbol, side) pending slot. The caller must conclude
// the attempt with EndOpen.
func (g *Guard) CanOpen(ctx context.Context, symbol, interval string, side types.Side) bool {
	g.mu.Lock()
	if !g.permitted(symbol, interval, side) {
		g.mu.Unlock()
		return false
	}
	g.mu.Unlock()

	// The live-exchange check runs outside the lock so a slow fetch cannot
	// stall unrelated symbols. State is re-verified before reserving.
	if g.cfg.DefensiveCheck && g.client != nil {
		if blocked := g.opposingLive(ctx, symbol, interval, side); blocked {
			return false
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.permitted(symbol, interval, side) {
		return false
	}
	g.pending[attemptKey{symbol, side}] = attempt{at: g.now(), interval: interval, ttl: g.cfg.PendingTTL}
	return true
}

// permitted runs the local conflict checks. Caller holds the lock.
func (g *Guard) permitted(symbol, interval string, side types.Side) bool {
	now := g.now()
	g.purgeLocked(now)

	if g.active[pairKey{symbol, interval}].get(side.Opposite()) > 0 {
		return false
	}
	if _, open := g.ledger[Key{symbol, interval, side}]; open {
		return false
	}
	if _, busy := g.pending[attemptKey{symbol, types.SideBuy}]; busy {
		return false
	}
	if _, busy := g.pending[attemptKey{symbol, types.SideSell}]; busy {
		return false
	}
	if g.cfg.StrictSymbolSide {
		for key := range g.ledger {
			if key.Symbol == symbol && key.Side == side {
				return false
			}
		}
	}
	return true
}

// opposingLive asks the exchange whether the opposite side is already open.
// Transport errors permit: when the guard cannot reach the exchange the real
// safety check is deferred to the exchange's own order rejection.
func (g *Guard) opposingLive(ctx context.Context, symbol, interval string, side types.Side) bool {
	positions, err := g.client.Positions(ctx, symbol)
	if err != nil {
		g.log.Warn().Err(err).Str("symbol", symbol).Msg("defensive position check failed, permitting open")
		return false
	}
	for _, pos := range positions {
		if pos.Flat() || pos.Direction() != side.Opposite() {
			continue
		}
		// book the discovered leg through the ledger so a close notification
		// or TTL expiry can release it
		g.mu.Lock()
		g.markOpenedLocked(symbol, interval, side.Opposite())
		g.mu.Unlock()
		g.log.Info().Str("symbol", symbol).Str("interval", interval).Str("side", string(side)).
			Msg("opposing live position found on exchange, open denied")
		return true
	}
	return false
}

// BeginOpen reserves the (symbol, side) pending slot for ttl without running
// the conflict checks. It is the lower-level primitive behind CanOpen for
// call sites that coalesce on reservation alone.
func (g *Guard) BeginOpen(symbol, interval string, side types.Side, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = g.cfg.PendingTTL
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.purgeLocked(g.now())
	key := attemptKey{symbol, side}
	if _, busy := g.pending[key]; busy {
		return false
	}
	g.pending[key] = attempt{at: g.now(), interval: interval, ttl: ttl}
	return true
}

// EndOpen releases the pending reservation; on success it promotes the
// reservation into a ledger entry and bumps the active count.
func (g *Guard) EndOpen(symbol, interval string, side types.Side, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, attemptKey{symbol, side})
	if success {
		g.markOpenedLocked(symbol, interval, side)
	}
}

// MarkOpened records a confirmed open observed out-of-band (for example a
// trade-update push).
func (g *Guard) MarkOpened(symbol, interval string, side types.Side) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markOpenedLocked(symbol, interval, side)
}

func (g *Guard) markOpenedLocked(symbol, interval string, side types.Side) {
	key := Key{symbol, interval, side}
	if _, open := g.ledger[key]; !open {
		pk := pairKey{symbol, interval}
		g.active[pk] = inc(g.active[pk], side)
	}
	g.ledger[key] = g.now()
}

// MarkClosed removes the leg from the ledger and decrements the active
// count. Unknown keys are a no-op.
func (g *Guard) MarkClosed(symbol, interval string, side types.Side) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markClosedLocked(Key{symbol, interval, side})
}

func (g *Guard) markClosedLocked(key Key) {
	if _, open := g.ledger[key]; !open {
		return
	}
	delete(g.ledger, key)
	pk := pairKey{key.Symbol, key.Interval}
	counts := dec(g.active[pk], key.Side)
	if counts.zero() {
		delete(g.active, pk)
	} else {
		g.active[pk] = counts
	}
}

// Reconcile reseeds the ledger from live exchange state: every live position
// re-stamps a ledger entry for each configured job on that symbol, using the
// position's side.
func (g *Guard) Reconcile(positions []exchange.Position, jobs []Job) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, pos := range positions {
		if pos.Flat() {
			continue
		}
		side := pos.Direction()
		for _, job := range jobs {
			if job.Symbol != pos.Symbol {
				continue
			}
			g.markOpenedLocked(job.Symbol, job.Interval, side)
		}
	}
}

// Open reports whether the exact leg is currently in the ledger.
func (g *Guard) Open(symbol, interval string, side types.Side) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.purgeLocked(g.now())
	_, open := g.ledger[Key{symbol, interval, side}]
	return open
}

// OpenKeys returns a snapshot of the ledger keys.
func (g *Guard) OpenKeys() []Key {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.purgeLocked(g.now())
	out := make([]Key, 0, len(g.ledger))
	for key := range g.ledger {
		out = append(out, key)
	}
	return out
}

// purgeLocked lazily expires ledger entries and pending attempts. TTL expiry
// happens here, at the top of every state-reading call, so the guard has no
// second source of concurrent mutation.
func (g *Guard) purgeLocked(now time.Time) {
	if g.cfg.LedgerTTL > 0 {
		for key, at := range g.ledger {
			if now.Sub(at) >= g.cfg.LedgerTTL {
				g.markClosedLocked(key)
			}
		}
	}
	for key, a := range g.pending {
		if now.Sub(a.at) >= a.ttl {
			delete(g.pending, key)
		}
	}
}

func inc(c sideCount, side types.Side) sideCount {
	if side == types.SideBuy {
		c.Buy++
	} else {
		c.Sell++
	}
	return c
}

func dec(c sideCount, side types.Side) sideCount {
	if side == types.SideBuy && c.Buy > 0 {
		c.Buy--
	} else if side == types.SideSell && c.Sell > 0 {
		c.Sell--
	}
	return c
}
