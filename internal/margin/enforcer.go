// Package margin drives a symbol's margin mode and leverage to a desired
// state before any order is placed on it.
package margin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/types"

	"github.com/rs/zerolog"
)

var (
	// ErrConflictingExposure means the margin mode cannot change while a live
	// position holds the symbol.
	ErrConflictingExposure = errors.New("margin: open position blocks margin mode change")
	// ErrVerifyFailed means the exchange accepted the change but never
	// reported the desired mode back within the retry budget.
	ErrVerifyFailed = errors.New("margin: mode change not reflected by exchange")
)

// Config bounds the set-and-verify loop.
type Config struct {
	Retries int
	Backoff time.Duration
}

// Enforcer ensures a symbol's margin mode and leverage. Mode failures are
// fatal for the caller's open attempt; leverage failures are logged and
// tolerated because the exchange falls back to the previously set value.
type Enforcer struct {
	client exchange.Client
	log    zerolog.Logger
	cfg    Config
}

func New(client exchange.Client, cfg Config, log zerolog.Logger) *Enforcer {
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	return &Enforcer{client: client, log: log, cfg: cfg}
}

// Ensure drives the symbol to the desired mode and leverage. A nil error
// guarantees the margin mode is the desired one; leverage is best effort.
func (e *Enforcer) Ensure(ctx context.Context, symbol string, mode types.MarginMode, leverage int) error {
	info, err := e.client.MarginInfo(ctx, symbol)
	if err != nil {
		return fmt.Errorf("margin: read state for %s: %w", symbol, err)
	}

	if info.Mode != mode {
		if err := e.ensureMode(ctx, symbol, mode); err != nil {
			return err
		}
	}

	if leverage > 0 && info.Leverage != leverage {
		if err := e.client.SetLeverage(ctx, symbol, leverage); err != nil && !exchange.IsNoChangeNeeded(err) {
			e.log.Warn().Err(err).Str("symbol", symbol).Int("leverage", leverage).
				Msg("leverage change failed, keeping exchange value")
		}
	}
	return nil
}

func (e *Enforcer) ensureMode(ctx context.Context, symbol string, mode types.MarginMode) error {
	// A live position pins the margin mode on the exchange side; fail fast
	// instead of burning the retry budget on guaranteed rejections.
	positions, err := e.client.Positions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("margin: check exposure for %s: %w", symbol, err)
	}
	for _, pos := range positions {
		if !pos.Flat() {
			return fmt.Errorf("%w: %s", ErrConflictingExposure, symbol)
		}
	}

	// Resting orders also block the change, but those are safe to cancel
	// here: the caller is about to re-place anyway.
	orders, err := e.client.OpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("margin: list open orders for %s: %w", symbol, err)
	}
	if len(orders) > 0 {
		e.log.Info().Str("symbol", symbol).Int("orders", len(orders)).
			Msg("cancelling resting orders before margin mode change")
		if err := e.client.CancelAllOrders(ctx, symbol); err != nil {
			return fmt.Errorf("margin: cancel orders for %s: %w", symbol, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < e.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.cfg.Backoff * time.Duration(attempt)):
			}
		}

		err := e.client.SetMarginMode(ctx, symbol, mode)
		switch {
		case err == nil, exchange.IsNoChangeNeeded(err):
		case exchange.IsPositionConflict(err):
			return fmt.Errorf("%w: %s", ErrConflictingExposure, symbol)
		default:
			lastErr = err
			e.log.Warn().Err(err).Str("symbol", symbol).Str("mode", string(mode)).
				Int("attempt", attempt+1).Msg("margin mode change rejected")
			continue
		}

		info, err := e.client.MarginInfo(ctx, symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if info.Mode == mode {
			return nil
		}
		lastErr = fmt.Errorf("exchange reports %s", info.Mode)
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrVerifyFailed, symbol, lastErr)
	}
	return fmt.Errorf("%w: %s", ErrVerifyFailed, symbol)
}
