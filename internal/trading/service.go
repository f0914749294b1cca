// Package trading is the facade the signal loops and the control API talk
// to. It runs every open attempt through the same gauntlet: duplicate guard,
// margin state, sizing, then order placement, and publishes the outcome.
package trading

import (
	"context"
	"fmt"

	"tradeguard/internal/events"
	"tradeguard/internal/exchange"
	"tradeguard/internal/executor"
	"tradeguard/internal/filters"
	"tradeguard/internal/guard"
	"tradeguard/internal/journal"
	"tradeguard/internal/margin"
	"tradeguard/internal/metrics"
	"tradeguard/internal/sizing"
	"tradeguard/internal/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Disposition classifies how an open attempt ended.
type Disposition string

const (
	DispositionOpened          Disposition = "opened"
	DispositionDuplicate       Disposition = "duplicate"
	DispositionMarginFailed    Disposition = "margin_failed"
	DispositionSizingRejected  Disposition = "sizing_rejected"
	DispositionOrderFailed     Disposition = "order_failed"
	DispositionDataUnavailable Disposition = "data_unavailable"
)

// OpenRequest is one open signal. Quantity takes precedence over Percent
// when both are set, mirroring the sizer.
type OpenRequest struct {
	Symbol     string
	Interval   string
	Side       types.Side
	Quantity   decimal.Decimal
	Percent    decimal.Decimal
	Leverage   int
	MarginMode types.MarginMode
	Policy     sizing.Policy
}

// OpenResult reports the attempt's disposition. Sizing is populated whenever
// the sizer ran, including on rejection, so callers can surface
// RequiredPercent.
type OpenResult struct {
	Disposition Disposition
	Sizing      sizing.Result
	Ack         exchange.OrderAck
}

func (r OpenResult) Opened() bool { return r.Disposition == DispositionOpened }

// Deps carries the wired components, in the style of a router deps struct.
// Bus, Journal and Metrics may be nil; New substitutes inert defaults.
type Deps struct {
	Client   exchange.Client
	Filters  *filters.Provider
	Sizer    *sizing.Sizer
	Guard    *guard.Guard
	Margin   *margin.Enforcer
	Executor *executor.Executor
	Bus      *events.Bus
	Journal  journal.Recorder
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.Journal == nil {
		deps.Journal = journal.NewDisabled()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(prometheus.NewRegistry())
	}
	return &Service{deps: deps}
}

// AttemptOpen runs one open signal end to end. A denial is a normal outcome
// and comes back with a nil error; the error is reserved for failures of the
// attempt itself.
func (s *Service) AttemptOpen(ctx context.Context, req OpenRequest) (OpenResult, error) {
	d := s.deps
	d.Metrics.OpensAttempted.Inc()

	if !d.Guard.CanOpen(ctx, req.Symbol, req.Interval, req.Side) {
		d.Log.Info().Str("symbol", req.Symbol).Str("interval", req.Interval).
			Str("side", string(req.Side)).Msg("open denied by duplicate guard")
		res := OpenResult{Disposition: DispositionDuplicate}
		s.concludeRejected(ctx, req, res, "duplicate")
		return res, nil
	}

	res, err := s.openReserved(ctx, req)
	d.Guard.EndOpen(req.Symbol, req.Interval, req.Side, res.Opened())
	return res, err
}

// openReserved runs the attempt while the guard's pending slot is held.
func (s *Service) openReserved(ctx context.Context, req OpenRequest) (OpenResult, error) {
	d := s.deps

	if err := d.Margin.Ensure(ctx, req.Symbol, req.MarginMode, req.Leverage); err != nil {
		res := OpenResult{Disposition: DispositionMarginFailed}
		s.concludeRejected(ctx, req, res, "margin_failed")
		return res, fmt.Errorf("trading: margin for %s: %w", req.Symbol, err)
	}

	f, err := d.Filters.Get(ctx, req.Symbol)
	if err != nil {
		res := OpenResult{Disposition: DispositionDataUnavailable}
		s.concludeRejected(ctx, req, res, "filters_unavailable")
		return res, fmt.Errorf("trading: filters for %s: %w", req.Symbol, err)
	}
	price, err := d.Client.MarkPrice(ctx, req.Symbol)
	if err != nil {
		res := OpenResult{Disposition: DispositionDataUnavailable}
		s.concludeRejected(ctx, req, res, "price_unavailable")
		return res, fmt.Errorf("trading: mark price for %s: %w", req.Symbol, err)
	}
	balance, err := d.Client.AvailableBalance(ctx)
	if err != nil {
		res := OpenResult{Disposition: DispositionDataUnavailable}
		s.concludeRejected(ctx, req, res, "balance_unavailable")
		return res, fmt.Errorf("trading: balance: %w", err)
	}

	sized := d.Sizer.Size(sizing.Request{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Qty:        req.Quantity,
		Percent:    req.Percent,
		Leverage:   req.Leverage,
		Price:      price,
		MarginMode: req.MarginMode,
		Policy:     req.Policy,
	}, f, balance)
	if !sized.OK {
		d.Metrics.SizingRejections.WithLabelValues(string(sized.Reason)).Inc()
		d.Log.Info().Str("symbol", req.Symbol).Str("reason", string(sized.Reason)).
			Str("required_percent", sized.RequiredPercent.String()).Msg("open rejected by sizer")
		res := OpenResult{Disposition: DispositionSizingRejected, Sizing: sized}
		s.concludeRejected(ctx, req, res, string(sized.Reason))
		return res, nil
	}

	ack, err := d.Executor.Place(ctx, executor.PlaceRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: sized.Quantity,
	})
	if err != nil {
		d.Metrics.OrdersFailed.Inc()
		res := OpenResult{Disposition: DispositionOrderFailed, Sizing: sized}
		s.concludeRejected(ctx, req, res, "order_failed")
		return res, err
	}

	d.Metrics.OpensGranted.Inc()
	d.Metrics.OrdersPlaced.Inc()
	res := OpenResult{Disposition: DispositionOpened, Sizing: sized, Ack: ack}
	s.record(ctx, journal.Entry{
		Kind:     journal.KindOpened,
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Side:     string(req.Side),
		Quantity: sized.Quantity,
		Notional: sized.Notional,
		Price:    price,
		Mode:     string(sized.Mode),
		OrderID:  ack.OrderID,
	})
	d.Bus.Publish(events.Event{Type: events.TypeOrderOpened, Data: map[string]any{
		"symbol":   req.Symbol,
		"interval": req.Interval,
		"side":     req.Side,
		"quantity": sized.Quantity,
		"mode":     sized.Mode,
		"order_id": ack.OrderID,
	}})
	return res, nil
}

func (s *Service) concludeRejected(ctx context.Context, req OpenRequest, res OpenResult, reason string) {
	d := s.deps
	d.Metrics.OpensDenied.WithLabelValues(reason).Inc()
	s.record(ctx, journal.Entry{
		Kind:     journal.KindRejected,
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Side:     string(req.Side),
		Reason:   reason,
		Detail:   res.Sizing.RequiredPercent.String(),
	})
	d.Bus.Publish(events.Event{Type: events.TypeOrderRejected, Data: map[string]any{
		"symbol":           req.Symbol,
		"interval":         req.Interval,
		"side":             req.Side,
		"reason":           reason,
		"required_percent": res.Sizing.RequiredPercent,
	}})
}

// NotifyExternalClose tells the guard a leg was closed outside the bot, for
// example manually on the exchange UI or by the user-data stream.
func (s *Service) NotifyExternalClose(ctx context.Context, symbol, interval string, side types.Side) {
	s.deps.Guard.MarkClosed(symbol, interval, side)
	s.record(ctx, journal.Entry{
		Kind:     journal.KindClosed,
		Symbol:   symbol,
		Interval: interval,
		Side:     string(side),
		Detail:   "external",
	})
	s.deps.Bus.Publish(events.Event{Type: events.TypeSymbolClosed, Data: map[string]any{
		"symbol":   symbol,
		"interval": interval,
		"side":     side,
		"external": true,
	}})
}

// CloseSymbol flattens one symbol and releases its guard slots.
func (s *Service) CloseSymbol(ctx context.Context, symbol string) (executor.CloseReport, error) {
	report, err := s.deps.Executor.CloseSymbol(ctx, symbol)
	if err != nil {
		return report, err
	}
	s.settleReport(ctx, report)
	return report, nil
}

// CloseAll flattens every live position and releases the matching guard
// slots. Per-symbol failures are inside the reports, not the error.
func (s *Service) CloseAll(ctx context.Context) ([]executor.CloseReport, error) {
	reports, err := s.deps.Executor.CloseAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, report := range reports {
		s.settleReport(ctx, report)
	}
	return reports, nil
}

func (s *Service) settleReport(ctx context.Context, report executor.CloseReport) {
	d := s.deps
	for _, leg := range report.Legs {
		if leg.Err != nil {
			continue
		}
		d.Metrics.LegsClosed.Inc()
		if leg.LimitFallback {
			d.Metrics.CloseFallbacks.Inc()
		}
		s.record(ctx, journal.Entry{
			Kind:     journal.KindClosed,
			Symbol:   report.Symbol,
			Side:     string(leg.PositionSide),
			Quantity: leg.Quantity,
			OrderID:  leg.OrderID,
		})
		s.releaseLeg(report.Symbol, leg.PositionSide)
	}
	d.Bus.Publish(events.Event{Type: events.TypeSymbolClosed, Data: map[string]any{
		"symbol": report.Symbol,
		"legs":   len(report.Legs),
	}})
}

// releaseLeg frees the guard slots matching one flattened leg. A one-way
// close flattens the whole symbol, so it releases both sides.
func (s *Service) releaseLeg(symbol string, ps types.PositionSide) {
	for _, key := range s.deps.Guard.OpenKeys() {
		if key.Symbol != symbol {
			continue
		}
		if ps == types.PositionSideLong && key.Side != types.SideBuy {
			continue
		}
		if ps == types.PositionSideShort && key.Side != types.SideSell {
			continue
		}
		s.deps.Guard.MarkClosed(key.Symbol, key.Interval, key.Side)
	}
}

// Reconcile reseeds the guard from live exchange state. Transient fetch
// errors are logged and swallowed so a flaky exchange cannot block startup.
func (s *Service) Reconcile(ctx context.Context, jobs []guard.Job) {
	d := s.deps
	positions, err := d.Client.Positions(ctx, "")
	if err != nil {
		d.Log.Warn().Err(err).Msg("reconcile skipped, position fetch failed")
		return
	}
	d.Guard.Reconcile(positions, jobs)

	live := 0
	for _, pos := range positions {
		if !pos.Flat() {
			live++
		}
	}
	d.Log.Info().Int("live_positions", live).Int("jobs", len(jobs)).Msg("guard reconciled with exchange")
	s.record(ctx, journal.Entry{Kind: journal.KindReconcile, Detail: fmt.Sprintf("%d live positions", live)})
	d.Bus.Publish(events.Event{Type: events.TypeReconciled, Data: map[string]any{"live_positions": live}})
}

// OpenLegs returns the guard's view of currently open legs.
func (s *Service) OpenLegs() []guard.Key {
	return s.deps.Guard.OpenKeys()
}

// MarkOpened forwards an out-of-band open confirmation to the guard.
func (s *Service) MarkOpened(symbol, interval string, side types.Side) {
	s.deps.Guard.MarkOpened(symbol, interval, side)
}

func (s *Service) record(ctx context.Context, e journal.Entry) {
	if err := s.deps.Journal.Record(ctx, e); err != nil {
		s.deps.Log.Warn().Err(err).Str("kind", e.Kind).Msg("journal write failed")
	}
}
