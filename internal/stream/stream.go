// Package stream consumes the exchange's user-data websocket and feeds
// fills the bot did not place itself back into the guard, so manual closes
// on the exchange UI free their slots without waiting for TTL expiry.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"tradeguard/internal/guard"
	"tradeguard/internal/types"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	liveEndpoint    = "wss://fstream.binance.com/ws/"
	testnetEndpoint = "wss://stream.binancefuture.com/ws/"

	// listen keys expire after 60 minutes without a keepalive
	keepAliveEvery = 25 * time.Minute
	reconnectWait  = 5 * time.Second
)

// KeySource mints and refreshes the user-data listen key.
type KeySource interface {
	ListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, key string) error
}

// Sink receives out-of-band position changes. *trading.Service satisfies it.
type Sink interface {
	MarkOpened(symbol, interval string, side types.Side)
	NotifyExternalClose(ctx context.Context, symbol, interval string, side types.Side)
}

type Stream struct {
	keys KeySource
	sink Sink
	jobs []guard.Job
	url  string
	log  zerolog.Logger
}

func New(keys KeySource, sink Sink, jobs []guard.Job, testnet bool, log zerolog.Logger) *Stream {
	url := liveEndpoint
	if testnet {
		url = testnetEndpoint
	}
	return &Stream{keys: keys, sink: sink, jobs: jobs, url: url, log: log}
}

// Run connects and reconnects until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) {
	for {
		if err := s.connectOnce(ctx); err != nil {
			s.log.Warn().Err(err).Msg("user-data stream disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectWait):
		}
	}
}

func (s *Stream) connectOnce(ctx context.Context) error {
	key, err := s.keys.ListenKey(ctx)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url+key, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.log.Info().Msg("user-data stream connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(keepAliveEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.keys.KeepAliveListenKey(ctx, key); err != nil {
					s.log.Warn().Err(err).Msg("listen key keepalive failed")
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(ctx, raw)
	}
}

type wsEnvelope struct {
	Event string         `json:"e"`
	Order *wsOrderUpdate `json:"o"`
}

type wsOrderUpdate struct {
	Symbol       string `json:"s"`
	Side         string `json:"S"`
	PositionSide string `json:"ps"`
	Status       string `json:"X"`
	ReduceOnly   bool   `json:"R"`
}

func (s *Stream) handleMessage(ctx context.Context, raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.Event != "ORDER_TRADE_UPDATE" || env.Order == nil {
		return
	}
	o := env.Order
	if o.Status != "FILLED" {
		return
	}

	side := types.Side(o.Side)
	legSide := side
	closing := o.ReduceOnly
	switch types.PositionSide(o.PositionSide) {
	case types.PositionSideLong:
		legSide = types.SideBuy
		closing = closing || side == types.SideSell
	case types.PositionSideShort:
		legSide = types.SideSell
		closing = closing || side == types.SideBuy
	default:
		// one-way mode: a reduce-only fill offsets the leg opened by the
		// opposite side
		if closing {
			legSide = side.Opposite()
		}
	}

	for _, job := range s.jobs {
		if job.Symbol != o.Symbol {
			continue
		}
		if closing {
			s.log.Info().Str("symbol", o.Symbol).Str("interval", job.Interval).
				Str("side", string(legSide)).Msg("fill closed a leg, releasing guard slot")
			s.sink.NotifyExternalClose(ctx, o.Symbol, job.Interval, legSide)
		} else {
			s.sink.MarkOpened(o.Symbol, job.Interval, legSide)
		}
	}
}
