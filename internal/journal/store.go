package journal

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store journals entries to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the journal table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `create table if not exists trade_journal (
		id bigserial primary key,
		at timestamptz not null,
		kind text not null,
		symbol text not null,
		interval text not null default '',
		side text not null default '',
		qty numeric not null default 0,
		notional numeric not null default 0,
		price numeric not null default 0,
		mode text not null default '',
		reason text not null default '',
		order_id bigint not null default 0,
		detail text not null default ''
	)`)
	return err
}

func (s *Store) Record(ctx context.Context, e Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		"insert into trade_journal (at, kind, symbol, interval, side, qty, notional, price, mode, reason, order_id, detail) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)",
		at, e.Kind, e.Symbol, e.Interval, e.Side, e.Quantity, e.Notional, e.Price, e.Mode, e.Reason, e.OrderID, e.Detail)
	return err
}

// Ping reports journal DB reachability for the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
