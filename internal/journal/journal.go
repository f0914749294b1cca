// Package journal persists trading outcomes for audit. Recording is best
// effort: a journal failure never blocks or fails the trading path.
package journal

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	KindOpened    = "opened"
	KindRejected  = "rejected"
	KindClosed    = "closed"
	KindReconcile = "reconcile"
)

// Entry is one journaled outcome. Decimal fields are zero when the kind has
// no quantity attached.
type Entry struct {
	At       time.Time
	Kind     string
	Symbol   string
	Interval string
	Side     string
	Quantity decimal.Decimal
	Notional decimal.Decimal
	Price    decimal.Decimal
	Mode     string
	Reason   string
	OrderID  int64
	Detail   string
}

type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Disabled is the recorder used when no journal DSN is configured.
type Disabled struct{}

func NewDisabled() *Disabled { return &Disabled{} }

func (*Disabled) Record(ctx context.Context, e Entry) error { return nil }
