// Package metrics exposes the bot's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	OpensAttempted   prometheus.Counter
	OpensGranted     prometheus.Counter
	OpensDenied      *prometheus.CounterVec
	SizingRejections *prometheus.CounterVec
	OrdersPlaced     prometheus.Counter
	OrdersFailed     prometheus.Counter
	CloseFallbacks   prometheus.Counter
	LegsClosed       prometheus.Counter
}

// New registers the bot's collectors on reg; pass prometheus.NewRegistry()
// in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OpensAttempted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradeguard_opens_attempted_total",
			Help: "Open attempts received by the trading service.",
		}),
		OpensGranted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradeguard_opens_granted_total",
			Help: "Open attempts that resulted in a placed entry order.",
		}),
		OpensDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_opens_denied_total",
			Help: "Open attempts denied, by disposition.",
		}, []string{"reason"}),
		SizingRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeguard_sizing_rejections_total",
			Help: "Sizing rejections, by reason.",
		}, []string{"reason"}),
		OrdersPlaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradeguard_orders_placed_total",
			Help: "Orders acknowledged by the exchange.",
		}),
		OrdersFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradeguard_orders_failed_total",
			Help: "Order placements the exchange rejected.",
		}),
		CloseFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradeguard_close_limit_fallbacks_total",
			Help: "Closes that fell back to a marketable limit order.",
		}),
		LegsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tradeguard_position_legs_closed_total",
			Help: "Position legs flattened by the closer.",
		}),
	}
}
