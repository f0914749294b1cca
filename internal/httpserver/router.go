package httpserver

import (
	"net/http"

	"tradeguard/internal/auth"
	"tradeguard/internal/health"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	AuthHandler    *auth.Handler
	AuthService    *auth.Service
	TradingHandler *TradingHandler
	HealthHandler  *health.Handler
	EventsWS       http.Handler
	Metrics        http.Handler
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(SecurityHeaders)
	r.Use(RateLimitMiddleware)

	r.Get("/health/live", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)
	if d.Metrics != nil {
		r.Get("/metrics", d.Metrics.ServeHTTP)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", d.AuthHandler.Login)
		if d.EventsWS != nil {
			r.Get("/events/ws", d.EventsWS.ServeHTTP)
		}
		r.Group(func(r chi.Router) {
			r.Use(WithAuth(d.AuthService))
			r.Get("/status", d.TradingHandler.Status)
			r.Post("/open", d.TradingHandler.Open)
			r.Post("/close/{symbol}", d.TradingHandler.CloseSymbol)
			r.Post("/close-all", d.TradingHandler.CloseAll)
			r.Post("/reconcile", d.TradingHandler.Reconcile)
		})
	})
	return r
}
