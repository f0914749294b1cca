package health

import (
	"context"
	"net/http"
	"time"

	"tradeguard/internal/exchange"
	"tradeguard/internal/httputil"
)

// Pinger is the optional journal DB dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	client    exchange.Client
	journal   Pinger
	startedAt time.Time
}

func NewHandler(client exchange.Client, journal Pinger, startedAt time.Time) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{client: client, journal: journal, startedAt: start}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
	Uptime    string `json:"uptime"`
}

type readinessResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	UptimeSec int64           `json:"uptime_sec"`
	Uptime    string          `json:"uptime"`
	Exchange  dependencyStat  `json:"exchange"`
	Journal   *dependencyStat `json:"journal,omitempty"`
}

type dependencyStat struct {
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
	CheckedAt string `json:"checked_at"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func (h *Handler) check(ctx context.Context, ping func(context.Context) error) dependencyStat {
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	start := time.Now()
	err := ping(pingCtx)
	stat := dependencyStat{
		PingMs:    time.Since(start).Milliseconds(),
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		stat.Error = err.Error()
	} else {
		stat.Reachable = true
	}
	return stat
}

// Live is a lightweight liveness endpoint and does not check exchange reachability.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
	})
}

// Ready checks the primary dependency (the exchange) and the journal DB when
// one is configured, returning 503 on any failure.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptime := h.uptime(now)

	ex := h.check(r.Context(), h.client.Ping)
	status := "ok"
	httpStatus := http.StatusOK
	if !ex.Reachable {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	resp := readinessResponse{
		Status:    status,
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
		Exchange:  ex,
	}
	if h.journal != nil {
		j := h.check(r.Context(), h.journal.Ping)
		resp.Journal = &j
		if !j.Reachable {
			resp.Status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}
	}
	httputil.WriteJSON(w, httpStatus, resp)
}
