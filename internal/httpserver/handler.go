package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"tradeguard/internal/executor"
	"tradeguard/internal/guard"
	"tradeguard/internal/httputil"
	"tradeguard/internal/sizing"
	"tradeguard/internal/trading"
	"tradeguard/internal/types"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// TradingHandler exposes the trading service to the operator.
type TradingHandler struct {
	svc  *trading.Service
	jobs []guard.Job
}

func NewTradingHandler(svc *trading.Service, jobs []guard.Job) *TradingHandler {
	return &TradingHandler{svc: svc, jobs: jobs}
}

type openRequest struct {
	Symbol     string `json:"symbol"`
	Interval   string `json:"interval"`
	Side       string `json:"side"`
	Quantity   string `json:"quantity,omitempty"`
	Percent    string `json:"percent,omitempty"`
	Leverage   int    `json:"leverage"`
	MarginMode string `json:"margin_mode,omitempty"`
	Policy     string `json:"policy,omitempty"`
}

type openResponse struct {
	Disposition     string `json:"disposition"`
	Quantity        string `json:"quantity,omitempty"`
	Notional        string `json:"notional,omitempty"`
	Mode            string `json:"mode,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RequiredPercent string `json:"required_percent,omitempty"`
	OrderID         int64  `json:"order_id,omitempty"`
}

func (h *TradingHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	open, err := buildOpenRequest(req)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	res, err := h.svc.AttemptOpen(r.Context(), open)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadGateway, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	status := http.StatusOK
	if !res.Opened() {
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, openResponseFrom(res))
}

func buildOpenRequest(req openRequest) (trading.OpenRequest, error) {
	side := types.Side(strings.ToUpper(strings.TrimSpace(req.Side)))
	if side != types.SideBuy && side != types.SideSell {
		return trading.OpenRequest{}, errors.New("side must be BUY or SELL")
	}
	out := trading.OpenRequest{
		Symbol:     strings.ToUpper(strings.TrimSpace(req.Symbol)),
		Interval:   strings.TrimSpace(req.Interval),
		Side:       side,
		Leverage:   req.Leverage,
		MarginMode: types.MarginMode(strings.ToUpper(req.MarginMode)),
		Policy:     sizing.Policy(req.Policy),
	}
	if out.Symbol == "" || out.Interval == "" {
		return trading.OpenRequest{}, errors.New("symbol and interval are required")
	}
	if out.MarginMode == "" {
		out.MarginMode = types.MarginModeIsolated
	}
	if out.Policy == "" {
		out.Policy = sizing.PolicyFlexible
	}
	var err error
	if req.Quantity != "" {
		if out.Quantity, err = decimal.NewFromString(req.Quantity); err != nil {
			return trading.OpenRequest{}, errors.New("invalid quantity")
		}
	}
	if req.Percent != "" {
		if out.Percent, err = decimal.NewFromString(req.Percent); err != nil {
			return trading.OpenRequest{}, errors.New("invalid percent")
		}
	}
	if out.Quantity.Sign() <= 0 && out.Percent.Sign() <= 0 {
		return trading.OpenRequest{}, errors.New("quantity or percent is required")
	}
	return out, nil
}

func openResponseFrom(res trading.OpenResult) openResponse {
	out := openResponse{Disposition: string(res.Disposition)}
	if res.Opened() {
		out.Quantity = res.Sizing.Quantity.String()
		out.Notional = res.Sizing.Notional.String()
		out.Mode = string(res.Sizing.Mode)
		out.OrderID = res.Ack.OrderID
		return out
	}
	if res.Sizing.Reason != "" {
		out.Reason = string(res.Sizing.Reason)
		out.RequiredPercent = res.Sizing.RequiredPercent.String()
	}
	return out
}

type closeReportResponse struct {
	Symbol string             `json:"symbol"`
	Legs   []closeLegResponse `json:"legs"`
	Error  string             `json:"error,omitempty"`
}

type closeLegResponse struct {
	PositionSide  string `json:"position_side"`
	Quantity      string `json:"quantity"`
	OrderID       int64  `json:"order_id,omitempty"`
	LimitFallback bool   `json:"limit_fallback,omitempty"`
	Error         string `json:"error,omitempty"`
}

func closeReportFrom(report executor.CloseReport) closeReportResponse {
	out := closeReportResponse{Symbol: report.Symbol, Legs: make([]closeLegResponse, 0, len(report.Legs))}
	if report.CancelErr != nil {
		out.Error = report.CancelErr.Error()
	}
	for _, leg := range report.Legs {
		item := closeLegResponse{
			PositionSide:  string(leg.PositionSide),
			Quantity:      leg.Quantity.String(),
			OrderID:       leg.OrderID,
			LimitFallback: leg.LimitFallback,
		}
		if leg.Err != nil {
			item.Error = leg.Err.Error()
		}
		out.Legs = append(out.Legs, item)
	}
	return out
}

func (h *TradingHandler) CloseSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	report, err := h.svc.CloseSymbol(r.Context(), symbol)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, executor.ErrNothingToClose) {
			status = http.StatusNotFound
		}
		httputil.WriteJSON(w, status, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, closeReportFrom(report))
}

func (h *TradingHandler) CloseAll(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.CloseAll(r.Context())
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadGateway, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	out := make([]closeReportResponse, 0, len(reports))
	for _, report := range reports {
		out = append(out, closeReportFrom(report))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"reports": out})
}

func (h *TradingHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.svc.Reconcile(r.Context(), h.jobs)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type openLegResponse struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Side     string `json:"side"`
}

func (h *TradingHandler) Status(w http.ResponseWriter, r *http.Request) {
	legs := h.svc.OpenLegs()
	out := make([]openLegResponse, 0, len(legs))
	for _, leg := range legs {
		out = append(out, openLegResponse{Symbol: leg.Symbol, Interval: leg.Interval, Side: string(leg.Side)})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"open_legs": out})
}
