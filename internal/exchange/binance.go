package exchange

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"tradeguard/internal/types"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

// Binance error codes the core reacts to. Everything else is a plain
// rejection or a transport failure.
const (
	codeReduceOnlyRejected  = -2022
	codeInvalidSymbol       = -1121
	codeNoNeedChangeMargin  = -4046
	codeMarginOpenOrders    = -4047
	codeMarginOpenPosition  = -4048
	codeNoNeedChangePosMode = -4059
)

// BinanceClient implements Client against Binance USDⓈ-M futures.
type BinanceClient struct {
	c          *futures.Client
	quoteAsset string
}

func NewBinanceClient(apiKey, secretKey, quoteAsset string, testnet bool) *BinanceClient {
	futures.UseTestnet = testnet
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &BinanceClient{c: futures.NewClient(apiKey, secretKey), quoteAsset: quoteAsset}
}

func (b *BinanceClient) Ping(ctx context.Context) error {
	if err := b.c.NewPingService().Do(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

func (b *BinanceClient) SymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	info, err := b.c.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return SymbolFilters{}, mapErr(err)
	}
	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		out := SymbolFilters{Symbol: symbol}
		if f := s.LotSizeFilter(); f != nil {
			out.StepSize = parseDecimal(f.StepSize)
			out.MinQty = parseDecimal(f.MinQuantity)
		}
		if f := s.PriceFilter(); f != nil {
			out.TickSize = parseDecimal(f.TickSize)
		}
		if f := s.MinNotionalFilter(); f != nil {
			out.MinNotional = parseDecimal(f.Notional)
		}
		return out, nil
	}
	return SymbolFilters{}, &APIError{Kind: KindSymbolNotFound, Msg: "symbol not listed: " + symbol}
}

func (b *BinanceClient) AvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	balances, err := b.c.NewGetBalanceService().Do(ctx)
	if err != nil {
		return decimal.Zero, mapErr(err)
	}
	for _, bal := range balances {
		if bal.Asset == b.quoteAsset {
			return parseDecimal(bal.AvailableBalance), nil
		}
	}
	return decimal.Zero, nil
}

func (b *BinanceClient) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	rows, err := b.c.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, mapErr(err)
	}
	if len(rows) == 0 {
		return decimal.Zero, &APIError{Kind: KindSymbolNotFound, Msg: "no mark price for " + symbol}
	}
	return parseDecimal(rows[0].MarkPrice), nil
}

func (b *BinanceClient) Positions(ctx context.Context, symbol string) ([]Position, error) {
	svc := b.c.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	rows, err := svc.Do(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]Position, 0, len(rows))
	for _, row := range rows {
		amt := parseDecimal(row.PositionAmt)
		if amt.IsZero() {
			continue
		}
		lev, _ := strconv.Atoi(row.Leverage)
		out = append(out, Position{
			Symbol:       row.Symbol,
			PositionSide: types.PositionSide(row.PositionSide),
			Amount:       amt,
			EntryPrice:   parseDecimal(row.EntryPrice),
			MarkPrice:    parseDecimal(row.MarkPrice),
			Leverage:     lev,
			MarginMode:   marginModeFrom(row.MarginType),
		})
	}
	return out, nil
}

func (b *BinanceClient) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	svc := b.c.NewListOpenOrdersService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	rows, err := svc.Do(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]OpenOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, OpenOrder{OrderID: row.OrderID, Symbol: row.Symbol})
	}
	return out, nil
}

func (b *BinanceClient) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := b.c.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

func (b *BinanceClient) MarginInfo(ctx context.Context, symbol string) (SymbolMargin, error) {
	rows, err := b.c.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return SymbolMargin{}, mapErr(err)
	}
	if len(rows) == 0 {
		return SymbolMargin{}, &APIError{Kind: KindSymbolNotFound, Msg: "no margin info for " + symbol}
	}
	lev, _ := strconv.Atoi(rows[0].Leverage)
	return SymbolMargin{Symbol: symbol, Mode: marginModeFrom(rows[0].MarginType), Leverage: lev}, nil
}

func (b *BinanceClient) SetMarginMode(ctx context.Context, symbol string, mode types.MarginMode) error {
	mt := futures.MarginTypeCrossed
	if mode == types.MarginModeIsolated {
		mt = futures.MarginTypeIsolated
	}
	if err := b.c.NewChangeMarginTypeService().Symbol(symbol).MarginType(mt).Do(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

func (b *BinanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if _, err := b.c.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

func (b *BinanceClient) PlaceOrder(ctx context.Context, order Order) (OrderAck, error) {
	svc := b.c.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(futures.SideType(order.Side)).
		Type(futures.OrderType(order.Type)).
		Quantity(order.Qty.String())
	if order.PositionSide != "" {
		svc = svc.PositionSide(futures.PositionSideType(order.PositionSide))
	} else if order.ReduceOnly {
		// reduceOnly is only accepted in one-way mode; hedge legs imply it.
		svc = svc.ReduceOnly(order.ReduceOnly)
	}
	if order.Type == types.OrderTypeLimit {
		svc = svc.Price(order.Price.String()).TimeInForce(futures.TimeInForceType(order.TimeInForce))
	}
	if order.ClientOrderID != "" {
		svc = svc.NewClientOrderID(order.ClientOrderID)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return OrderAck{}, mapErr(err)
	}
	return OrderAck{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Status:        string(resp.Status),
		ExecutedQty:   parseDecimal(resp.ExecutedQuantity),
	}, nil
}

// EnsureDualSide converges the account's position mode; "no need to change"
// counts as success.
func (b *BinanceClient) EnsureDualSide(ctx context.Context, dual bool) error {
	err := b.c.NewChangePositionModeService().DualSide(dual).Do(ctx)
	if err == nil || IsNoChangeNeeded(mapErr(err)) {
		return nil
	}
	return mapErr(err)
}

// ListenKey opens a user-data stream and returns its key.
func (b *BinanceClient) ListenKey(ctx context.Context) (string, error) {
	key, err := b.c.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return "", mapErr(err)
	}
	return key, nil
}

// KeepAliveListenKey extends the user-data stream validity window.
func (b *BinanceClient) KeepAliveListenKey(ctx context.Context, key string) error {
	if err := b.c.NewKeepaliveUserStreamService().ListenKey(key).Do(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

func marginModeFrom(raw string) types.MarginMode {
	if strings.EqualFold(raw, "isolated") {
		return types.MarginModeIsolated
	}
	return types.MarginModeCross
}

// parseDecimal tolerates the exchange's stringly-typed numbers; an empty or
// malformed field reads as zero, consistent with a missing filter.
func parseDecimal(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return &APIError{Kind: KindTransport, Msg: err.Error()}
	}
	kind := KindRejected
	switch apiErr.Code {
	case codeReduceOnlyRejected:
		kind = KindReduceOnlyRejected
	case codeNoNeedChangeMargin, codeNoNeedChangePosMode:
		kind = KindNoChangeNeeded
	case codeMarginOpenOrders, codeMarginOpenPosition:
		kind = KindPositionConflict
	case codeInvalidSymbol:
		kind = KindSymbolNotFound
	default:
		if strings.Contains(apiErr.Message, "No need to change") {
			kind = KindNoChangeNeeded
		} else if strings.Contains(apiErr.Message, "ReduceOnly Order is rejected") {
			kind = KindReduceOnlyRejected
		}
	}
	return &APIError{Kind: kind, Code: apiErr.Code, Msg: apiErr.Message}
}
