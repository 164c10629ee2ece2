// Package exchange defines the Exchange Gateway contract the rest of the
// engine depends on. The core (market data, order executor, position
// registry) never imports a concrete venue package directly — it depends
// on this interface, implemented by internal/exchange/okx.
package exchange

import (
	"context"

	"github.com/perpscalp/engine/pkg/types"
)

// OrderKind selects how an order rests on the book.
type OrderKind int

const (
	OrderKindMarket OrderKind = iota
	OrderKindLimit
)

// OrderRequest is what the Order Executor submits to place_order.
type OrderRequest struct {
	Symbol     string
	Side       types.Side
	Kind       OrderKind
	Contracts  float64
	Price      float64 // ignored for OrderKindMarket
	PostOnly   bool
	ReduceOnly bool
}

// OrderFill is one execution against an order.
type OrderFill struct {
	Price     float64
	Contracts float64
	FeeUSD    float64
	Maker     bool
}

// OrderOutcome is what place_order (and the wait-for-fill loop) resolves to.
type OrderOutcome struct {
	OrderID        string
	EffectivePrice float64
	FeesUSD        float64
	Fills          []OrderFill
	FullyFilled    bool
}

// Gateway is the core's only dependency on a concrete exchange. Every
// method that can block on the network takes a context so the caller can
// bound it with the hot-path (2s) or default (5s) REST timeout.
type Gateway interface {
	GetBalance(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]types.ExchangePosition, error)
	GetTicker(ctx context.Context, symbol string) (types.Tick, error)
	GetCandles(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Candle, error)
	GetPriceLimits(ctx context.Context, symbol string) (types.PriceLimits, error)
	GetInstrument(ctx context.Context, symbol string) (types.Instrument, error)
	SetLeverage(ctx context.Context, symbol string, leverage int64) error

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderOutcome, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderOutcome, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	AmendOrder(ctx context.Context, symbol, orderID string, newPrice, newSize *float64) error

	SubscribeWS(ctx context.Context, channels WSChannels) (<-chan WSEvent, error)

	// RequestReconnect satisfies marketdata.ReconnectRequester — the
	// Registry calls this when sustained REST fallback indicates the
	// websocket feed has gone stale.
	RequestReconnect(reason string)
}

// WSChannels selects which private/public channels to subscribe on connect.
type WSChannels struct {
	Tickers   bool
	Books     bool
	Candles   bool
	Positions bool
	Orders    bool
}

// WSEventKind tags the payload carried by a WSEvent.
type WSEventKind int

const (
	WSEventTick WSEventKind = iota
	WSEventBookTop
	WSEventCandle
	WSEventPosition
	WSEventOrder
)

// WSEvent is the single envelope every subscribed channel's messages are
// normalized into before reaching the Orchestrator's websocket task.
type WSEvent struct {
	Kind         WSEventKind
	Symbol       string
	Tick         types.Tick
	BookTop      types.OrderBookTop
	Candle       types.Candle
	CandleClosed bool // true once the candle's OKX "confirm" flag reports closed
	Position     types.ExchangePosition
}
