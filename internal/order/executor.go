// Package order implements the Order Executor: turns a sized signal into a
// resting or market order, manages it through fill or replacement, and
// retries once on a price-out-of-band rejection.
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	boterrors "github.com/perpscalp/engine/internal/errors"
	"github.com/perpscalp/engine/internal/exchange"
	"github.com/perpscalp/engine/internal/marketdata"
	"github.com/perpscalp/engine/internal/safety"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

const component = "order.Executor"

const replacementPollInterval = 250 * time.Millisecond

// Input is everything Submit needs to place and manage one order.
type Input struct {
	Symbol         string
	Side           types.Side
	SuggestedPrice float64
	Contracts      decimal.Decimal
	ReduceOnly     bool
	Volatility     float64 // fractional, e.g. 0.008 for 0.8%
	Params         config.ParameterRecord
}

// Executor submits orders through the Exchange Gateway, using the Market
// Data Registry for fresh reference prices and book tops.
type Executor struct {
	gateway   exchange.Gateway
	registry  *marketdata.Registry
	validator *safety.Validator
}

func NewExecutor(gateway exchange.Gateway, registry *marketdata.Registry) *Executor {
	return &Executor{gateway: gateway, registry: registry, validator: safety.NewValidator()}
}

// Submit implements the fixed submit sequence: refresh the signal price
// against a fresh reference, pick market vs post-only limit, wait for fill,
// replace or fall back to market on timeout, and retry once on a
// price-out-of-band rejection.
func (e *Executor) Submit(ctx context.Context, in Input) (exchange.OrderOutcome, error) {
	refPrice, _, err := e.registry.GetPrice(ctx, in.Symbol, marketdata.PurposeOrders)
	if err != nil {
		return exchange.OrderOutcome{}, boterrors.Wrap(err, boterrors.KindStaleData, component, "Submit", "ref_price_unavailable")
	}

	price := in.SuggestedPrice
	if refPrice > 0 && deviationPct(in.SuggestedPrice, refPrice) > in.Params.StaleSignalPercent {
		price = refPrice
	}

	if result := e.validator.ValidateSymbol(in.Symbol); !result.Valid {
		return exchange.OrderOutcome{}, boterrors.New(boterrors.KindInvariantViolation, component, "Submit", result.Code, result.Message)
	}
	if result := e.validator.ValidateOrderValue(price, in.Contracts.InexactFloat64(), in.Symbol); !result.Valid {
		return exchange.OrderOutcome{}, boterrors.New(boterrors.KindInvariantViolation, component, "Submit", result.Code, result.Message)
	}

	req, err := e.buildRequest(ctx, in, price)
	if err != nil {
		return exchange.OrderOutcome{}, err
	}

	outcome, err := e.placeWithBandRetry(ctx, req)
	if err != nil {
		return exchange.OrderOutcome{}, err
	}
	if req.Kind == exchange.OrderKindMarket || outcome.FullyFilled {
		return outcome, nil
	}

	return e.waitAndManage(ctx, in, req, outcome)
}

// buildRequest chooses post-only limit vs market per the configured offset
// and current volatility, clamping a limit price to the exchange's price
// band before it is ever sent.
func (e *Executor) buildRequest(ctx context.Context, in Input, price float64) (exchange.OrderRequest, error) {
	offsetPct := in.Params.LimitOffsetPercent
	volatilityPct := in.Volatility * 100
	if offsetPct <= 0 || volatilityPct > in.Params.MarketOrderVolatilityPct {
		return exchange.OrderRequest{
			Symbol: in.Symbol, Side: in.Side, Kind: exchange.OrderKindMarket,
			Contracts: in.Contracts.InexactFloat64(), ReduceOnly: in.ReduceOnly,
		}, nil
	}

	limits, err := e.gateway.GetPriceLimits(ctx, in.Symbol)
	if err != nil {
		return exchange.OrderRequest{}, boterrors.Wrap(err, boterrors.KindExchangeTransient, component, "buildRequest", "price_limits_unavailable")
	}

	limitPrice := e.resolveLimitPrice(in.Side, in.Symbol, price, offsetPct/100, limits)
	return exchange.OrderRequest{
		Symbol: in.Symbol, Side: in.Side, Kind: exchange.OrderKindLimit,
		Contracts: in.Contracts.InexactFloat64(), Price: limitPrice, PostOnly: true, ReduceOnly: in.ReduceOnly,
	}, nil
}

// resolveLimitPrice offsets from the best quote on the entry side (buy
// below best bid, sell above best ask). If the book top isn't available,
// it degrades to offsetting from the refreshed reference price instead of
// failing the whole submission.
func (e *Executor) resolveLimitPrice(side types.Side, symbol string, refPrice, offsetFrac float64, limits types.PriceLimits) float64 {
	book, err := e.registry.GetOrderBookTop(symbol)
	if err != nil {
		return clampToLimits(side, offsetFromReference(side, refPrice, offsetFrac), limits)
	}
	return limitOrderPrice(side, book, offsetFrac, limits)
}

func limitOrderPrice(side types.Side, book types.OrderBookTop, offsetFrac float64, limits types.PriceLimits) float64 {
	if side == types.SideLong {
		px := book.BestBid * (1 - offsetFrac)
		if limits.MaxBuy > 0 && px > limits.MaxBuy {
			px = limits.MaxBuy
		}
		return px
	}
	px := book.BestAsk * (1 + offsetFrac)
	if limits.MinSell > 0 && px < limits.MinSell {
		px = limits.MinSell
	}
	return px
}

func offsetFromReference(side types.Side, refPrice, offsetFrac float64) float64 {
	if side == types.SideLong {
		return refPrice * (1 - offsetFrac)
	}
	return refPrice * (1 + offsetFrac)
}

// placeWithBandRetry places an order, and on a bit-exact price-out-of-band
// rejection refetches the exchange's limits, clamps the price, and retries
// exactly once.
func (e *Executor) placeWithBandRetry(ctx context.Context, req exchange.OrderRequest) (exchange.OrderOutcome, error) {
	outcome, err := e.gateway.PlaceOrder(ctx, req)
	if err == nil {
		return outcome, nil
	}
	if !exchange.IsPriceOutOfBand(err) {
		return exchange.OrderOutcome{}, boterrors.Wrap(err, boterrors.KindExchangeReject, component, "placeWithBandRetry", "place_order_failed")
	}

	limits, limErr := e.gateway.GetPriceLimits(ctx, req.Symbol)
	if limErr != nil {
		return exchange.OrderOutcome{}, boterrors.Wrap(limErr, boterrors.KindExchangeTransient, component, "placeWithBandRetry", "price_limits_unavailable")
	}
	req.Price = clampToLimits(req.Side, req.Price, limits)
	outcome, err = e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		return exchange.OrderOutcome{}, boterrors.Wrap(err, boterrors.KindExchangeReject, component, "placeWithBandRetry", "retry_after_band_clamp_failed")
	}
	return outcome, nil
}

func clampToLimits(side types.Side, price float64, limits types.PriceLimits) float64 {
	if side == types.SideLong && limits.MaxBuy > 0 && price > limits.MaxBuy {
		return limits.MaxBuy
	}
	if side == types.SideShort && limits.MinSell > 0 && price < limits.MinSell {
		return limits.MinSell
	}
	return price
}

// waitAndManage polls a resting limit order for up to max_wait_seconds. On
// timeout it either replaces the order (price moved toward it by at least
// the replacement threshold) or cancels and falls back to market for
// whatever remains unfilled.
func (e *Executor) waitAndManage(ctx context.Context, in Input, req exchange.OrderRequest, placed exchange.OrderOutcome) (exchange.OrderOutcome, error) {
	orderID := placed.OrderID
	if result := e.validator.ValidateOrderID(orderID); !result.Valid {
		return exchange.OrderOutcome{}, boterrors.New(boterrors.KindExchangeReject, component, "waitAndManage", result.Code, result.Message)
	}
	deadline := time.Now().Add(waitDuration(in.Params.MaxWaitSeconds))
	ticker := time.NewTicker(replacementPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return exchange.OrderOutcome{}, ctx.Err()
		case <-ticker.C:
		}

		status, err := e.gateway.GetOrderStatus(ctx, req.Symbol, orderID)
		if err == nil && status.FullyFilled {
			return status, nil
		}
		if time.Now().Before(deadline) {
			continue
		}

		remaining := remainingContracts(in.Contracts, status)
		current, _, priceErr := e.registry.GetPrice(ctx, in.Symbol, marketdata.PurposeOrders)
		if priceErr != nil {
			current = req.Price
		}

		_ = e.gateway.CancelOrder(ctx, req.Symbol, orderID)

		if movedToward(in.Side, req.Price, current) >= in.Params.ReplacementThresholdPercent {
			replaceReq := req
			replaceReq.Contracts = remaining.InexactFloat64()
			replaceReq.Price = current
			replaced, err := e.gateway.PlaceOrder(ctx, replaceReq)
			if err != nil {
				return exchange.OrderOutcome{}, boterrors.Wrap(err, boterrors.KindExchangeReject, component, "waitAndManage", "replacement_failed")
			}
			return e.fallbackToMarketIfUnfilled(ctx, in, replaceReq, replaced)
		}

		return e.fallToMarket(ctx, in, req.Symbol, remaining)
	}
}

// fallbackToMarketIfUnfilled gives a replaced limit order one more short
// wait before falling back to market for whatever still isn't filled.
func (e *Executor) fallbackToMarketIfUnfilled(ctx context.Context, in Input, req exchange.OrderRequest, placed exchange.OrderOutcome) (exchange.OrderOutcome, error) {
	if placed.FullyFilled {
		return placed, nil
	}
	time.Sleep(replacementPollInterval)
	status, err := e.gateway.GetOrderStatus(ctx, req.Symbol, placed.OrderID)
	if err == nil && status.FullyFilled {
		return status, nil
	}
	remaining := remainingContracts(in.Contracts, status)
	_ = e.gateway.CancelOrder(ctx, req.Symbol, placed.OrderID)
	return e.fallToMarket(ctx, in, req.Symbol, remaining)
}

func (e *Executor) fallToMarket(ctx context.Context, in Input, symbol string, remaining decimal.Decimal) (exchange.OrderOutcome, error) {
	if remaining.IsZero() || remaining.IsNegative() {
		return exchange.OrderOutcome{FullyFilled: true}, nil
	}
	marketReq := exchange.OrderRequest{
		Symbol: symbol, Side: in.Side, Kind: exchange.OrderKindMarket,
		Contracts: remaining.InexactFloat64(), ReduceOnly: in.ReduceOnly,
	}
	outcome, err := e.gateway.PlaceOrder(ctx, marketReq)
	if err != nil {
		return exchange.OrderOutcome{}, boterrors.Wrap(err, boterrors.KindExchangeReject, component, "fallToMarket", "market_fallback_failed")
	}
	return outcome, nil
}

func waitDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

func deviationPct(suggested, ref float64) float64 {
	if ref == 0 {
		return 0
	}
	diff := suggested - ref
	if diff < 0 {
		diff = -diff
	}
	return diff / ref * 100
}

// movedToward reports how far (as a percent of the order price) the
// current price has moved toward a resting limit order since it was
// placed: positive means a fill is now more likely.
func movedToward(side types.Side, orderPrice, current float64) float64 {
	if orderPrice == 0 {
		return 0
	}
	if side == types.SideLong {
		return (orderPrice - current) / orderPrice * 100
	}
	return (current - orderPrice) / orderPrice * 100
}

func remainingContracts(total decimal.Decimal, status exchange.OrderOutcome) decimal.Decimal {
	filled := decimal.Zero
	for _, f := range status.Fills {
		filled = filled.Add(decimal.NewFromFloat(f.Contracts))
	}
	remaining := total.Sub(filled)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}
