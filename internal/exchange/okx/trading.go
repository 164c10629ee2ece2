package okx

import (
	"context"
	"strconv"

	"github.com/perpscalp/engine/internal/exchange"
	"github.com/perpscalp/engine/pkg/types"
)

func okxSide(side types.Side) (ordSide, posSide string) {
	if side == types.SideShort {
		return "sell", "short"
	}
	return "buy", "long"
}

// PlaceOrder submits a single order and, for a market order, reads the
// fill back immediately; for a limit order the caller (internal/order's
// wait-for-fill loop) polls GetOrderStatus separately.
func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderOutcome, error) {
	ordSide, posSide := okxSide(req.Side)
	ordType := "market"
	if req.Kind == exchange.OrderKindLimit {
		ordType = "limit"
		if req.PostOnly {
			ordType = "post_only"
		}
	}

	body := map[string]any{
		"instId":  req.Symbol,
		"tdMode":  "cross",
		"side":    ordSide,
		"posSide": posSide,
		"ordType": ordType,
		"sz":      strconv.FormatFloat(req.Contracts, 'f', -1, 64),
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if ordType != "market" {
		body["px"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}

	var out struct {
		Data []struct {
			OrdID string `json:"ordId"`
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		} `json:"data"`
	}
	if err := c.doAuthedPOST(ctx, "/api/v5/trade/order", body, &out); err != nil {
		return exchange.OrderOutcome{}, err
	}
	if len(out.Data) == 0 {
		return exchange.OrderOutcome{}, exchange.NewAPIError(0, "empty order-placement response")
	}
	row := out.Data[0]
	if row.SCode != "" && row.SCode != "0" {
		return exchange.OrderOutcome{}, exchange.NewAPIError(parseCode(row.SCode), row.SMsg)
	}

	outcome := exchange.OrderOutcome{OrderID: row.OrdID}
	if req.Kind == exchange.OrderKindMarket {
		fill, err := c.pollFill(ctx, req.Symbol, row.OrdID)
		if err == nil {
			outcome = fill
		}
	}
	return outcome, nil
}

// pollFill reads back an order's current fill state — used right after a
// market order (expected to fill immediately) and by the Order Executor's
// wait-for-fill loop for resting limit orders.
func (c *Client) pollFill(ctx context.Context, symbol, orderID string) (exchange.OrderOutcome, error) {
	var out struct {
		Data []struct {
			OrdID      string `json:"ordId"`
			AvgPx      string `json:"avgPx"`
			FillSz     string `json:"fillSz"`
			Sz         string `json:"sz"`
			Fee        string `json:"fee"`
			State      string `json:"state"`
		} `json:"data"`
	}
	params := map[string]string{"instId": symbol, "ordId": orderID}
	if err := c.doAuthedGET(ctx, "/api/v5/trade/order", params, &out); err != nil {
		return exchange.OrderOutcome{}, err
	}
	if len(out.Data) == 0 {
		return exchange.OrderOutcome{}, exchange.NewAPIError(0, "order not found: "+orderID)
	}
	row := out.Data[0]
	avgPx, _ := strconv.ParseFloat(row.AvgPx, 64)
	fillSz, _ := strconv.ParseFloat(row.FillSz, 64)
	sz, _ := strconv.ParseFloat(row.Sz, 64)
	fee, _ := strconv.ParseFloat(row.Fee, 64)
	if fee < 0 {
		fee = -fee
	}

	fully := row.State == "filled"
	var fills []exchange.OrderFill
	if fillSz > 0 {
		fills = append(fills, exchange.OrderFill{Price: avgPx, Contracts: fillSz, FeeUSD: fee, Maker: row.State == "filled" && avgPx > 0})
	}
	_ = sz // reserved for partial-fill remainder accounting by the caller
	return exchange.OrderOutcome{OrderID: row.OrdID, EffectivePrice: avgPx, FeesUSD: fee, Fills: fills, FullyFilled: fully}, nil
}

// GetOrderStatus exposes pollFill to the Order Executor's wait-for-fill
// loop, which needs to poll a resting limit order's state each tick.
func (c *Client) GetOrderStatus(ctx context.Context, symbol, orderID string) (exchange.OrderOutcome, error) {
	return c.pollFill(ctx, symbol, orderID)
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{"instId": symbol, "ordId": orderID}
	return c.doAuthedPOST(ctx, "/api/v5/trade/cancel-order", body, nil)
}

func (c *Client) AmendOrder(ctx context.Context, symbol, orderID string, newPrice, newSize *float64) error {
	body := map[string]any{"instId": symbol, "ordId": orderID}
	if newPrice != nil {
		body["newPx"] = strconv.FormatFloat(*newPrice, 'f', -1, 64)
	}
	if newSize != nil {
		body["newSz"] = strconv.FormatFloat(*newSize, 'f', -1, 64)
	}
	return c.doAuthedPOST(ctx, "/api/v5/trade/amend-order", body, nil)
}
