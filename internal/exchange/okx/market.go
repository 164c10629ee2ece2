package okx

import (
	"context"
	"strconv"

	"github.com/perpscalp/engine/internal/exchange"
	"github.com/perpscalp/engine/pkg/types"
)

// tickerResponse mirrors OKX's /api/v5/market/ticker envelope.
type tickerResponse struct {
	Data []struct {
		Last string `json:"last"`
		BidPx string `json:"bidPx"`
		AskPx string `json:"askPx"`
		Ts    string `json:"ts"`
	} `json:"data"`
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (types.Tick, error) {
	ctx, cancel := hotContext(ctx)
	defer cancel()

	var out tickerResponse
	if err := c.doGET(ctx, "/api/v5/market/ticker", map[string]string{"instId": symbol}, &out); err != nil {
		return types.Tick{}, err
	}
	if len(out.Data) == 0 {
		return types.Tick{}, exchange.NewAPIError(0, "empty ticker response")
	}
	row := out.Data[0]
	last, _ := strconv.ParseFloat(row.Last, 64)
	bid, _ := strconv.ParseFloat(row.BidPx, 64)
	ask, _ := strconv.ParseFloat(row.AskPx, 64)
	ts, _ := strconv.ParseInt(row.Ts, 10, 64)
	return types.Tick{TimestampMs: ts, Last: last, Bid: bid, Ask: ask}, nil
}

func (c *Client) GetCandles(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Candle, error) {
	var out struct {
		Data [][]string `json:"data"`
	}
	bar := candleBar(tf)
	params := map[string]string{"instId": symbol, "bar": bar, "limit": strconv.Itoa(limit)}
	if err := c.doGET(ctx, "/api/v5/market/candles", params, &out); err != nil {
		return nil, err
	}
	candles := make([]types.Candle, 0, len(out.Data))
	for _, row := range out.Data {
		if len(row) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		o, _ := strconv.ParseFloat(row[1], 64)
		h, _ := strconv.ParseFloat(row[2], 64)
		l, _ := strconv.ParseFloat(row[3], 64)
		cl, _ := strconv.ParseFloat(row[4], 64)
		vol, _ := strconv.ParseFloat(row[5], 64)
		candles = append(candles, types.Candle{TimestampMs: ts, Open: o, High: h, Low: l, Close: cl, Volume: vol})
	}
	// OKX returns candles newest-first; the registry expects oldest-first.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func candleBar(tf types.Timeframe) string {
	switch tf {
	case types.Timeframe1m:
		return "1m"
	case types.Timeframe5m:
		return "5m"
	case types.Timeframe1h:
		return "1H"
	case types.Timeframe1d:
		return "1D"
	default:
		return "1m"
	}
}

func (c *Client) GetPriceLimits(ctx context.Context, symbol string) (types.PriceLimits, error) {
	var out struct {
		Data []struct {
			BuyLmt  string `json:"buyLmt"`
			SellLmt string `json:"sellLmt"`
		} `json:"data"`
	}
	if err := c.doGET(ctx, "/api/v5/public/price-limit", map[string]string{"instId": symbol}, &out); err != nil {
		return types.PriceLimits{}, err
	}
	if len(out.Data) == 0 {
		return types.PriceLimits{}, exchange.NewAPIError(0, "empty price-limit response")
	}
	maxBuy, _ := strconv.ParseFloat(out.Data[0].BuyLmt, 64)
	minSell, _ := strconv.ParseFloat(out.Data[0].SellLmt, 64)
	inst, err := c.GetInstrument(ctx, symbol)
	if err != nil {
		return types.PriceLimits{}, err
	}
	return types.PriceLimits{MaxBuy: maxBuy, MinSell: minSell, TickSize: inst.TickSize}, nil
}

func (c *Client) GetInstrument(ctx context.Context, symbol string) (types.Instrument, error) {
	var out struct {
		Data []struct {
			InstID  string `json:"instId"`
			CtVal   string `json:"ctVal"`
			LotSz   string `json:"lotSz"`
			TickSz  string `json:"tickSz"`
		} `json:"data"`
	}
	if err := c.doGET(ctx, "/api/v5/public/instruments", map[string]string{"instType": "SWAP", "instId": symbol}, &out); err != nil {
		return types.Instrument{}, err
	}
	if len(out.Data) == 0 {
		return types.Instrument{}, exchange.NewAPIError(0, "unknown instrument: "+symbol)
	}
	row := out.Data[0]
	ctVal, _ := strconv.ParseFloat(row.CtVal, 64)
	lotSz, _ := strconv.ParseFloat(row.LotSz, 64)
	tickSz, _ := strconv.ParseFloat(row.TickSz, 64)
	fees, err := c.getFeeRate(ctx, symbol)
	if err != nil {
		return types.Instrument{}, err
	}
	return types.Instrument{
		Symbol: symbol, CtVal: ctVal, LotSize: lotSz, TickSize: tickSz,
		MakerFee: fees.maker, TakerFee: fees.taker, QuoteCcy: "USDT",
	}, nil
}

type feeRate struct{ maker, taker float64 }

func (c *Client) getFeeRate(ctx context.Context, symbol string) (feeRate, error) {
	var out struct {
		Data []struct {
			Maker string `json:"maker"`
			Taker string `json:"taker"`
		} `json:"data"`
	}
	if err := c.doAuthedGET(ctx, "/api/v5/account/trade-fee", map[string]string{"instType": "SWAP", "instId": symbol}, &out); err != nil {
		return feeRate{}, err
	}
	if len(out.Data) == 0 {
		return feeRate{}, exchange.NewAPIError(0, "empty fee-rate response")
	}
	maker, _ := strconv.ParseFloat(out.Data[0].Maker, 64)
	taker, _ := strconv.ParseFloat(out.Data[0].Taker, 64)
	// OKX reports negative maker rebates as negative numbers already, but
	// fees in this engine's PnL math are always non-negative costs.
	if maker < 0 {
		maker = -maker
	}
	if taker < 0 {
		taker = -taker
	}
	return feeRate{maker: maker, taker: taker}, nil
}

func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var out struct {
		Data []struct {
			Details []struct {
				Ccy      string `json:"ccy"`
				AvailBal string `json:"availBal"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := c.doAuthedGET(ctx, "/api/v5/account/balance", nil, &out); err != nil {
		return 0, err
	}
	if len(out.Data) == 0 {
		return 0, nil
	}
	for _, d := range out.Data[0].Details {
		if d.Ccy == "USDT" {
			bal, _ := strconv.ParseFloat(d.AvailBal, 64)
			return bal, nil
		}
	}
	return 0, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]types.ExchangePosition, error) {
	var out struct {
		Data []struct {
			InstID   string `json:"instId"`
			PosSide  string `json:"posSide"`
			Pos      string `json:"pos"`
			AvgPx    string `json:"avgPx"`
			Lever    string `json:"lever"`
			Margin   string `json:"margin"`
			Upl      string `json:"upl"`
			CTime    string `json:"cTime"`
			UTime    string `json:"uTime"`
		} `json:"data"`
	}
	if err := c.doAuthedGET(ctx, "/api/v5/account/positions", map[string]string{"instType": "SWAP"}, &out); err != nil {
		return nil, err
	}
	positions := make([]types.ExchangePosition, 0, len(out.Data))
	for _, row := range out.Data {
		side, err := types.ParseSide(row.PosSide)
		if err != nil {
			// fail closed: an unparseable side is dropped from the snapshot
			// rather than defaulted to long, per the side-handling invariant.
			continue
		}
		size, _ := strconv.ParseFloat(row.Pos, 64)
		entry, _ := strconv.ParseFloat(row.AvgPx, 64)
		lev, _ := strconv.ParseInt(row.Lever, 10, 64)
		margin, _ := strconv.ParseFloat(row.Margin, 64)
		upl, _ := strconv.ParseFloat(row.Upl, 64)
		cTime, _ := strconv.ParseInt(row.CTime, 10, 64)
		uTime, _ := strconv.ParseInt(row.UTime, 10, 64)
		positions = append(positions, types.ExchangePosition{
			Symbol: row.InstID, Side: side, Size: size, AvgEntry: entry,
			Leverage: lev, Margin: margin, UnrealizedPnL: upl, CTimeMs: cTime, UTimeMs: uTime,
		})
	}
	return positions, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int64) error {
	body := map[string]any{"instId": symbol, "lever": strconv.FormatInt(leverage, 10), "mgnMode": "cross"}
	return c.doAuthedPOST(ctx, "/api/v5/account/set-leverage", body, nil)
}
