package order

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpscalp/engine/internal/exchange"
	"github.com/perpscalp/engine/internal/marketdata"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

type fakeGateway struct {
	placeCalls    []exchange.OrderRequest
	placeResults  []exchange.OrderOutcome
	placeErrs     []error
	statusResults map[string]exchange.OrderOutcome
	statusErr     error
	priceLimits   types.PriceLimits
	cancelCalls   []string
}

func (f *fakeGateway) GetBalance(ctx context.Context) (float64, error) { return 0, nil }
func (f *fakeGateway) GetPositions(ctx context.Context) ([]types.ExchangePosition, error) {
	return nil, nil
}
func (f *fakeGateway) GetTicker(ctx context.Context, symbol string) (types.Tick, error) {
	return types.Tick{}, nil
}
func (f *fakeGateway) GetCandles(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Candle, error) {
	return nil, nil
}
func (f *fakeGateway) GetPriceLimits(ctx context.Context, symbol string) (types.PriceLimits, error) {
	return f.priceLimits, nil
}
func (f *fakeGateway) GetInstrument(ctx context.Context, symbol string) (types.Instrument, error) {
	return types.Instrument{}, nil
}
func (f *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int64) error { return nil }

func (f *fakeGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderOutcome, error) {
	idx := len(f.placeCalls)
	f.placeCalls = append(f.placeCalls, req)
	var err error
	if idx < len(f.placeErrs) {
		err = f.placeErrs[idx]
	}
	var out exchange.OrderOutcome
	if idx < len(f.placeResults) {
		out = f.placeResults[idx]
	}
	return out, err
}

func (f *fakeGateway) GetOrderStatus(ctx context.Context, symbol, orderID string) (exchange.OrderOutcome, error) {
	if f.statusErr != nil {
		return exchange.OrderOutcome{}, f.statusErr
	}
	return f.statusResults[orderID], nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.cancelCalls = append(f.cancelCalls, orderID)
	return nil
}
func (f *fakeGateway) AmendOrder(ctx context.Context, symbol, orderID string, newPrice, newSize *float64) error {
	return nil
}
func (f *fakeGateway) SubscribeWS(ctx context.Context, channels exchange.WSChannels) (<-chan exchange.WSEvent, error) {
	return nil, nil
}
func (f *fakeGateway) RequestReconnect(reason string) {}

func baseParams() config.ParameterRecord {
	return config.ParameterRecord{
		LimitOffsetPercent:          0.02,
		MarketOrderVolatilityPct:    0.8,
		StaleSignalPercent:          1.0,
		MaxWaitSeconds:              0.1,
		ReplacementThresholdPercent: 0.05,
	}
}

func TestSubmit_HighVolatilityUsesMarketOrder(t *testing.T) {
	reg := marketdata.NewRegistry(nil, 5, nil)
	require.NoError(t, reg.UpsertTick("BTC-USDT-SWAP", types.Tick{TimestampMs: types.UnixMillis(time.Now()), Last: 100, Bid: 99.9, Ask: 100.1}))

	gw := &fakeGateway{placeResults: []exchange.OrderOutcome{{OrderID: "1", FullyFilled: true, EffectivePrice: 100}}}
	exe := NewExecutor(gw, reg)

	out, err := exe.Submit(context.Background(), Input{
		Symbol: "BTC-USDT-SWAP", Side: types.SideLong, SuggestedPrice: 100, Contracts: decimal.NewFromInt(1),
		Volatility: 0.01, Params: baseParams(),
	})
	require.NoError(t, err)
	assert.True(t, out.FullyFilled)
	require.Len(t, gw.placeCalls, 1)
	assert.Equal(t, exchange.OrderKindMarket, gw.placeCalls[0].Kind)
}

func TestSubmit_LowVolatilityUsesPostOnlyLimit(t *testing.T) {
	reg := marketdata.NewRegistry(nil, 5, nil)
	require.NoError(t, reg.UpsertTick("BTC-USDT-SWAP", types.Tick{TimestampMs: types.UnixMillis(time.Now()), Last: 100, Bid: 99.9, Ask: 100.1}))
	reg.UpsertOrderBookTop("BTC-USDT-SWAP", types.OrderBookTop{TimestampMs: types.UnixMillis(time.Now()), BestBid: 99.9, BestAsk: 100.1, BidSize: 10, AskSize: 10})

	gw := &fakeGateway{placeResults: []exchange.OrderOutcome{{OrderID: "1", FullyFilled: true, EffectivePrice: 99.8}}}
	exe := NewExecutor(gw, reg)

	out, err := exe.Submit(context.Background(), Input{
		Symbol: "BTC-USDT-SWAP", Side: types.SideLong, SuggestedPrice: 100, Contracts: decimal.NewFromInt(1),
		Volatility: 0.001, Params: baseParams(),
	})
	require.NoError(t, err)
	assert.True(t, out.FullyFilled)
	require.Len(t, gw.placeCalls, 1)
	assert.Equal(t, exchange.OrderKindLimit, gw.placeCalls[0].Kind)
	assert.True(t, gw.placeCalls[0].PostOnly)
	assert.Less(t, gw.placeCalls[0].Price, 99.9)
}

func TestSubmit_StaleSignalPriceReplacedByReference(t *testing.T) {
	reg := marketdata.NewRegistry(nil, 5, nil)
	require.NoError(t, reg.UpsertTick("BTC-USDT-SWAP", types.Tick{TimestampMs: types.UnixMillis(time.Now()), Last: 100, Bid: 99.9, Ask: 100.1}))

	gw := &fakeGateway{placeResults: []exchange.OrderOutcome{{OrderID: "1", FullyFilled: true}}}
	exe := NewExecutor(gw, reg)

	// suggested price is 5% away from the 100 reference, well past the 1% staleness gate
	_, err := exe.Submit(context.Background(), Input{
		Symbol: "BTC-USDT-SWAP", Side: types.SideLong, SuggestedPrice: 105, Contracts: decimal.NewFromInt(1),
		Volatility: 0.01, Params: baseParams(),
	})
	require.NoError(t, err)
	// market order ignores price, so this only proves Submit didn't error on the stale path;
	// the deviation gate itself is exercised directly below.
	assert.Greater(t, deviationPct(105, 100), baseParams().StaleSignalPercent)
}

func TestSubmit_PriceOutOfBandRetriesOnceWithClampedPrice(t *testing.T) {
	reg := marketdata.NewRegistry(nil, 5, nil)
	require.NoError(t, reg.UpsertTick("BTC-USDT-SWAP", types.Tick{TimestampMs: types.UnixMillis(time.Now()), Last: 100, Bid: 99.9, Ask: 100.1}))

	gw := &fakeGateway{
		priceLimits: types.PriceLimits{MaxBuy: 100.5, MinSell: 99.5},
		placeErrs:   []error{exchange.NewAPIError(exchange.ErrCodePriceOutOfBand, "price out of band"), nil},
		placeResults: []exchange.OrderOutcome{
			{}, {OrderID: "2", FullyFilled: true},
		},
	}
	exe := NewExecutor(gw, reg)

	out, err := exe.Submit(context.Background(), Input{
		Symbol: "BTC-USDT-SWAP", Side: types.SideLong, SuggestedPrice: 100, Contracts: decimal.NewFromInt(1),
		Volatility: 0.01, Params: baseParams(),
	})
	require.NoError(t, err)
	assert.True(t, out.FullyFilled)
	require.Len(t, gw.placeCalls, 2)
}

func TestSubmit_UnfilledLimitFallsBackToMarketOnTimeout(t *testing.T) {
	reg := marketdata.NewRegistry(nil, 5, nil)
	require.NoError(t, reg.UpsertTick("BTC-USDT-SWAP", types.Tick{TimestampMs: types.UnixMillis(time.Now()), Last: 100, Bid: 99.9, Ask: 100.1}))
	reg.UpsertOrderBookTop("BTC-USDT-SWAP", types.OrderBookTop{TimestampMs: types.UnixMillis(time.Now()), BestBid: 99.9, BestAsk: 100.1})

	gw := &fakeGateway{
		placeResults: []exchange.OrderOutcome{
			{OrderID: "1"},                                 // resting limit, unfilled
			{OrderID: "2", FullyFilled: true, EffectivePrice: 100}, // market fallback
		},
		statusResults: map[string]exchange.OrderOutcome{"1": {OrderID: "1"}},
	}
	exe := NewExecutor(gw, reg)

	params := baseParams()
	params.ReplacementThresholdPercent = 99 // force the "moved away" branch -> straight to market

	out, err := exe.Submit(context.Background(), Input{
		Symbol: "BTC-USDT-SWAP", Side: types.SideLong, SuggestedPrice: 100, Contracts: decimal.NewFromInt(1),
		Volatility: 0.001, Params: params,
	})
	require.NoError(t, err)
	assert.True(t, out.FullyFilled)
	require.Len(t, gw.placeCalls, 2)
	assert.Equal(t, exchange.OrderKindMarket, gw.placeCalls[1].Kind)
	assert.Contains(t, gw.cancelCalls, "1")
}

func TestLimitOrderPrice_ClampsToBand(t *testing.T) {
	book := types.OrderBookTop{BestBid: 99.9, BestAsk: 100.1}
	limits := types.PriceLimits{MaxBuy: 99.0, MinSell: 101.0}

	buyPx := limitOrderPrice(types.SideLong, book, 0.0002, limits)
	assert.Equal(t, 99.0, buyPx)

	sellPx := limitOrderPrice(types.SideShort, book, 0.0002, limits)
	assert.Equal(t, 101.0, sellPx)
}

func TestMovedToward_LongVsShort(t *testing.T) {
	assert.InDelta(t, 1.0, movedToward(types.SideLong, 100, 99), 1e-9)
	assert.InDelta(t, -1.0, movedToward(types.SideLong, 100, 101), 1e-9)
	assert.InDelta(t, 1.0, movedToward(types.SideShort, 100, 101), 1e-9)
	assert.InDelta(t, -1.0, movedToward(types.SideShort, 100, 99), 1e-9)
}

func TestResolveLimitPrice_FallsBackToReferenceWhenBookTopMissing(t *testing.T) {
	reg := marketdata.NewRegistry(nil, 5, nil)
	gw := &fakeGateway{}
	exe := NewExecutor(gw, reg)

	px := exe.resolveLimitPrice(types.SideLong, "BTC-USDT-SWAP", 100, 0.02, types.PriceLimits{})
	assert.InDelta(t, 98.0, px, 1e-9)
}

func TestRemainingContracts_SubtractsFills(t *testing.T) {
	total := decimal.NewFromInt(10)
	status := exchange.OrderOutcome{Fills: []exchange.OrderFill{{Contracts: 4}}}
	assert.True(t, decimal.NewFromInt(6).Equal(remainingContracts(total, status)))
}
