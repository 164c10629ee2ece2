package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpscalp/engine/internal/exchange"
	"github.com/perpscalp/engine/internal/marketdata"
	"github.com/perpscalp/engine/internal/order"
	"github.com/perpscalp/engine/internal/position"
	"github.com/perpscalp/engine/internal/recovery"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/internal/risk"
	"github.com/perpscalp/engine/internal/signal"
	"github.com/perpscalp/engine/internal/telemetry"
	"github.com/perpscalp/engine/internal/tradelog"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

// fakeGateway implements exchange.Gateway with scripted order results,
// adapted from internal/order/executor_test.go's fixture of the same name.
type fakeGateway struct {
	instrument  types.Instrument
	positions   []types.ExchangePosition
	positionErr error

	placeCalls   []exchange.OrderRequest
	placeResults []exchange.OrderOutcome
	placeErrs    []error
}

func (f *fakeGateway) GetBalance(ctx context.Context) (float64, error) { return 0, nil }
func (f *fakeGateway) GetPositions(ctx context.Context) ([]types.ExchangePosition, error) {
	return f.positions, f.positionErr
}
func (f *fakeGateway) GetTicker(ctx context.Context, symbol string) (types.Tick, error) {
	return types.Tick{}, nil
}
func (f *fakeGateway) GetCandles(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Candle, error) {
	return nil, nil
}
func (f *fakeGateway) GetPriceLimits(ctx context.Context, symbol string) (types.PriceLimits, error) {
	return types.PriceLimits{}, nil
}
func (f *fakeGateway) GetInstrument(ctx context.Context, symbol string) (types.Instrument, error) {
	return f.instrument, nil
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
	return exchange.OrderOutcome{}, nil
}
func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeGateway) AmendOrder(ctx context.Context, symbol, orderID string, newPrice, newSize *float64) error {
	return nil
}
func (f *fakeGateway) SubscribeWS(ctx context.Context, channels exchange.WSChannels) (<-chan exchange.WSEvent, error) {
	return nil, nil
}
func (f *fakeGateway) RequestReconnect(reason string) {}

// newTestOrchestrator builds an Orchestrator directly (no config.Load, no
// Run) so exit-evaluation and drift-reconciliation logic can be driven
// straight from the test, bypassing the websocket/cycle machinery.
func newTestOrchestrator(t *testing.T, gw *fakeGateway) *Orchestrator {
	t.Helper()
	reg := marketdata.NewRegistry(restTickerAdapter{gateway: gw}, 4, gw)
	reg.SetWSConnected(true)

	tw, err := tradelog.NewWriter(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tw.Close() })

	logger, err := telemetry.New(t.TempDir(), "test", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })

	return &Orchestrator{
		gateway:     gw,
		registry:    reg,
		positions:   position.NewRegistry(),
		risk:        risk.NewManager(),
		executor:    order.NewExecutor(gw, reg),
		generator:   signal.NewGenerator(),
		provider:    config.NewProvider(config.RawParams{}),
		logger:      logger,
		health:      telemetry.NewHealthChecker(),
		recoverer:   recovery.New(recovery.DefaultConfig()),
		tradelog:    tw,
		symbols:     nil,
		detectors:   make(map[string]*regime.Detector),
		lastRegime:  make(map[string]regime.Signal),
		instruments: make(map[string]types.Instrument),

		cycleInterval:      defaultCycleInterval,
		slowCycleThreshold: slowCycleThreshold,
	}
}

// seedReferencePrice makes the Market Data Registry report price as the
// current tick so the Order Executor's Submit can resolve a reference
// price without hitting the REST fallback path.
func seedReferencePrice(t *testing.T, o *Orchestrator, symbol string, price float64) {
	t.Helper()
	require.NoError(t, o.registry.UpsertTick(symbol, types.Tick{
		TimestampMs: types.UnixMillis(time.Now()), Last: price, Bid: price - 0.01, Ask: price + 0.01,
	}))
}

func flatFeeInstrument() types.Instrument {
	return types.Instrument{Symbol: "BTC-USDT-SWAP", CtVal: 1, LotSize: 1, TickSize: 0.01, MakerFee: 0, TakerFee: 0}
}

func TestEvaluatePositionExit_TakeProfitClosesFullPosition(t *testing.T) {
	gw := &fakeGateway{
		instrument:   flatFeeInstrument(),
		placeResults: []exchange.OrderOutcome{{OrderID: "1", FullyFilled: true, EffectivePrice: 105}},
	}
	o := newTestOrchestrator(t, gw)
	symbol := "BTC-USDT-SWAP"
	seedReferencePrice(t, o, symbol, 105)

	pos := position.Position{
		Symbol: symbol, Side: types.SideLong, EntryPrice: decimal.NewFromInt(100),
		Contracts: decimal.NewFromInt(10), Leverage: 1, MarginUsed: decimal.NewFromInt(100),
		OpenedAt: time.Now().Add(-time.Hour),
	}
	meta := position.Metadata{PeakPrice: pos.EntryPrice}
	require.NoError(t, o.positions.Register(pos, meta))

	params := config.ParameterRecord{
		TPPercent: 2, SLPercent: 50, LossCutPercent: 50, MinHoldingMinutes: 0,
		TrailingMinProfitToActivate: 9999, // keep the trailing controller inactive this tick
	}

	o.evaluatePositionExit(context.Background(), symbol, pos, meta, decimal.NewFromInt(105), false, regime.Signal{}, params)

	require.Len(t, gw.placeCalls, 1)
	assert.Equal(t, exchange.OrderKindMarket, gw.placeCalls[0].Kind)
	assert.True(t, gw.placeCalls[0].ReduceOnly)
	assert.Equal(t, types.SideShort, gw.placeCalls[0].Side)

	_, _, stillOpen := o.positions.Get(symbol)
	assert.False(t, stillOpen, "full close should remove the position")
}

func TestEvaluatePositionExit_CriticalLossCutBypassesMinHolding(t *testing.T) {
	gw := &fakeGateway{
		instrument:   flatFeeInstrument(),
		placeResults: []exchange.OrderOutcome{{OrderID: "1", FullyFilled: true, EffectivePrice: 105}},
	}
	o := newTestOrchestrator(t, gw)
	symbol := "ETH-USDT-SWAP"
	seedReferencePrice(t, o, symbol, 105)

	pos := position.Position{
		Symbol: symbol, Side: types.SideShort, EntryPrice: decimal.NewFromInt(100),
		Contracts: decimal.NewFromInt(10), Leverage: 1, MarginUsed: decimal.NewFromInt(100),
		OpenedAt: time.Now(), // fresh position, well short of min_holding
	}
	meta := position.Metadata{PeakPrice: pos.EntryPrice}
	require.NoError(t, o.positions.Register(pos, meta))

	params := config.ParameterRecord{
		TPPercent: 50, SLPercent: 50, LossCutPercent: 2, MinHoldingMinutes: 10,
		TrailingMinProfitToActivate: 9999,
	}

	// short position, price moved against it from 100 to 105: -50% net pnl,
	// far past critical_loss_cut's -4% floor (LossCutPercent * 2).
	o.evaluatePositionExit(context.Background(), symbol, pos, meta, decimal.NewFromInt(105), false, regime.Signal{}, params)

	require.Len(t, gw.placeCalls, 1, "critical_loss_cut must fire even though min_holding has not elapsed")
	_, _, stillOpen := o.positions.Get(symbol)
	assert.False(t, stillOpen)
}

func TestEvaluatePositionExit_PartialTakeProfitKeepsPositionOpen(t *testing.T) {
	gw := &fakeGateway{
		instrument:   flatFeeInstrument(),
		placeResults: []exchange.OrderOutcome{{OrderID: "1", FullyFilled: true, EffectivePrice: 100.2}},
	}
	o := newTestOrchestrator(t, gw)
	symbol := "SOL-USDT-SWAP"
	seedReferencePrice(t, o, symbol, 100.2)

	pos := position.Position{
		Symbol: symbol, Side: types.SideLong, EntryPrice: decimal.NewFromInt(100),
		Contracts: decimal.NewFromInt(10), Leverage: 1, MarginUsed: decimal.NewFromInt(100),
		OpenedAt: time.Now().Add(-time.Hour),
	}
	meta := position.Metadata{PeakPrice: pos.EntryPrice, PartialTPTaken: false}
	require.NoError(t, o.positions.Register(pos, meta))

	// TP/SL set far away from the 2% move so only partial_take_profit (the
	// [1.5%, 3.0%) band) can fire.
	params := config.ParameterRecord{
		TPPercent: 10, SLPercent: 10, LossCutPercent: 50, MinHoldingMinutes: 0,
		TrailingMinProfitToActivate: 9999,
	}

	o.evaluatePositionExit(context.Background(), symbol, pos, meta, decimal.NewFromFloat(100.2), false, regime.Signal{}, params)

	require.Len(t, gw.placeCalls, 1)
	assert.Equal(t, exchange.OrderKindMarket, gw.placeCalls[0].Kind)
	assert.InDelta(t, 5.0, gw.placeCalls[0].Contracts, 1e-9, "partial close should submit half the contracts")

	remaining, remainingMeta, stillOpen := o.positions.Get(symbol)
	require.True(t, stillOpen, "a partial close never removes the position")
	assert.InDelta(t, 5.0, remaining.Contracts.InexactFloat64(), 1e-9)
	assert.True(t, remainingMeta.PartialTPTaken)
}

func TestEvaluatePositionExit_FallbackPriceAtEntryNoFalseLossCut(t *testing.T) {
	gw := &fakeGateway{instrument: flatFeeInstrument()}
	o := newTestOrchestrator(t, gw)
	symbol := "XRP-USDT-SWAP"

	pos := position.Position{
		Symbol: symbol, Side: types.SideLong, EntryPrice: decimal.NewFromInt(100),
		Contracts: decimal.NewFromInt(10), Leverage: 5, MarginUsed: decimal.NewFromInt(100),
		OpenedAt: time.Now().Add(-time.Hour),
	}
	meta := position.Metadata{PeakPrice: pos.EntryPrice}
	require.NoError(t, o.positions.Register(pos, meta))

	params := config.ParameterRecord{
		TPPercent: 2, SLPercent: 2, LossCutPercent: 1, MinHoldingMinutes: 0, MaxHoldingMinutes: 99999,
		TrailingMinProfitToActivate: 9999,
	}

	// priceIsFallback=true with price==entry: fees must be excluded so the
	// leveraged fee deduction alone never masquerades as a loss-cut trigger.
	o.evaluatePositionExit(context.Background(), symbol, pos, meta, pos.EntryPrice, true, regime.Signal{}, params)

	assert.Empty(t, gw.placeCalls, "a flat fallback price must never trigger a loss-cut exit")
	_, _, stillOpen := o.positions.Get(symbol)
	assert.True(t, stillOpen)
}

func TestClosePosition_AlwaysSubmitsMarketOrder(t *testing.T) {
	gw := &fakeGateway{
		instrument:   flatFeeInstrument(),
		placeResults: []exchange.OrderOutcome{{OrderID: "1", FullyFilled: true, EffectivePrice: 101}},
	}
	o := newTestOrchestrator(t, gw)
	symbol := "BTC-USDT-SWAP"
	seedReferencePrice(t, o, symbol, 101)

	pos := position.Position{
		Symbol: symbol, Side: types.SideLong, EntryPrice: decimal.NewFromInt(100),
		Contracts: decimal.NewFromInt(1), Leverage: 1, MarginUsed: decimal.NewFromInt(100),
		OpenedAt: time.Now().Add(-time.Hour),
	}
	meta := position.Metadata{PeakPrice: pos.EntryPrice, RegimeAtEntry: regime.Trending}
	require.NoError(t, o.positions.Register(pos, meta))

	// a tiny LimitOffsetPercent / low MarketOrderVolatilityPct combination
	// would normally steer the executor toward a post-only limit order —
	// forceMarketVolatility must override that for every close.
	params := config.ParameterRecord{LimitOffsetPercent: 0.02, MarketOrderVolatilityPct: 0.1}

	o.closePosition(context.Background(), symbol, pos, meta, 1.0, "take_profit", decimal.NewFromInt(101), params)

	require.Len(t, gw.placeCalls, 1)
	assert.Equal(t, exchange.OrderKindMarket, gw.placeCalls[0].Kind)
}

func TestReconcileDrift_AddsUnregisteredExchangePosition(t *testing.T) {
	symbol := "DOGE-USDT-SWAP"
	gw := &fakeGateway{
		positions: []types.ExchangePosition{
			{Symbol: symbol, Side: types.SideLong, Size: 100, AvgEntry: 0.1, Leverage: 5, Margin: 10},
		},
	}
	o := newTestOrchestrator(t, gw)
	seedReferencePrice(t, o, symbol, 0.1)

	o.reconcileDrift(context.Background())

	_, meta, ok := o.positions.Get(symbol)
	require.True(t, ok, "an exchange-reported position unknown to the registry should be drift-added")
	assert.Equal(t, position.SourceDriftAdd, meta.Source)
}

func TestReconcileDrift_ClosesPositionMissingFromExchange(t *testing.T) {
	symbol := "ADA-USDT-SWAP"
	gw := &fakeGateway{positions: nil}
	o := newTestOrchestrator(t, gw)

	pos := position.Position{
		Symbol: symbol, Side: types.SideLong, EntryPrice: decimal.NewFromFloat(0.5),
		Contracts: decimal.NewFromInt(100), Leverage: 1, MarginUsed: decimal.NewFromInt(10),
		OpenedAt: time.Now(),
	}
	require.NoError(t, o.positions.Register(pos, position.Metadata{}))

	o.reconcileDrift(context.Background())

	_, _, ok := o.positions.Get(symbol)
	assert.False(t, ok, "a position the exchange no longer reports must be closed locally")
}
