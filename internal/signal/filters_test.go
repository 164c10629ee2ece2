package signal

import (
	"testing"

	"github.com/perpscalp/engine/internal/marketdata"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseCandidate() Candidate {
	return Candidate{
		Symbol: "BTC-USDT-SWAP", Side: types.SideLong, Strength: 0.8, Confidence: 0.7,
		Regime: regime.Ranging, SuggestedPrice: 100,
		Indicators: marketdata.IndicatorSnapshot{ADX: marketdata.ADXValues{Value: 25}},
	}
}

func baseContext() FilterContext {
	return FilterContext{
		Book:      types.OrderBookTop{BestBid: 99.9, BestAsk: 100.1, BidSize: 100, AskSize: 100},
		Volume24h: 1_000_000,
		Trend5m:   "bullish", Trend1h: "bullish",
	}
}

func TestEvaluate_AllAllowProducesFullPassListAndUnitMultiplier(t *testing.T) {
	pass, mult, passed, reason := Evaluate(baseCandidate(), baseContext(), config.ParameterRecord{ADXThreshold: 10})
	assert.True(t, pass)
	assert.Equal(t, 1.0, mult)
	assert.Empty(t, reason)
	assert.Len(t, passed, len(DefaultPipeline()))
}

func TestEvaluate_BlockIsTerminal(t *testing.T) {
	c := baseCandidate()
	c.Indicators.ADX.Value = 2
	pass, mult, passed, reason := Evaluate(c, baseContext(), config.ParameterRecord{ADXThreshold: 10})
	assert.False(t, pass)
	assert.Equal(t, 0.0, mult)
	assert.Empty(t, passed)
	assert.Contains(t, reason, "adx_floor")
}

func TestCorrelationFilter_BlocksPastMaxCorrelatedPositions(t *testing.T) {
	ctx := baseContext()
	ctx.CorrelatedOpen = []ExposureCorrelation{{Symbol: "ETH-USDT-SWAP", Correlation: 0.9}, {Symbol: "SOL-USDT-SWAP", Correlation: -0.85}}
	v := correlationFilter(baseCandidate(), ctx, config.ParameterRecord{})
	assert.True(t, v.Blocked)
}

func TestCorrelationFilter_WarnsButAllowsBelowCap(t *testing.T) {
	ctx := baseContext()
	ctx.CorrelatedOpen = []ExposureCorrelation{{Symbol: "ETH-USDT-SWAP", Correlation: 0.9}}
	v := correlationFilter(baseCandidate(), ctx, config.ParameterRecord{})
	assert.False(t, v.Blocked)
	assert.Less(t, v.Multiplier, 1.0)
}

func TestLiquidityFilter_BlocksThinBookAndThinVolume(t *testing.T) {
	ctx := baseContext()
	ctx.Book.BidSize = 0.001
	ctx.Volume24h = 10
	v := liquidityFilter(baseCandidate(), ctx, config.ParameterRecord{})
	assert.True(t, v.Blocked)
}

func TestLiquidityFilter_FallsBackToVolumeWhenBookThin(t *testing.T) {
	ctx := baseContext()
	ctx.Book.BidSize = 0.001
	v := liquidityFilter(baseCandidate(), ctx, config.ParameterRecord{})
	assert.False(t, v.Blocked)
	assert.Less(t, v.Multiplier, 1.0)
}

func TestFundingRateFilter_BlocksLongIntoExcessivePositiveFunding(t *testing.T) {
	ctx := baseContext()
	ctx.FundingRate = 0.01
	v := fundingRateFilter(baseCandidate(), ctx, config.ParameterRecord{})
	assert.True(t, v.Blocked)
}

func TestFundingRateFilter_AllowsShortIntoExcessivePositiveFunding(t *testing.T) {
	c := baseCandidate()
	c.Side = types.SideShort
	ctx := baseContext()
	ctx.FundingRate = 0.01
	v := fundingRateFilter(c, ctx, config.ParameterRecord{})
	assert.False(t, v.Blocked)
}

func TestMultiTimeframeFilter_SoftensWhenSeniorTimeframeOpposes(t *testing.T) {
	ctx := baseContext()
	ctx.Trend1h = "bearish"
	v := multiTimeframeFilter(baseCandidate(), ctx, config.ParameterRecord{})
	assert.False(t, v.Blocked)
	assert.Equal(t, 0.75, v.Multiplier)
}

func TestMultiTimeframeFilter_NeutralNeitherBlocksNorBonuses(t *testing.T) {
	ctx := baseContext()
	ctx.Trend1h = "neutral"
	ctx.Trend5m = "neutral"
	v := multiTimeframeFilter(baseCandidate(), ctx, config.ParameterRecord{})
	assert.False(t, v.Blocked)
	assert.Equal(t, 1.0, v.Multiplier)
}

func TestCounterTrendFilter_BlocksShortInStrongBullishTrend(t *testing.T) {
	c := baseCandidate()
	c.Side = types.SideShort
	c.Regime = regime.Trending
	c.Indicators.ADX = marketdata.ADXValues{Value: 30, Trend: "bullish"}
	v := counterTrendFilter(c, baseContext(), config.ParameterRecord{})
	assert.True(t, v.Blocked)
}

func TestCounterTrendFilter_AllowsLongInStrongBullishTrend(t *testing.T) {
	c := baseCandidate()
	c.Side = types.SideLong
	c.Regime = regime.Trending
	c.Indicators.ADX = marketdata.ADXValues{Value: 30, Trend: "bullish"}
	v := counterTrendFilter(c, baseContext(), config.ParameterRecord{})
	assert.False(t, v.Blocked)
}

func TestPivotProximityFilter_BonusesNearPivot(t *testing.T) {
	ctx := baseContext()
	ctx.PivotPrice = 100.1
	ctx.PivotProximityPct = 0.01
	v := pivotProximityFilter(baseCandidate(), ctx, config.ParameterRecord{})
	assert.False(t, v.Blocked)
	assert.Greater(t, v.Multiplier, 1.0)
}

func TestVolumeProfileFilter_NeverBlocks(t *testing.T) {
	ctx := baseContext()
	ctx.VolumeNodePrice = 500
	ctx.VolumeNodeWidth = 1
	v := volumeProfileFilter(baseCandidate(), ctx, config.ParameterRecord{})
	require.False(t, v.Blocked)
	assert.Equal(t, 1.0, v.Multiplier)
}
