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

func candleRun(n int, start, step float64) []types.Candle {
	candles := make([]types.Candle, n)
	price := start
	for i := range candles {
		candles[i] = types.Candle{Close: price, Open: price, High: price + 1, Low: price - 1, Volume: 10}
		price += step
	}
	return candles
}

func bullishSnapshot() marketdata.IndicatorSnapshot {
	return marketdata.IndicatorSnapshot{
		EMAFast: 105, EMASlow: 100, RSI: 55,
		MACD: marketdata.MACDValues{Hist: 2},
		BB:   marketdata.BollingerValues{Upper: 110, Middle: 100, Lower: 90},
		ADX:  marketdata.ADXValues{Value: 30, PlusDI: 35, MinusDI: 10, Trend: "bullish"},
	}
}

func TestGenerate_InsufficientCandlesReturnsNothing(t *testing.T) {
	g := NewGenerator()
	out := g.Generate("BTC-USDT-SWAP", candleRun(5, 100, 1), bullishSnapshot(), regime.Signal{Type: regime.Trending}, config.ParameterRecord{MinSignalStrength: 0.1, ADXThreshold: 10})
	assert.Nil(t, out)
}

func TestGenerate_StrongUptrendProducesLongCandidate(t *testing.T) {
	g := NewGenerator()
	snap := bullishSnapshot()
	reg := regime.Signal{Type: regime.Trending}
	params := config.ParameterRecord{MinSignalStrength: 0.1, ADXThreshold: 10}

	out := g.Generate("BTC-USDT-SWAP", candleRun(20, 100, 1), snap, reg, params)
	require.Len(t, out, 1)
	assert.Equal(t, types.SideLong, out[0].Side)
	assert.Contains(t, out[0].FiltersPassed, "ma_crossover")
}

func TestGenerate_CounterTrendBlockDropsShortKeepsLong(t *testing.T) {
	g := NewGenerator()
	// Bearish MACD/Bollinger would normally vote short, but ADX=30 with a
	// bullish trend read should drop the short side entirely while still
	// allowing a long if one independently qualifies.
	snap := marketdata.IndicatorSnapshot{
		EMAFast: 105, EMASlow: 100, RSI: 20,
		MACD: marketdata.MACDValues{Hist: -3},
		BB:   marketdata.BollingerValues{Upper: 110, Middle: 100, Lower: 90},
		ADX:  marketdata.ADXValues{Value: 30, PlusDI: 35, MinusDI: 10, Trend: "bullish"},
	}
	reg := regime.Signal{Type: regime.Trending}
	params := config.ParameterRecord{MinSignalStrength: 0.01, ADXThreshold: 10}

	out := g.Generate("BTC-USDT-SWAP", candleRun(20, 100, 1), snap, reg, params)
	for _, c := range out {
		assert.NotEqual(t, types.SideShort, c.Side, "short candidate should have been counter-trend blocked")
	}
}

func TestGenerate_BelowMinStrengthRejected(t *testing.T) {
	g := NewGenerator()
	snap := marketdata.IndicatorSnapshot{EMAFast: 100.01, EMASlow: 100, RSI: 50, ADX: marketdata.ADXValues{Value: 30}}
	reg := regime.Signal{Type: regime.Ranging}
	params := config.ParameterRecord{MinSignalStrength: 0.99, ADXThreshold: 10}

	out := g.Generate("BTC-USDT-SWAP", candleRun(20, 100, 0.01), snap, reg, params)
	assert.Empty(t, out)
}

func TestGenerate_BelowADXThresholdRejected(t *testing.T) {
	g := NewGenerator()
	snap := bullishSnapshot()
	snap.ADX.Value = 5
	reg := regime.Signal{Type: regime.Trending}
	params := config.ParameterRecord{MinSignalStrength: 0.01, ADXThreshold: 20}

	out := g.Generate("BTC-USDT-SWAP", candleRun(20, 100, 1), snap, reg, params)
	assert.Empty(t, out)
}

func TestAggregate_MaxStrengthAcrossContributingRules(t *testing.T) {
	votes := []ruleVote{
		{name: "a", side: types.SideLong, strength: 0.3, ok: true},
		{name: "b", side: types.SideLong, strength: 0.8, ok: true},
		{name: "c", side: types.SideShort, strength: 0.9, ok: true},
	}
	agg := aggregate(votes, types.SideLong)
	require.NotNil(t, agg)
	assert.Equal(t, 0.8, agg.strength)
	assert.ElementsMatch(t, []string{"a", "b"}, agg.names)
}

func TestAggregate_NoVotesForSideReturnsNil(t *testing.T) {
	votes := []ruleVote{{name: "a", side: types.SideShort, strength: 0.5, ok: true}}
	assert.Nil(t, aggregate(votes, types.SideLong))
}
