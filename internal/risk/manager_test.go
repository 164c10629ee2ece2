package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engineerrors "github.com/perpscalp/engine/internal/errors"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

func smallInstrument() types.Instrument {
	return types.Instrument{Symbol: "BTC-USDT-SWAP", CtVal: 0.01, LotSize: 0.01}
}

func TestClassifyBalance_Tiers(t *testing.T) {
	assert.Equal(t, ProfileSmall, ClassifyBalance(decimal.NewFromInt(500)))
	assert.Equal(t, ProfileMedium, ClassifyBalance(decimal.NewFromInt(5000)))
	assert.Equal(t, ProfileLarge, ClassifyBalance(decimal.NewFromInt(50000)))
}

func TestSizePosition_ScalesWithStrengthAndRegime(t *testing.T) {
	weak := config.ParameterRecord{RegimeSizeMultiplier: 1.0}
	strong := config.ParameterRecord{RegimeSizeMultiplier: 1.0}

	_, weakNotional := SizePosition(decimal.NewFromInt(5000), 0.1, decimal.NewFromInt(100), smallInstrument(), weak)
	_, strongNotional := SizePosition(decimal.NewFromInt(5000), 0.9, decimal.NewFromInt(100), smallInstrument(), strong)

	assert.True(t, strongNotional.GreaterThan(weakNotional), "a stronger candidate should size larger")
}

func TestSizePosition_RoundsDownToLotSize(t *testing.T) {
	instr := types.Instrument{Symbol: "BTC-USDT-SWAP", CtVal: 1, LotSize: 0.1}
	contracts, _ := SizePosition(decimal.NewFromInt(1000), 0.5, decimal.NewFromInt(97), instr, config.ParameterRecord{RegimeSizeMultiplier: 1.0})
	rem := contracts.Mod(decimal.NewFromFloat(0.1))
	assert.True(t, rem.IsZero() || rem.Abs().LessThan(decimal.NewFromFloat(0.0001)))
}

func TestAdaptiveLeverage_ClampsToBounds(t *testing.T) {
	lev := AdaptiveLeverage(0.95, regime.Trending, 0.001)
	assert.LessOrEqual(t, lev, int64(30))
	assert.GreaterOrEqual(t, lev, int64(3))
}

func TestAdaptiveLeverage_ChoppyAndHighVolReducesLeverage(t *testing.T) {
	calm := AdaptiveLeverage(0.5, regime.Trending, 0.001)
	choppy := AdaptiveLeverage(0.5, regime.Choppy, 0.02)
	assert.Less(t, choppy, calm)
}

func TestLeverageTracker_PinsAcrossAdditions(t *testing.T) {
	tr := NewLeverageTracker()
	first := tr.LeverageFor("BTC-USDT-SWAP", 0.9, regime.Trending, 0.001)
	second := tr.LeverageFor("BTC-USDT-SWAP", 0.1, regime.Choppy, 0.5)
	assert.Equal(t, first, second, "an addition to an existing position must inherit its pinned leverage")

	tr.Release("BTC-USDT-SWAP")
	third := tr.LeverageFor("BTC-USDT-SWAP", 0.1, regime.Choppy, 0.5)
	assert.NotEqual(t, first, third, "a fresh position after release should recompute leverage")
}

func baseInput() SizingInput {
	return SizingInput{
		Symbol: "BTC-USDT-SWAP", Side: types.SideLong, Strength: 0.8,
		Price: decimal.NewFromInt(100), Equity: decimal.NewFromInt(10000),
		MarginUsedTotal: decimal.Zero, OpenPositionCount: 0,
		Instrument: smallInstrument(), Regime: regime.Trending, Volatility: 0.001,
		Params: config.ParameterRecord{RegimeSizeMultiplier: 1.0},
	}
}

func TestManagerEvaluate_AcceptsWithinGates(t *testing.T) {
	m := NewManager()
	decision, err := m.Evaluate(baseInput())
	require.NoError(t, err)
	assert.True(t, decision.Contracts.GreaterThan(decimal.Zero))
	assert.True(t, decision.MarginUsed.GreaterThan(decimal.Zero))
}

func TestManagerEvaluate_RejectsSymbolAlreadyOpen(t *testing.T) {
	m := NewManager()
	in := baseInput()
	in.SymbolAlreadyOpen = true
	_, err := m.Evaluate(in)
	require.Error(t, err)
	assert.Equal(t, "symbol_position_cap", engineerrors.ReasonOf(err))
}

func TestManagerEvaluate_RejectsGlobalPositionCap(t *testing.T) {
	m := NewManager()
	in := baseInput()
	in.OpenPositionCount = 999
	_, err := m.Evaluate(in)
	require.Error(t, err)
	assert.Equal(t, "global_position_cap", engineerrors.ReasonOf(err))
}

func TestManagerEvaluate_RejectsWhenPortfolioMarginWouldBeExceeded(t *testing.T) {
	m := NewManager()
	in := baseInput()
	in.MarginUsedTotal = decimal.NewFromInt(9000) // already past the 60% cap (6000) on 10k equity
	_, err := m.Evaluate(in)
	require.Error(t, err)
	assert.Equal(t, "max_portfolio_margin", engineerrors.ReasonOf(err))
}

func TestManagerEvaluate_RejectsZeroPrice(t *testing.T) {
	m := NewManager()
	in := baseInput()
	in.Price = decimal.Zero
	_, err := m.Evaluate(in)
	require.Error(t, err)
	assert.Equal(t, "invalid_price", engineerrors.ReasonOf(err))
}
