package exit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/perpscalp/engine/pkg/types"
)

func TestComputePnL_LongProfit(t *testing.T) {
	res := ComputePnL(PnLInput{
		Side: types.SideLong, EntryPrice: decimal.NewFromInt(100), ExitPrice: decimal.NewFromInt(105),
		Contracts: decimal.NewFromInt(1), CtVal: decimal.NewFromInt(1), MarginUsed: decimal.NewFromInt(20),
		Leverage: 5, MakerFee: 0.0002, TakerFee: 0.0005, IncludeFees: true,
	})
	assert.True(t, res.UnrealizedUSD.Equal(decimal.NewFromInt(5)))
	assert.InDelta(t, 25.0, res.GrossPct, 0.0001)
	assert.InDelta(t, 25.0-0.35, res.NetPct, 0.0001)
}

func TestComputePnL_ShortNeverUsesLongMath(t *testing.T) {
	long := ComputePnL(PnLInput{
		Side: types.SideLong, EntryPrice: decimal.NewFromInt(100), ExitPrice: decimal.NewFromInt(90),
		Contracts: decimal.NewFromInt(1), CtVal: decimal.NewFromInt(1), MarginUsed: decimal.NewFromInt(10),
	})
	short := ComputePnL(PnLInput{
		Side: types.SideShort, EntryPrice: decimal.NewFromInt(100), ExitPrice: decimal.NewFromInt(90),
		Contracts: decimal.NewFromInt(1), CtVal: decimal.NewFromInt(1), MarginUsed: decimal.NewFromInt(10),
	})
	assert.True(t, long.UnrealizedUSD.IsNegative(), "long losing when price drops")
	assert.True(t, short.UnrealizedUSD.IsPositive(), "short profiting when price drops")
	assert.True(t, long.UnrealizedUSD.Equal(short.UnrealizedUSD.Neg()))
}

func TestComputePnL_ExcludeFeesMatchesGross(t *testing.T) {
	res := ComputePnL(PnLInput{
		Side: types.SideLong, EntryPrice: decimal.NewFromInt(100), ExitPrice: decimal.NewFromInt(100),
		Contracts: decimal.NewFromInt(1), CtVal: decimal.NewFromInt(1), MarginUsed: decimal.NewFromInt(10),
		Leverage: 10, MakerFee: 0.001, TakerFee: 0.001, IncludeFees: false,
	})
	assert.Equal(t, 0.0, res.GrossPct)
	assert.Equal(t, res.GrossPct, res.NetPct, "fallback price==entry must not produce a spurious fee artifact")
}

func TestComputePnL_ZeroMarginDoesNotPanic(t *testing.T) {
	res := ComputePnL(PnLInput{
		Side: types.SideLong, EntryPrice: decimal.NewFromInt(100), ExitPrice: decimal.NewFromInt(110),
		Contracts: decimal.NewFromInt(1), CtVal: decimal.NewFromInt(1), MarginUsed: decimal.Zero,
	})
	assert.Equal(t, 0.0, res.GrossPct)
}
