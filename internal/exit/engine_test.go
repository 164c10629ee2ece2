package exit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/perpscalp/engine/internal/position"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

func baseParams() config.ParameterRecord {
	return config.ParameterRecord{
		TPPercent: 1.0, SLPercent: 0.8, MaxHoldingMinutes: 60, MinHoldingMinutes: 3,
		PHThresholdPercent: 0.3, PHMinAbsolute: 0.15, PHTimeLimitSeconds: 20,
		LossCutPercent: 1.0, TrailingInitial: 0.003, TrailingMax: 0.01, TrailingMinProfitToActivate: 0.5,
	}
}

func baseInput(side types.Side, entry, current float64, held time.Duration) Input {
	return Input{
		Position: position.Position{
			Symbol: "BTC-USDT-SWAP", Side: side, EntryPrice: decimal.NewFromFloat(entry),
			Contracts: decimal.NewFromInt(1), Leverage: 5, MarginUsed: decimal.NewFromInt(20),
		},
		Metadata:       position.Metadata{},
		CurrentPrice:   decimal.NewFromFloat(current),
		TimeInPosition: held,
		Params:         baseParams(),
		Regime:         regime.Ranging,
		Instrument:     types.Instrument{Symbol: "BTC-USDT-SWAP", CtVal: 1, MakerFee: 0.0002, TakerFee: 0.0005},
	}
}

func TestEvaluate_CriticalLossCutBypassesMinHolding(t *testing.T) {
	in := baseInput(types.SideLong, 100, 97.9, 1*time.Second)
	out := Evaluate(in)
	assert.Equal(t, ActionClose, out.Action)
	assert.Equal(t, "critical_loss_cut", out.Reason)
}

func TestEvaluate_StandardLossCutRequiresMinHolding(t *testing.T) {
	in := baseInput(types.SideLong, 100, 99.83, 1*time.Second)
	out := Evaluate(in)
	assert.NotEqual(t, "standard_loss_cut", out.Reason, "must not fire before min_holding elapses")

	in2 := baseInput(types.SideLong, 100, 99.83, 5*time.Minute)
	out2 := Evaluate(in2)
	assert.Equal(t, ActionClose, out2.Action)
	assert.Equal(t, "standard_loss_cut", out2.Reason)
}

func TestEvaluate_MaxHoldingTimeoutOnlyForNonLosingPositions(t *testing.T) {
	losing := baseInput(types.SideLong, 100, 99.9, 90*time.Minute)
	losing.Params.LossCutPercent = 100 // suppress loss cut paths to isolate max-holding behavior
	out := Evaluate(losing)
	assert.NotEqual(t, "max_holding_timeout", out.Reason, "a losing position must not be force-closed on timeout")

	winning := baseInput(types.SideLong, 100, 100.1, 90*time.Minute)
	out2 := Evaluate(winning)
	assert.Equal(t, "max_holding_timeout", out2.Reason)
}

func TestEvaluate_TrendContinuationExtendsMaxHolding(t *testing.T) {
	in := baseInput(types.SideLong, 100, 100.2, 90*time.Minute)
	in.Regime = regime.Trending
	in.TrendStrength = 0.9
	out := Evaluate(in)
	assert.NotEqual(t, "max_holding_timeout", out.Reason, "strong trend continuation should extend past max_holding")
}

func TestEvaluate_PartialTakeProfitResetsPeakOnRemainder(t *testing.T) {
	in := baseInput(types.SideLong, 100, 100.5, 5*time.Minute)
	in.Params.TPPercent = 100 // keep TP from intervening first
	out := Evaluate(in)
	assert.Equal(t, ActionPartialClose, out.Action)
	assert.Equal(t, "partial_take_profit", out.Reason)
	assert.InDelta(t, partialTPFraction, out.ClosePct, 0.0001)
	assert.Less(t, out.NewPeakPct, out.PnL.NetPct, "peak must reset lower on the remaining position after a partial close")
}

func TestEvaluate_PartialTakeProfitOnlyFiresOnce(t *testing.T) {
	in := baseInput(types.SideLong, 100, 100.5, 5*time.Minute)
	in.Params.TPPercent = 100
	in.Metadata.PartialTPTaken = true
	out := Evaluate(in)
	assert.NotEqual(t, "partial_take_profit", out.Reason)
}

func TestEvaluate_FallbackPriceNoFalseLossCut(t *testing.T) {
	in := baseInput(types.SideLong, 100, 100, 1*time.Second)
	in.PriceIsFallback = true
	out := Evaluate(in)
	assert.Equal(t, ActionNone, out.Action)
	assert.Equal(t, 0.0, out.PnL.NetPct, "no-fee fallback at exit==entry must not manufacture a loss")
}

func TestEvaluate_MinProfitGateBlocksOptimisticExitsEarly(t *testing.T) {
	in := baseInput(types.SideLong, 100, 99.95, 2*time.Second)
	in.ReversalScore = 0.9
	in.OrderFlowConfirmsReversal = true
	out := Evaluate(in)
	assert.NotEqual(t, "reversal_detected", out.Reason, "a fresh small loser within the grace window must not take an optimistic exit")
}

func TestEvaluate_EmergencyFloorBypassesMinHolding(t *testing.T) {
	in := baseInput(types.SideLong, 100, 95.5, 1*time.Second)
	in.Regime = regime.Choppy
	in.Params.LossCutPercent = 100 // isolate the emergency floor from the loss-cut steps
	out := Evaluate(in)
	assert.Equal(t, ActionClose, out.Action)
	assert.Equal(t, "emergency_loss_protection", out.Reason)
}

func TestEvaluate_NoneWhenNothingMatchesAndBelowMinHolding(t *testing.T) {
	in := baseInput(types.SideLong, 100, 100.1, 1*time.Second)
	out := Evaluate(in)
	assert.Equal(t, ActionNone, out.Action)
}

func TestEvaluate_ShortSideUsesMirroredSign(t *testing.T) {
	in := baseInput(types.SideShort, 100, 103, 5*time.Minute)
	out := Evaluate(in)
	assert.True(t, out.PnL.UnrealizedUSD.IsNegative(), "short losing when price rises")
}
