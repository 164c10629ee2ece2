package exit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpscalp/engine/internal/position"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

// Code-level failsafe thresholds the spec's Parameter Record data model
// doesn't name (it enumerates tp/sl/holding/trailing/signal fields only) —
// these mirror the regime package's own code-level constants rather than
// resolving through the Parameter Provider.
const (
	lossCutCriticalMultiplier = 2.0
	bigProfitThresholdPct     = 3.0
	partialTPTriggerPct       = 1.5
	partialTPFraction         = 0.5
	smartCloseReversalScore   = 0.65
	trendContinuationStrength = 0.7
	trendContinuationPnLPct   = 0.3
)

// emergencyFloorPct is the hard net-pnl-pct floor that closes regardless of
// min_holding, per regime.
func emergencyFloorPct(r regime.Type) float64 {
	switch r {
	case regime.Choppy:
		return -4.0
	case regime.Trending:
		return -6.0
	default:
		return -5.0
	}
}

// Action is what the engine decided to do with a position this cycle.
type Action int

const (
	ActionNone Action = iota
	ActionClose
	ActionPartialClose
)

// Outcome is the Exit Decision Engine's verdict for one position.
type Outcome struct {
	Action       Action
	Reason       string
	ClosePct     float64 // 1.0 for a full close, else the fraction to close
	PnL          PnLResult
	NewPeakPct   float64
	NewPeakPrice decimal.Decimal
}

// Input bundles a position, its metadata, and the market/regime context the
// engine needs to evaluate one cycle.
type Input struct {
	Position       position.Position
	Metadata       position.Metadata
	CurrentPrice   decimal.Decimal
	PriceIsFallback bool
	TimeInPosition time.Duration
	ATR            float64
	TrendStrength  float64
	ReversalScore  float64
	OrderFlowConfirmsReversal bool
	Params         config.ParameterRecord
	Regime         regime.Type
	Instrument     types.Instrument
}

// Evaluate runs the fixed 13-step priority list. The first matching rule
// wins; Evaluate never triggers two actions in the same call.
func Evaluate(in Input) Outcome {
	pnl := computePositionPnL(in)

	// Step 1: peak profit tracker update — always happens, regardless of
	// which later rule (if any) fires.
	newPeakPct, newPeakPrice := updatePeak(in, pnl)

	minHeld := in.TimeInPosition >= minHoldingDuration(in.Params)

	// Step 2: critical loss cut bypasses min_holding entirely.
	if pnl.NetPct <= -in.Params.LossCutPercent*lossCutCriticalMultiplier {
		return closeOutcome("critical_loss_cut", pnl, newPeakPct, newPeakPrice)
	}

	// Step 3: standard loss cut requires min_holding.
	if pnl.NetPct <= -in.Params.LossCutPercent && minHeld {
		return closeOutcome("standard_loss_cut", pnl, newPeakPct, newPeakPrice)
	}

	// Step 4: min-profit-to-close gate — only constrains losing positions,
	// and only suppresses the optimistic exits below (steps 6-10).
	skipOptimistic := minProfitGateBlocks(pnl, in)

	// Step 5: price-based stop-loss.
	if slHit(in, pnl) && minHeld {
		return closeOutcome("stop_loss", pnl, newPeakPct, newPeakPrice)
	}

	if !skipOptimistic {
		// Step 6: smart close on a strong reversal score.
		if in.ReversalScore >= smartCloseReversalScore && minHeld {
			return closeOutcome("smart_close", pnl, newPeakPct, newPeakPrice)
		}

		// Step 7: price-based take-profit.
		if tpHit(in, pnl) && minHeld {
			return closeOutcome("take_profit", pnl, newPeakPct, newPeakPrice)
		}

		// Step 8: big profit exit.
		if pnl.NetPct >= bigProfitThresholdPct && minHeld {
			return closeOutcome("big_profit_exit", pnl, newPeakPct, newPeakPrice)
		}

		// Step 9: partial take-profit, once.
		if pnl.NetPct >= partialTPTriggerPct && !in.Metadata.PartialTPTaken && minHeld {
			return Outcome{
				Action: ActionPartialClose, Reason: "partial_take_profit", ClosePct: partialTPFraction,
				PnL: pnl, NewPeakPct: pnl.NetPct * (1 - partialTPFraction), NewPeakPrice: in.CurrentPrice,
			}
		}

		// Step 10: reversal detected via candle pattern + confirming order flow.
		if in.ReversalScore >= smartCloseReversalScore*0.8 && in.OrderFlowConfirmsReversal && minHeld {
			return closeOutcome("reversal_detected", pnl, newPeakPct, newPeakPrice)
		}
	}

	// Step 11: max-holding timeout, non-losing positions only, with a
	// trending-continuation extension.
	if in.TimeInPosition >= maxHoldingDuration(in.Params) && pnl.NetPct >= 0 {
		extended := in.Regime == regime.Trending && in.TrendStrength >= trendContinuationStrength && pnl.NetPct > trendContinuationPnLPct
		if !extended {
			return closeOutcome("max_holding_timeout", pnl, newPeakPct, newPeakPrice)
		}
	}

	// Step 12: emergency loss protection, bypasses min_holding.
	if pnl.NetPct <= emergencyFloorPct(in.Regime) {
		return closeOutcome("emergency_loss_protection", pnl, newPeakPct, newPeakPrice)
	}

	// Step 13: nothing matched; min_holding enforcement is implicit — no
	// close is ever taken below it except steps 2/12 which bypass it by
	// design (step 4 is a gate and takes no action).
	return Outcome{Action: ActionNone, Reason: "min_holding_enforced", PnL: pnl, NewPeakPct: newPeakPct, NewPeakPrice: newPeakPrice}
}

func closeOutcome(reason string, pnl PnLResult, peakPct float64, peakPrice decimal.Decimal) Outcome {
	return Outcome{Action: ActionClose, Reason: reason, ClosePct: 1.0, PnL: pnl, NewPeakPct: peakPct, NewPeakPrice: peakPrice}
}

func minHoldingDuration(params config.ParameterRecord) time.Duration {
	return time.Duration(params.MinHoldingMinutes * float64(time.Minute))
}

func maxHoldingDuration(params config.ParameterRecord) time.Duration {
	return time.Duration(params.MaxHoldingMinutes * float64(time.Minute))
}

// computePositionPnL resolves current price (falling back to entry price
// with fees excluded when the fed price is invalid) and runs ComputePnL.
func computePositionPnL(in Input) PnLResult {
	price := in.CurrentPrice
	includeFees := !in.PriceIsFallback
	if price.IsZero() || price.IsNegative() {
		price = in.Position.EntryPrice
		includeFees = false
	}
	return ComputePnL(PnLInput{
		Side: in.Position.Side, EntryPrice: in.Position.EntryPrice, ExitPrice: price,
		Contracts: in.Position.Contracts, CtVal: decimal.NewFromFloat(in.Instrument.CtVal),
		MarginUsed: in.Position.MarginUsed, Leverage: in.Position.Leverage,
		MakerFee: in.Instrument.MakerFee, TakerFee: in.Instrument.TakerFee, IncludeFees: includeFees,
	})
}

func updatePeak(in Input, pnl PnLResult) (float64, decimal.Decimal) {
	peakPct := in.Metadata.PeakProfitPct
	peakPrice := in.Metadata.PeakPrice
	if pnl.NetPct > peakPct {
		peakPct = pnl.NetPct
	}
	if peakPrice.IsZero() {
		peakPrice = in.Position.EntryPrice
	}
	switch in.Position.Side {
	case types.SideLong:
		if in.CurrentPrice.GreaterThan(peakPrice) {
			peakPrice = in.CurrentPrice
		}
	case types.SideShort:
		if in.CurrentPrice.LessThan(peakPrice) {
			peakPrice = in.CurrentPrice
		}
	}
	return peakPct, peakPrice
}

// minProfitGateBlocks implements the "min-profit-to-close gate": for a
// losing position still inside its ph_time_limit_s grace period and below
// both the ph_threshold_percent and ph_min_absolute floors, optimistic
// exits (steps 6-10) are skipped this cycle so a fresh loser isn't closed
// on transient noise before it's had a chance to develop.
func minProfitGateBlocks(pnl PnLResult, in Input) bool {
	if pnl.NetPct >= 0 {
		return false
	}
	withinGrace := in.TimeInPosition < time.Duration(in.Params.PHTimeLimitSeconds*float64(time.Second))
	belowPctFloor := pnl.NetPct < in.Params.PHThresholdPercent
	belowAbsFloor := pnl.UnrealizedUSD.Abs().LessThan(decimal.NewFromFloat(in.Params.PHMinAbsolute))
	return withinGrace && belowPctFloor && belowAbsFloor
}

func slHit(in Input, pnl PnLResult) bool {
	slPrice := stopPrice(in)
	if slPrice.IsZero() {
		return pnl.NetPct <= -in.Params.SLPercent
	}
	switch in.Position.Side {
	case types.SideLong:
		return in.CurrentPrice.LessThanOrEqual(slPrice)
	default:
		return in.CurrentPrice.GreaterThanOrEqual(slPrice)
	}
}

func tpHit(in Input, pnl PnLResult) bool {
	tpPrice := takeProfitPrice(in)
	if tpPrice.IsZero() {
		return pnl.NetPct >= in.Params.TPPercent
	}
	switch in.Position.Side {
	case types.SideLong:
		return in.CurrentPrice.GreaterThanOrEqual(tpPrice)
	default:
		return in.CurrentPrice.LessThanOrEqual(tpPrice)
	}
}

// stopPrice resolves the SL price via ATR × sl_atr_multiplier when the ATR
// is available, falling back to entry × sl_percent otherwise. Resolved
// through the Parameter Provider's SLATRMultiplier/SLPercent, never a
// hard-coded constant.
func stopPrice(in Input) decimal.Decimal {
	entry := in.Position.EntryPrice
	if in.ATR > 0 && in.Params.SLATRMultiplier > 0 {
		offset := decimal.NewFromFloat(in.ATR * in.Params.SLATRMultiplier)
		if in.Position.Side == types.SideLong {
			return entry.Sub(offset)
		}
		return entry.Add(offset)
	}
	if in.Params.SLPercent <= 0 {
		return decimal.Zero
	}
	pct := decimal.NewFromFloat(in.Params.SLPercent / 100)
	if in.Position.Side == types.SideLong {
		return entry.Mul(decimal.NewFromInt(1).Sub(pct))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(pct))
}

func takeProfitPrice(in Input) decimal.Decimal {
	entry := in.Position.EntryPrice
	if in.ATR > 0 && in.Params.TPATRMultiplier > 0 {
		offset := decimal.NewFromFloat(in.ATR * in.Params.TPATRMultiplier)
		if in.Position.Side == types.SideLong {
			return entry.Add(offset)
		}
		return entry.Sub(offset)
	}
	if in.Params.TPPercent <= 0 {
		return decimal.Zero
	}
	pct := decimal.NewFromFloat(in.Params.TPPercent / 100)
	if in.Position.Side == types.SideLong {
		return entry.Mul(decimal.NewFromInt(1).Add(pct))
	}
	return entry.Mul(decimal.NewFromInt(1).Sub(pct))
}
