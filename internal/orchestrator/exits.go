package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpscalp/engine/internal/exit"
	"github.com/perpscalp/engine/internal/order"
	"github.com/perpscalp/engine/internal/position"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/internal/telemetry"
	"github.com/perpscalp/engine/internal/tradelog"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

// evaluatePositionExit runs the Trailing Stop-Loss Controller and the Exit
// Decision Engine for one open position against a fresh price, and acts on
// whichever fires first. It is the shared core both the periodic cycle and
// the websocket fast path call.
func (o *Orchestrator) evaluatePositionExit(ctx context.Context, symbol string, pos position.Position, meta position.Metadata, price decimal.Decimal, priceIsFallback bool, reg regime.Signal, params config.ParameterRecord) {
	instrument, err := o.ensureInstrument(ctx, symbol)
	if err != nil {
		o.logger.Error("ensure instrument for exit evaluation on "+symbol, err)
		return
	}

	snap, _ := o.registry.GetIndicators(symbol) // zero ATR on error: engine falls back to percent-based SL/TP
	book, _ := o.registry.GetOrderBookTop(symbol)
	timeInPosition := time.Since(pos.OpenedAt)

	includeFees := !priceIsFallback
	pnl := exit.ComputePnL(exit.PnLInput{
		Side: pos.Side, EntryPrice: pos.EntryPrice, ExitPrice: price, Contracts: pos.Contracts,
		CtVal: decimal.NewFromFloat(instrument.CtVal), MarginUsed: pos.MarginUsed, Leverage: pos.Leverage,
		MakerFee: instrument.MakerFee, TakerFee: instrument.TakerFee, IncludeFees: includeFees,
	})

	trailState := exit.TrailingState{
		Active: meta.TrailActive, PeakPrice: meta.PeakPrice,
		CurrentTrail: meta.CurrentTrail, LastUpdate: meta.LastTrailUpdate,
	}
	trailOut := exit.UpdateTrailing(trailState, exit.TrailingInput{
		Side: pos.Side, EntryPrice: pos.EntryPrice, CurrentPrice: price, NetPnLPct: pnl.NetPct,
		MarginUsed: pos.MarginUsed, UnrealizedUSD: pnl.UnrealizedUSD, HasMarginData: true,
		TimeInPosition: timeInPosition, Params: params,
	}, minHoldingDuration(params))

	if trailOut.ShouldClose {
		o.closePosition(ctx, symbol, pos, meta, 1.0, "trailing_stop", price, params)
		return
	}

	outcome := exit.Evaluate(exit.Input{
		Position: pos, Metadata: meta, CurrentPrice: price, PriceIsFallback: priceIsFallback,
		TimeInPosition: timeInPosition, ATR: snap.ATR, TrendStrength: reg.Metrics.TrendingScore,
		ReversalScore: reversalScoreFrom(reg.Metrics), OrderFlowConfirmsReversal: orderFlowConfirmsReversal(pos.Side, book),
		Params: params, Regime: reg.Type, Instrument: instrument,
	})

	switch outcome.Action {
	case exit.ActionClose:
		o.closePosition(ctx, symbol, pos, meta, 1.0, outcome.Reason, price, params)
	case exit.ActionPartialClose:
		o.closePosition(ctx, symbol, pos, meta, outcome.ClosePct, outcome.Reason, price, params)
		o.persistExitState(symbol, pos.Side, trailOut.State, outcome.NewPeakPct, outcome.NewPeakPrice, true)
	default:
		o.persistExitState(symbol, pos.Side, trailOut.State, outcome.NewPeakPct, outcome.NewPeakPrice, meta.PartialTPTaken)
	}
}

// persistExitState writes the trailing controller's and exit engine's
// updated state back onto position.Metadata — the only place either
// subsystem's per-tick state lives between evaluations. Both subsystems
// track the same underlying "peak price since entry" concept; the trailing
// controller resets its peak to the activation price, which can never be
// less favorable than the exit engine's peak since entry, so the more
// favorable of the two is always the correct value to keep.
func (o *Orchestrator) persistExitState(symbol string, side types.Side, trail exit.TrailingState, enginePeakPct float64, enginePeakPrice decimal.Decimal, partialTaken bool) {
	peakPrice := mergePeakPrice(side, enginePeakPrice, trail.PeakPrice)
	_ = o.positions.UpdateFields(symbol, func(p *position.Position, m *position.Metadata) {
		m.TrailActive = trail.Active
		m.CurrentTrail = trail.CurrentTrail
		m.LastTrailUpdate = trail.LastUpdate
		m.PeakPrice = peakPrice
		m.PeakProfitPct = enginePeakPct
		m.PartialTPTaken = partialTaken
	})
}

func mergePeakPrice(side types.Side, enginePeak, trailPeak decimal.Decimal) decimal.Decimal {
	if trailPeak.IsZero() {
		return enginePeak
	}
	if side == types.SideLong {
		if trailPeak.GreaterThan(enginePeak) {
			return trailPeak
		}
		return enginePeak
	}
	if trailPeak.LessThan(enginePeak) {
		return trailPeak
	}
	return enginePeak
}

// forceMarketVolatility returns a Volatility value guaranteed to push
// order.Executor's buildRequest past MarketOrderVolatilityPct, so a close
// always submits as a market order rather than a post-only limit — exits
// need a guaranteed fill, not the best-price-effort an entry can afford to
// wait on.
func forceMarketVolatility(params config.ParameterRecord) float64 {
	return params.MarketOrderVolatilityPct/100 + 0.01
}

func oppositeSide(side types.Side) types.Side {
	if side == types.SideLong {
		return types.SideShort
	}
	return types.SideLong
}

// closePosition submits a reduce-only close for closePct of pos's contracts
// through the Order Executor (forced to a market order via
// forceMarketVolatility) and updates the Position Registry accordingly.
func (o *Orchestrator) closePosition(ctx context.Context, symbol string, pos position.Position, meta position.Metadata, closePct float64, reason string, price decimal.Decimal, params config.ParameterRecord) {
	full := closePct >= 1.0
	if full {
		if !o.positions.MarkClosing(symbol) {
			telemetry.RecordReason("position", "already_closing")
			return
		}
	}

	contracts := pos.Contracts.Mul(decimal.NewFromFloat(closePct))
	if contracts.IsZero() || contracts.IsNegative() {
		return
	}

	outcome, err := o.executor.Submit(ctx, order.Input{
		Symbol: symbol, Side: oppositeSide(pos.Side), SuggestedPrice: price.InexactFloat64(),
		Contracts: contracts, ReduceOnly: true, Volatility: forceMarketVolatility(params), Params: params,
	})
	if err != nil {
		o.logger.Error(fmt.Sprintf("close %s (%s)", symbol, reason), err)
		telemetry.RecordReason("order", "close_failed")
		return
	}

	exitPrice := decimal.NewFromFloat(outcome.EffectivePrice)
	if exitPrice.IsZero() {
		exitPrice = price
	}

	if !full {
		_ = o.positions.UpdateFields(symbol, func(p *position.Position, m *position.Metadata) {
			p.Contracts = p.Contracts.Sub(contracts)
			m.PartialTPTaken = true
		})
		o.logger.Trade("%s partial close (%s): closed=%s contracts", symbol, reason, contracts.String())
		telemetry.RecordReason("exit", reason)
		return
	}

	o.positions.Remove(symbol)
	o.risk.ReleaseLeverage(symbol)

	instrument, _ := o.ensureInstrument(ctx, symbol)
	pnl := exit.ComputePnL(exit.PnLInput{
		Side: pos.Side, EntryPrice: pos.EntryPrice, ExitPrice: exitPrice, Contracts: contracts,
		CtVal: decimal.NewFromFloat(instrument.CtVal), MarginUsed: pos.MarginUsed, Leverage: pos.Leverage,
		MakerFee: instrument.MakerFee, TakerFee: instrument.TakerFee, IncludeFees: true,
	})
	pnlVal, _ := pnl.UnrealizedUSD.Float64()
	telemetry.RecordExit(symbol, reason, pnlVal)
	telemetry.OpenPositions.WithLabelValues(symbol).Set(0)
	o.health.UpdateLastOrder(time.Now())
	o.logger.Trade("%s closed (%s): entry=%s exit=%s pnl_usd=%s", symbol, reason, pos.EntryPrice.String(), exitPrice.String(), pnl.UnrealizedUSD.String())

	feesPct := (instrument.MakerFee + instrument.TakerFee) * float64(pos.Leverage) * 100
	feesUSD := pos.MarginUsed.Mul(decimal.NewFromFloat(feesPct / 100))
	realizedUSD := pnl.UnrealizedUSD.Sub(feesUSD)
	entryPrice, _ := pos.EntryPrice.Float64()
	exitPriceF, _ := exitPrice.Float64()
	size, _ := contracts.Float64()
	realizedF, _ := realizedUSD.Float64()
	feesF, _ := feesUSD.Float64()
	if err := o.tradelog.WriteTrade(tradelog.TradeRecord{
		Symbol: symbol, Side: pos.Side.String(), EntryPrice: entryPrice, ExitPrice: exitPriceF,
		Size: size, EntryTime: pos.OpenedAt, ExitTime: time.Now(), Regime: meta.RegimeAtEntry.String(),
		RealizedPnLUSD: realizedF, FeesUSD: feesF, ExitReason: reason,
	}); err != nil {
		o.logger.Error("write trade record for "+symbol, err)
	}
}

func minHoldingDuration(params config.ParameterRecord) time.Duration {
	return time.Duration(params.MinHoldingMinutes * float64(time.Minute))
}
