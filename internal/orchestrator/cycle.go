package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	boterrors "github.com/perpscalp/engine/internal/errors"
	"github.com/perpscalp/engine/internal/marketdata"
	"github.com/perpscalp/engine/internal/position"
	"github.com/perpscalp/engine/internal/telemetry"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

const regimeStrengthPct = 0.005

// minCandlesForCycle mirrors the regime Detector's own longest incremental
// lookback (the 50-period SMA) — fewer closed 1m candles and there is
// nothing useful this cycle can do for the symbol yet.
const minCandlesForCycle = 50

// runCycle is the periodic task: reconcile drift once, then regime-classify,
// resolve parameters, and either evaluate exits (position open) or entries
// (flat) for every enabled symbol.
func (o *Orchestrator) runCycle(ctx context.Context) {
	start := time.Now()
	o.reconcileDrift(ctx)

	for _, sc := range o.symbols {
		if !sc.Enabled {
			continue
		}
		o.processSymbol(ctx, sc)
	}

	if elapsed := time.Since(start); elapsed > o.slowCycleThreshold {
		o.logger.Warn("cycle exceeded budget: %s across %d symbols", elapsed, len(o.symbols))
		telemetry.RecordReason("orchestrator", "slow_cycle")
	}
}

func (o *Orchestrator) processSymbol(ctx context.Context, sc config.SymbolConfig) {
	candles := o.registry.GetCandles(sc.Symbol, types.Timeframe1m, types.Timeframe1m.RingSize())
	if len(candles) < minCandlesForCycle {
		return
	}

	detector := o.detectorFor(sc.Symbol)
	priorRegime := detector.CurrentRegime()
	if priorParams, err := o.provider.Resolve(sc.Symbol, priorRegime.String()); err == nil {
		detector.WithThresholds(priorParams.ADXThreshold, regimeStrengthPct)
	}

	regSignal, err := detector.Detect(candles)
	if err != nil {
		o.logger.Debugf("regime detection skipped for %s: %v", sc.Symbol, err)
		return
	}
	o.recordRegime(sc.Symbol, regSignal)
	telemetry.RegimeState.WithLabelValues(sc.Symbol).Set(float64(regSignal.Type))

	params, err := o.provider.Resolve(sc.Symbol, regSignal.Type.String())
	if err != nil {
		o.logger.Error("resolve parameters for "+sc.Symbol, err)
		return
	}

	pos, meta, hasOpen := o.positions.Get(sc.Symbol)
	if hasOpen {
		price, _, priceErr := o.registry.GetPrice(ctx, sc.Symbol, marketdata.PurposeExitAnalysis)
		exitPrice := decimal.NewFromFloat(price)
		fallback := priceErr != nil
		if fallback {
			exitPrice = pos.EntryPrice
		}
		o.evaluatePositionExit(ctx, sc.Symbol, pos, meta, exitPrice, fallback, regSignal, params)
		return
	}
	telemetry.OpenPositions.WithLabelValues(sc.Symbol).Set(0)

	if o.recoverer.ShouldHaltEntries() {
		telemetry.RecordReason("orchestrator", "entries_halted")
		return
	}
	o.evaluateEntries(ctx, sc, candles, regSignal, params)
}

// reconcileDrift imports exchange positions this registry doesn't know
// about and closes registry positions the exchange no longer reports,
// before this cycle's per-symbol processing runs against possibly-stale
// registry state.
func (o *Orchestrator) reconcileDrift(ctx context.Context) {
	exchangePositions, err := o.gateway.GetPositions(ctx)
	if err != nil {
		wrapped := boterrors.Wrap(err, boterrors.KindExchangeTransient, "orchestrator.reconcileDrift", "GetPositions", "get_positions_failed")
		o.recoverer.Record(wrapped)
		o.logger.Error("get positions for drift reconciliation", err)
		return
	}
	o.recoverer.RecordSuccess()

	converted := make([]position.ExchangePosition, 0, len(exchangePositions))
	lastPrice := make(map[string]decimal.Decimal, len(exchangePositions))
	for _, ep := range exchangePositions {
		converted = append(converted, position.ExchangePosition{
			Symbol: ep.Symbol, Side: ep.Side, Contracts: decimal.NewFromFloat(ep.Size),
			EntryPrice: decimal.NewFromFloat(ep.AvgEntry), Leverage: ep.Leverage,
			MarginUsed: decimal.NewFromFloat(ep.Margin),
		})
		if price, _, priceErr := o.registry.GetPrice(ctx, ep.Symbol, marketdata.PurposeGeneral); priceErr == nil {
			lastPrice[ep.Symbol] = decimal.NewFromFloat(price)
		}
	}

	added, closed := o.positions.ReconcileDrift(converted, lastPrice)
	for _, symbol := range added {
		telemetry.RecordReason("position", "drift_add")
		o.logger.Warn("drift-added unregistered exchange position: %s", symbol)
	}
	for symbol, pnl := range closed {
		pnlVal, _ := pnl.Float64()
		telemetry.RecordExit(symbol, "drift_close", pnlVal)
		o.risk.ReleaseLeverage(symbol)
		o.logger.Warn("drift-closed position absent from exchange: %s realized_pnl=%s", symbol, pnl.String())
	}
}
