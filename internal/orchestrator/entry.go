package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	boterrors "github.com/perpscalp/engine/internal/errors"
	"github.com/perpscalp/engine/internal/order"
	"github.com/perpscalp/engine/internal/position"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/internal/risk"
	"github.com/perpscalp/engine/internal/safety"
	"github.com/perpscalp/engine/internal/signal"
	"github.com/perpscalp/engine/internal/telemetry"
	"github.com/perpscalp/engine/internal/tradelog"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

var entryValidator = safety.NewValidator()

// evaluateEntries generates candidates for a flat symbol, runs the Signal
// Filter Pipeline over each, and submits whichever surviving candidate has
// the strongest filtered strength.
func (o *Orchestrator) evaluateEntries(ctx context.Context, sc config.SymbolConfig, candles []types.Candle, reg regime.Signal, params config.ParameterRecord) {
	snap, err := o.registry.GetIndicators(sc.Symbol)
	if err != nil {
		o.logger.Debugf("entries skipped for %s: %v", sc.Symbol, err)
		return
	}

	candidates := o.generator.Generate(sc.Symbol, candles, snap, reg, params)
	if len(candidates) == 0 {
		return
	}

	filterCtx := o.buildFilterContext(sc.Symbol)

	var best signal.Candidate
	var bestStrength float64
	found := false
	for _, c := range candidates {
		pass, multiplier, passed, blockReason := signal.Evaluate(c, filterCtx, params)
		if err := o.tradelog.WriteSignal(tradelog.SignalRecord{
			Symbol: sc.Symbol, Side: c.Side.String(), Strength: c.Strength, Regime: reg.Type.String(),
			Time: time.Now(), Executed: pass, BlockedBy: blockReason,
		}); err != nil {
			o.logger.Error("write signal record for "+sc.Symbol, err)
		}
		if !pass {
			telemetry.RecordReason("signal", blockReason)
			continue
		}
		c.Strength *= multiplier
		c.FiltersPassed = passed
		if !found || c.Strength > bestStrength {
			best, bestStrength, found = c, c.Strength, true
		}
	}
	if !found {
		return
	}

	o.submitEntry(ctx, sc, best, reg, params)
}

// submitEntry sizes a filtered candidate through the Risk Manager and, if it
// clears every gate, submits it through the Order Executor and registers the
// resulting position.
func (o *Orchestrator) submitEntry(ctx context.Context, sc config.SymbolConfig, c signal.Candidate, reg regime.Signal, params config.ParameterRecord) {
	instrument, err := o.ensureInstrument(ctx, sc.Symbol)
	if err != nil {
		o.recoverer.Record(err)
		o.health.AddError(err.Error())
		o.logger.Error("ensure instrument for entry on "+sc.Symbol, err)
		return
	}

	equityUSD, err := o.gateway.GetBalance(ctx)
	if err != nil {
		o.logger.Error("get balance for entry sizing on "+sc.Symbol, err)
		return
	}
	if result := entryValidator.ValidateBalance(equityUSD, "USD"); !result.Valid {
		o.logger.Error("reject entry sizing on "+sc.Symbol, fmt.Errorf("%s", result.Message))
		telemetry.RecordReason("risk", result.Code)
		return
	}
	equity := decimal.NewFromFloat(equityUSD)

	_, _, alreadyOpen := o.positions.Get(sc.Symbol)

	decision, err := o.risk.Evaluate(risk.SizingInput{
		Symbol: sc.Symbol, Side: c.Side, Strength: c.Strength, Price: decimal.NewFromFloat(c.SuggestedPrice),
		Equity: equity, MarginUsedTotal: o.totalMarginUsed(), OpenPositionCount: o.positions.Count(),
		SymbolAlreadyOpen: alreadyOpen, Instrument: instrument, Regime: reg.Type,
		Volatility: reg.Metrics.Volatility, Params: params, CorrelatedCount: o.correlatedExposureCount(sc.Symbol),
	})
	if err != nil {
		telemetry.RecordReason("risk", boterrors.ReasonOf(err))
		return
	}

	if sc.MaxPositionPct > 0 {
		symbolCap := equity.Mul(decimal.NewFromFloat(sc.MaxPositionPct))
		if decision.NotionalUSD.GreaterThan(symbolCap) {
			telemetry.RecordReason("risk", "symbol_position_pct_cap")
			return
		}
	}

	if err := o.gateway.SetLeverage(ctx, sc.Symbol, decision.Leverage); err != nil {
		o.logger.Error("set leverage for "+sc.Symbol, err)
		return
	}

	outcome, err := o.executor.Submit(ctx, order.Input{
		Symbol: sc.Symbol, Side: c.Side, SuggestedPrice: c.SuggestedPrice,
		Contracts: decision.Contracts, Volatility: reg.Metrics.Volatility, Params: params,
	})
	if err != nil {
		o.recoverer.Record(err)
		o.health.AddError(err.Error())
		o.logger.Error("submit entry for "+sc.Symbol, err)
		telemetry.RecordReason("order", "entry_failed")
		o.risk.ReleaseLeverage(sc.Symbol)
		return
	}
	o.recoverer.RecordSuccess()
	o.health.ClearErrors()

	entryPrice := decimal.NewFromFloat(outcome.EffectivePrice)
	if entryPrice.IsZero() {
		entryPrice = decimal.NewFromFloat(c.SuggestedPrice)
	}

	pos := position.Position{
		Symbol: sc.Symbol, Side: c.Side, EntryPrice: entryPrice, Contracts: decision.Contracts,
		Leverage: decision.Leverage, MarginUsed: decision.MarginUsed, OpenedAt: time.Now(),
	}
	meta := position.Metadata{RegimeAtEntry: reg.Type, PeakPrice: entryPrice, Source: position.SourceEngine}
	if err := o.positions.Register(pos, meta); err != nil {
		o.logger.Error("register new position for "+sc.Symbol, err)
		return
	}

	kind := orderKindLabel(params, reg.Metrics.Volatility)
	telemetry.OrdersPlaced.WithLabelValues(sc.Symbol, c.Side.String(), kind).Inc()
	if outcome.FullyFilled {
		telemetry.OrdersFilled.WithLabelValues(sc.Symbol, c.Side.String()).Inc()
	}
	telemetry.OpenPositions.WithLabelValues(sc.Symbol).Set(1)
	o.health.UpdateLastOrder(time.Now())
	o.logger.Trade("%s opened %s: contracts=%s entry=%s leverage=%d", sc.Symbol, c.Side.String(), decision.Contracts.String(), entryPrice.String(), decision.Leverage)
}

// orderKindLabel mirrors order.Executor's own market-vs-post-only-limit
// decision so the orders_placed metric carries the right order_type label
// without Submit needing to report it back.
func orderKindLabel(params config.ParameterRecord, volatility float64) string {
	volatilityPct := volatility * 100
	if params.LimitOffsetPercent <= 0 || volatilityPct > params.MarketOrderVolatilityPct {
		return "market"
	}
	return "limit"
}

func (o *Orchestrator) totalMarginUsed() decimal.Decimal {
	total := decimal.Zero
	for _, p := range o.positions.SnapshotAll() {
		total = total.Add(p.MarginUsed)
	}
	return total
}
