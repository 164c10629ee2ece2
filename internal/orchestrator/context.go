package orchestrator

import (
	"math"

	"github.com/perpscalp/engine/internal/position"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/internal/signal"
	"github.com/perpscalp/engine/pkg/types"
)

// correlatedExposureThreshold matches the Signal Filter Pipeline's own
// correlationFilter cutoff: below it, an open position isn't counted as
// part of the correlated cluster at all.
const correlatedExposureThreshold = 0.8

// trendMomentumBand is the fractional move over the sampled window below
// which a timeframe reads "neutral" rather than bullish/bearish — the same
// sub-percent-band-for-a-direction-call shape the regime detector's own
// classify() uses for trend_deviation.
const trendMomentumBand = 0.001

// trendAt derives a bullish/bearish/neutral label for (symbol, tf) from
// simple close-to-close momentum over whatever history the Market Data
// Registry currently holds — there is no dedicated higher-timeframe trend
// feed, so the filter pipeline's multi_timeframe stage reads this instead.
func (o *Orchestrator) trendAt(symbol string, tf types.Timeframe) string {
	candles := o.registry.GetCandles(symbol, tf, 10)
	if len(candles) < 2 {
		return "neutral"
	}
	first := candles[0].Close
	last := candles[len(candles)-1].Close
	if first == 0 {
		return "neutral"
	}
	change := (last - first) / first
	switch {
	case change > trendMomentumBand:
		return "bullish"
	case change < -trendMomentumBand:
		return "bearish"
	default:
		return "neutral"
	}
}

// buildFilterContext assembles the Signal Filter Pipeline's context for
// symbol. Fields with no wired data source (Volume24h, FundingRate,
// VolumeNodePrice/Width, PivotPrice/ProximityPct) are left at their zero
// value: every filter that reads them treats zero as a no-op or a
// conservative reject rather than a false pass — see filters.go's own <=0
// guards — which is documented as a known limitation rather than a silent
// stub. CorrelatedOpen is wired from the Position Registry below.
func (o *Orchestrator) buildFilterContext(symbol string) signal.FilterContext {
	book, _ := o.registry.GetOrderBookTop(symbol)
	return signal.FilterContext{
		Book:           book,
		Trend5m:        o.trendAt(symbol, types.Timeframe5m),
		Trend1h:        o.trendAt(symbol, types.Timeframe1h),
		CorrelatedOpen: o.correlatedOpen(symbol),
	}
}

// correlatedOpen reports every other open position's estimated correlation
// with symbol, sourced from the Position Registry's live snapshot and
// position.Correlation's static pairwise table.
func (o *Orchestrator) correlatedOpen(symbol string) []signal.ExposureCorrelation {
	snapshot := o.positions.SnapshotAll()
	out := make([]signal.ExposureCorrelation, 0, len(snapshot))
	for openSymbol := range snapshot {
		if openSymbol == symbol {
			continue
		}
		out = append(out, signal.ExposureCorrelation{Symbol: openSymbol, Correlation: position.Correlation(symbol, openSymbol)})
	}
	return out
}

// correlatedExposureCount counts symbol's currently-open positions whose
// estimated correlation clears correlatedExposureThreshold — the same
// count the Risk Manager's own correlated-exposure cap gates on.
func (o *Orchestrator) correlatedExposureCount(symbol string) int {
	count := 0
	for _, e := range o.correlatedOpen(symbol) {
		if math.Abs(e.Correlation) >= correlatedExposureThreshold {
			count++
		}
	}
	return count
}

// reversalScoreFrom derives the Exit Decision Engine's reversal score from
// the regime detector's own reversal-count metric, normalized against the
// same "reversal heavy" failsafe the classifier itself uses as a choppy-score
// threshold.
func reversalScoreFrom(m regime.Metrics) float64 {
	const normalizer = 10.0
	score := float64(m.ReversalCount) / normalizer
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// orderFlowConfirmsReversal reports whether the book's bid/ask imbalance
// opposes an open position's side strongly enough to corroborate a
// reversal — the same imbalance heuristic the signal package's
// orderFlowFilter uses, read here against an existing position instead of a
// candidate.
func orderFlowConfirmsReversal(side types.Side, book types.OrderBookTop) bool {
	const threshold = 0.3
	total := book.BidSize + book.AskSize
	if total == 0 {
		return false
	}
	imbalance := (book.BidSize - book.AskSize) / total
	if side == types.SideLong {
		return imbalance < -threshold
	}
	return imbalance > threshold
}
