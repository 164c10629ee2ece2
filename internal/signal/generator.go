package signal

import (
	"github.com/perpscalp/engine/internal/marketdata"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

// minCandlesForSignals is the "min_candles_for_signals" failsafe: fewer
// closed 1m bars and a symbol is simply skipped for the cycle.
const minCandlesForSignals = 15

// strongADXTrend is the ADX floor above which a trending regime's direction
// blocks opposing candidates outright.
const strongADXTrend = 25.0

// Generator runs the five independent rules for a symbol, aggregates their
// votes by side, and applies the counter-trend block and the regime-scaled
// strength/ADX threshold. Stateless: one shared instance serves every
// symbol.
type Generator struct{}

func NewGenerator() *Generator { return &Generator{} }

// Generate returns at most one long and one short Candidate for the symbol.
// candles is the closed 1m history (oldest first); params must already be
// resolved for (symbol, reg.Type) by the Parameter Provider.
func (g *Generator) Generate(symbol string, candles []types.Candle, snap marketdata.IndicatorSnapshot, reg regime.Signal, params config.ParameterRecord) []Candidate {
	if len(candles) < minCandlesForSignals {
		return nil
	}
	price := candles[len(candles)-1].Close
	prevClose := candles[len(candles)-2].Close

	votes := []ruleVote{
		maCrossoverRule(snap, price),
		rsiRule(snap),
		macdRule(snap),
		bollingerRule(snap, price),
		rangeBounceRule(snap, price, prevClose, reg.Type),
	}

	ts := nowMillis()
	var out []Candidate
	for _, side := range []types.Side{types.SideLong, types.SideShort} {
		agg := aggregate(votes, side)
		if agg == nil {
			continue
		}
		if c, ok := g.finish(symbol, *agg, price, reg, params, ts, snap); ok {
			out = append(out, c)
		}
	}
	return out
}

type aggregatedVote struct {
	side     types.Side
	strength float64
	names    []string
}

// aggregate collapses every rule vote for one side into a single strength —
// the max across contributing rules — and the names of those that fired.
// Returns nil if no rule voted for this side.
func aggregate(votes []ruleVote, side types.Side) *aggregatedVote {
	var agg aggregatedVote
	agg.side = side
	fired := false
	for _, v := range votes {
		if !v.ok || v.side != side {
			continue
		}
		fired = true
		if v.strength > agg.strength {
			agg.strength = v.strength
		}
		agg.names = append(agg.names, v.name)
	}
	if !fired {
		return nil
	}
	return &agg
}

func (g *Generator) finish(symbol string, agg aggregatedVote, price float64, reg regime.Signal, params config.ParameterRecord, ts int64, snap marketdata.IndicatorSnapshot) (Candidate, bool) {
	if counterTrendBlocked(agg.side, reg, snap) {
		return Candidate{}, false
	}
	if agg.strength < params.MinSignalStrength || snap.ADX.Value < params.ADXThreshold {
		return Candidate{}, false
	}

	// confidence rewards agreement among rules without letting a single
	// strong rule alone reach full confidence.
	agreement := float64(len(agg.names)) / 5
	confidence := clamp01(agg.strength * (0.5 + 0.5*agreement))

	return Candidate{
		Symbol:         symbol,
		Side:           agg.side,
		Strength:       agg.strength,
		Confidence:     confidence,
		Regime:         reg.Type,
		TimestampMs:    ts,
		SuggestedPrice: price,
		Indicators:     snap,
		FiltersPassed:  agg.names,
	}, true
}

// counterTrendBlocked discards a candidate that opposes a strong, established
// trend direction. Only engaged while the regime itself reads trending and
// ADX confirms the trend is strong — a ranging or choppy regime never blocks
// on direction alone.
func counterTrendBlocked(side types.Side, reg regime.Signal, snap marketdata.IndicatorSnapshot) bool {
	if reg.Type != regime.Trending || snap.ADX.Value < strongADXTrend {
		return false
	}
	switch snap.ADX.Trend {
	case "bullish":
		return side == types.SideShort
	case "bearish":
		return side == types.SideLong
	default:
		return false
	}
}
