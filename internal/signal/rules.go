package signal

import (
	"math"

	"github.com/perpscalp/engine/internal/marketdata"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/pkg/types"
)

// ruleVote is one rule's opinion: which side it favors, how strongly, and
// whether it fired at all. A zero-value vote means the rule abstained.
type ruleVote struct {
	name     string
	side     types.Side
	strength float64
	ok       bool
}

// maCrossoverRule scores the EMA fast/slow percentage separation, softened
// when price itself hasn't confirmed the crossover direction.
func maCrossoverRule(snap marketdata.IndicatorSnapshot, price float64) ruleVote {
	if snap.EMASlow == 0 {
		return ruleVote{name: "ma_crossover"}
	}
	diff := (snap.EMAFast - snap.EMASlow) / snap.EMASlow
	if diff == 0 {
		return ruleVote{name: "ma_crossover"}
	}

	const multiplier = 20.0 // a 5% EMA spread saturates strength
	strength := math.Abs(diff) * multiplier

	side := types.SideLong
	if diff < 0 {
		side = types.SideShort
	}
	priceConfirms := (side == types.SideLong && price >= snap.EMAFast) ||
		(side == types.SideShort && price <= snap.EMAFast)
	if !priceConfirms {
		strength *= 0.9
	}
	return ruleVote{name: "ma_crossover", side: side, strength: clamp01(strength), ok: true}
}

// rsiRule fires on oversold/overbought extremes, strength scaled by distance
// past the threshold.
func rsiRule(snap marketdata.IndicatorSnapshot) ruleVote {
	const oversold, overbought = 30.0, 70.0
	switch {
	case snap.RSI <= oversold:
		strength := (oversold - snap.RSI) / oversold
		return ruleVote{name: "rsi", side: types.SideLong, strength: clamp01(strength), ok: true}
	case snap.RSI >= overbought:
		strength := (snap.RSI - overbought) / (100 - overbought)
		return ruleVote{name: "rsi", side: types.SideShort, strength: clamp01(strength), ok: true}
	default:
		return ruleVote{name: "rsi"}
	}
}

// macdRule fires on histogram sign, strength scaled by its magnitude.
func macdRule(snap marketdata.IndicatorSnapshot) ruleVote {
	const divisor = 5.0
	if snap.MACD.Hist == 0 {
		return ruleVote{name: "macd"}
	}
	side := types.SideLong
	if snap.MACD.Hist < 0 {
		side = types.SideShort
	}
	strength := math.Abs(snap.MACD.Hist) / divisor
	return ruleVote{name: "macd", side: side, strength: clamp01(strength), ok: true}
}

// bollingerRule fires when price breaches a band, strength scaled by how far
// past the middle band the breach reaches.
func bollingerRule(snap marketdata.IndicatorSnapshot, price float64) ruleVote {
	bb := snap.BB
	if bb.Upper <= bb.Middle || bb.Middle <= bb.Lower {
		return ruleVote{name: "bollinger"}
	}
	switch {
	case price < bb.Lower:
		strength := (bb.Middle - price) / (bb.Middle - bb.Lower)
		return ruleVote{name: "bollinger", side: types.SideLong, strength: clamp01(strength), ok: true}
	case price > bb.Upper:
		strength := (price - bb.Middle) / (bb.Upper - bb.Middle)
		return ruleVote{name: "bollinger", side: types.SideShort, strength: clamp01(strength), ok: true}
	default:
		return ruleVote{name: "bollinger"}
	}
}

// rangeBounceRule only fires while the regime reads ranging: price near a
// Bollinger edge and turning back toward the middle band.
func rangeBounceRule(snap marketdata.IndicatorSnapshot, price, prevClose float64, regimeType regime.Type) ruleVote {
	if regimeType != regime.Ranging {
		return ruleVote{name: "range_bounce"}
	}
	bb := snap.BB
	width := bb.Upper - bb.Lower
	if width <= 0 {
		return ruleVote{name: "range_bounce"}
	}

	const proximity = 0.15 // fraction of band width considered "near" an edge
	zone := width * proximity

	switch {
	case price-bb.Lower <= zone && price > prevClose:
		closeness := 1 - (price-bb.Lower)/zone
		return ruleVote{name: "range_bounce", side: types.SideLong, strength: clamp01(0.5 + closeness*0.5), ok: true}
	case bb.Upper-price <= zone && price < prevClose:
		closeness := 1 - (bb.Upper-price)/zone
		return ruleVote{name: "range_bounce", side: types.SideShort, strength: clamp01(0.5 + closeness*0.5), ok: true}
	default:
		return ruleVote{name: "range_bounce"}
	}
}
