package exit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

// highProfitTightenDivisor sets the normal widening step: each update below
// the high-profit threshold widens the trail by
// (TrailingMax-TrailingInitial)/highProfitTightenDivisor/10, capped at
// TrailingMax.
const highProfitTightenDivisor = 2.0

// TrailingState is the Trailing SL Controller's per-position state, held
// alongside position.Metadata (TrailActive/CurrentTrail/PeakPrice/
// LastTrailUpdate map directly onto this controller's fields).
type TrailingState struct {
	Active          bool
	PeakPrice       decimal.Decimal
	CurrentTrail    float64
	LastUpdate      time.Time
}

// TrailingInput is what one controller tick needs.
type TrailingInput struct {
	Side           types.Side
	EntryPrice     decimal.Decimal
	CurrentPrice   decimal.Decimal
	NetPnLPct      float64
	MarginUsed     decimal.Decimal
	UnrealizedUSD  decimal.Decimal
	HasMarginData  bool // false ⇒ deprecated price-only fallback mode
	TimeInPosition time.Duration
	Params         config.ParameterRecord
}

// TrailingOutcome is the controller's verdict: an updated state plus
// whether the stop was crossed this tick.
type TrailingOutcome struct {
	State      TrailingState
	ShouldClose bool
}

// package-level code constants for the high-profit tightening mode and the
// deprecated price-only floor — not part of the Parameter Record's field
// list, same rationale as engine.go's constants.
const (
	highProfitThresholdPct  = 2.0
	highProfitMaxFactor     = 0.5
	minTrailFloor           = 0.002
	priceOnlyFallbackTrail  = 0.01
)

// UpdateTrailing advances the Trailing Stop-Loss Controller by one tick. It
// never closes a position before minHolding has elapsed.
func UpdateTrailing(prev TrailingState, in TrailingInput, minHolding time.Duration) TrailingOutcome {
	state := prev
	if state.PeakPrice.IsZero() {
		state.PeakPrice = in.EntryPrice
	}

	if !state.Active {
		if in.NetPnLPct >= in.Params.TrailingMinProfitToActivate {
			state.Active = true
			state.CurrentTrail = in.Params.TrailingInitial
			state.PeakPrice = in.CurrentPrice
		}
		return TrailingOutcome{State: state}
	}

	// Peak price only ever moves in the favorable direction.
	switch in.Side {
	case types.SideLong:
		if in.CurrentPrice.GreaterThan(state.PeakPrice) {
			state.PeakPrice = in.CurrentPrice
		}
	case types.SideShort:
		if in.CurrentPrice.LessThan(state.PeakPrice) || state.PeakPrice.IsZero() {
			state.PeakPrice = in.CurrentPrice
		}
	}

	state.CurrentTrail = nextTrailWidth(state.CurrentTrail, in)

	if !in.HasMarginData {
		// Deprecated fallback: no margin/unrealized feed, so the controller
		// can't reason about profit percentage — use a fixed conservative
		// trail instead of trusting a stale CurrentTrail.
		state.CurrentTrail = priceOnlyFallbackTrail
	}

	stop := trailStopPrice(state.PeakPrice, state.CurrentTrail, in.Side)
	crossed := trailCrossed(in.CurrentPrice, stop, in.Side)
	state.LastUpdate = time.Now()

	return TrailingOutcome{State: state, ShouldClose: crossed && in.TimeInPosition >= minHolding}
}

func nextTrailWidth(current float64, in TrailingInput) float64 {
	if current < minTrailFloor {
		current = in.Params.TrailingInitial
	}
	if in.NetPnLPct >= highProfitThresholdPct {
		// High-profit mode tightens the trail to max×factor instead of
		// letting it keep widening toward max.
		tightened := in.Params.TrailingMax * highProfitMaxFactor
		if tightened < current {
			return tightened
		}
		return current
	}
	if current < in.Params.TrailingMax {
		current += (in.Params.TrailingMax - in.Params.TrailingInitial) / highProfitTightenDivisor / 10
		if current > in.Params.TrailingMax {
			current = in.Params.TrailingMax
		}
	}
	if current < minTrailFloor {
		current = minTrailFloor
	}
	return current
}

func trailStopPrice(peak decimal.Decimal, trail float64, side types.Side) decimal.Decimal {
	factor := decimal.NewFromFloat(1 - trail)
	if side == types.SideShort {
		factor = decimal.NewFromFloat(1 + trail)
	}
	return peak.Mul(factor)
}

func trailCrossed(current, stop decimal.Decimal, side types.Side) bool {
	if side == types.SideLong {
		return current.LessThanOrEqual(stop)
	}
	return current.GreaterThanOrEqual(stop)
}
