package signal

import (
	"fmt"
	"math"

	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

// Verdict is one filter's judgment on a candidate. Block is terminal; Warn
// carries a strength multiplier (below 1 for a soft penalty, above 1 for a
// bonus) and a reason recorded for the trade log either way.
type Verdict struct {
	Blocked    bool
	Multiplier float64
	Reason     string
}

func allow() Verdict                     { return Verdict{Multiplier: 1.0} }
func warn(multiplier float64, reason string) Verdict {
	return Verdict{Multiplier: multiplier, Reason: reason}
}
func block(reason string) Verdict { return Verdict{Blocked: true, Reason: reason} }

// ExposureCorrelation is one already-open position's correlation with the
// symbol under evaluation, as tracked by the Risk Manager.
type ExposureCorrelation struct {
	Symbol      string
	Correlation float64
}

// FilterContext carries everything the nine filters need beyond the
// candidate itself — data the signal package doesn't own.
type FilterContext struct {
	Book              types.OrderBookTop
	Volume24h         float64
	FundingRate       float64
	CorrelatedOpen    []ExposureCorrelation
	Trend5m           string // "bullish" | "bearish" | "neutral"
	Trend1h           string
	VolumeNodePrice   float64
	VolumeNodeWidth   float64
	PivotPrice        float64
	PivotProximityPct float64
}

// Filter is one stage of the pipeline.
type Filter struct {
	Name string
	Run  func(Candidate, FilterContext, config.ParameterRecord) Verdict
}

// DefaultPipeline is the fixed nine-filter order: a Block from any stage is
// terminal, so order determines which reason a rejected candidate is logged
// under.
func DefaultPipeline() []Filter {
	return []Filter{
		{"adx_floor", adxFloorFilter},
		{"counter_trend", counterTrendFilter},
		{"multi_timeframe", multiTimeframeFilter},
		{"correlation", correlationFilter},
		{"liquidity", liquidityFilter},
		{"order_flow", orderFlowFilter},
		{"volume_profile", volumeProfileFilter},
		{"funding_rate", fundingRateFilter},
		{"pivot_proximity", pivotProximityFilter},
	}
}

// Evaluate runs the ordered filter chain. pass is false the moment any
// filter blocks; otherwise multiplier is the product of every Warn's
// multiplier (1.0 when every filter simply allowed) and passed names every
// filter the candidate cleared, in order.
func Evaluate(c Candidate, ctx FilterContext, params config.ParameterRecord) (pass bool, multiplier float64, passed []string, blockReason string) {
	multiplier = 1.0
	for _, f := range DefaultPipeline() {
		v := f.Run(c, ctx, params)
		if v.Blocked {
			return false, 0, passed, fmt.Sprintf("%s: %s", f.Name, v.Reason)
		}
		multiplier *= v.Multiplier
		passed = append(passed, f.Name)
	}
	return true, multiplier, passed, ""
}

// adxFloorFilter re-applies the regime's hard ADX floor at filter time,
// since indicators may have moved since the candidate was generated.
func adxFloorFilter(c Candidate, _ FilterContext, params config.ParameterRecord) Verdict {
	if c.Indicators.ADX.Value < params.ADXThreshold {
		return block("adx below regime floor")
	}
	return allow()
}

// counterTrendFilter re-verifies the generator's counter-trend block against
// the candidate's own (fresh, just-computed) indicator snapshot.
func counterTrendFilter(c Candidate, _ FilterContext, _ config.ParameterRecord) Verdict {
	if c.Regime != regime.Trending || c.Indicators.ADX.Value < strongADXTrend {
		return allow()
	}
	switch c.Indicators.ADX.Trend {
	case "bullish":
		if c.Side == types.SideShort {
			return block("opposes strong established uptrend")
		}
	case "bearish":
		if c.Side == types.SideLong {
			return block("opposes strong established downtrend")
		}
	}
	return allow()
}

// multiTimeframeFilter compares the candidate's side against the 5m/1H
// trend reads. A neutral read at either timeframe neither blocks nor bonuses.
// The 1H (senior) timeframe reading opposite the candidate's side softens it.
func multiTimeframeFilter(c Candidate, ctx FilterContext, _ config.ParameterRecord) Verdict {
	expected := "bullish"
	opposite := "bearish"
	if c.Side == types.SideShort {
		expected, opposite = "bearish", "bullish"
	}
	if ctx.Trend1h == opposite {
		return warn(0.75, "higher timeframe opposes")
	}
	if ctx.Trend5m == opposite && ctx.Trend1h != expected {
		return warn(0.9, "near timeframe opposes")
	}
	return allow()
}

// correlationFilter rejects a candidate that would push the count of
// strongly-correlated open positions past the configured cap, and softly
// warns when it adds to an existing correlated cluster without breaching it.
func correlationFilter(_ Candidate, ctx FilterContext, _ config.ParameterRecord) Verdict {
	const corrThreshold = 0.8
	const maxCorrelatedPositions = 2

	correlated := 0
	for _, e := range ctx.CorrelatedOpen {
		if math.Abs(e.Correlation) >= corrThreshold {
			correlated++
		}
	}
	if correlated+1 > maxCorrelatedPositions {
		return block("max correlated positions reached")
	}
	if correlated > 0 {
		return warn(1-0.1*float64(correlated), "adds to correlated exposure")
	}
	return allow()
}

// liquidityFilter requires enough displayed size on the entry side of the
// book, falling back to 24h volume when the book itself is thin.
func liquidityFilter(c Candidate, ctx FilterContext, _ config.ParameterRecord) Verdict {
	const minBookNotional = 5000.0
	const minVolume24h = 500000.0

	size := ctx.Book.BidSize
	if c.Side == types.SideShort {
		size = ctx.Book.AskSize
	}
	notional := size * c.SuggestedPrice
	if notional >= minBookNotional {
		return allow()
	}
	if ctx.Volume24h >= minVolume24h {
		return warn(0.9, "thin book, relying on 24h volume")
	}
	return block("insufficient liquidity on entry side")
}

// orderFlowFilter checks the bid/ask size imbalance agrees with the
// candidate's side; disagreement softens rather than blocks, since order
// flow alone is noisy at scalping timeframes.
func orderFlowFilter(c Candidate, ctx FilterContext, _ config.ParameterRecord) Verdict {
	const threshold = 0.3
	total := ctx.Book.BidSize + ctx.Book.AskSize
	if total == 0 {
		return allow()
	}
	imbalance := (ctx.Book.BidSize - ctx.Book.AskSize) / total
	switch c.Side {
	case types.SideLong:
		if imbalance < -threshold {
			return warn(0.8, "order flow ask-heavy against long")
		}
	case types.SideShort:
		if imbalance > threshold {
			return warn(0.8, "order flow bid-heavy against short")
		}
	}
	return allow()
}

// volumeProfileFilter bonuses a candidate whose suggested price sits near a
// high-volume node; it never blocks on its own.
func volumeProfileFilter(c Candidate, ctx FilterContext, _ config.ParameterRecord) Verdict {
	if ctx.VolumeNodeWidth <= 0 {
		return allow()
	}
	if math.Abs(c.SuggestedPrice-ctx.VolumeNodePrice) <= ctx.VolumeNodeWidth {
		return warn(1.1, "near high-volume node")
	}
	return allow()
}

// fundingRateFilter rejects a long into excessive positive funding (longs
// pay shorts while it is positive) and a short into excessive negative
// funding (shorts pay longs).
func fundingRateFilter(c Candidate, ctx FilterContext, _ config.ParameterRecord) Verdict {
	const maxPositiveRate = 0.0005
	const maxNegativeRate = -0.0005

	if c.Side == types.SideLong && ctx.FundingRate > maxPositiveRate {
		return block("funding rate too positive for a new long")
	}
	if c.Side == types.SideShort && ctx.FundingRate < maxNegativeRate {
		return block("funding rate too negative for a new short")
	}
	return allow()
}

// pivotProximityFilter bonuses a candidate near a classical pivot level.
func pivotProximityFilter(c Candidate, ctx FilterContext, _ config.ParameterRecord) Verdict {
	if ctx.PivotPrice <= 0 || ctx.PivotProximityPct <= 0 {
		return allow()
	}
	dist := math.Abs(c.SuggestedPrice-ctx.PivotPrice) / c.SuggestedPrice
	if dist <= ctx.PivotProximityPct {
		return warn(1.1, "near classical pivot")
	}
	return allow()
}
