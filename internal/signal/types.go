// Package signal turns Market Data Registry indicator snapshots into trade
// candidates: five independent rules vote, the votes aggregate by side, a
// counter-trend block and a regime-scaled strength/ADX threshold cull the
// weak ones, and survivors pass through a fixed nine-filter pipeline before
// the Risk Manager ever sees them.
package signal

import (
	"time"

	"github.com/perpscalp/engine/internal/marketdata"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/pkg/types"
)

// Candidate is one side's worth of signal for a symbol in a single cycle.
// Generate() produces at most one long and one short candidate per symbol.
type Candidate struct {
	Symbol         string
	Side           types.Side
	Strength       float64
	Confidence     float64
	Regime         regime.Type
	TimestampMs    int64
	SuggestedPrice float64
	Indicators     marketdata.IndicatorSnapshot
	FiltersPassed  []string
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func nowMillis() int64 { return types.UnixMillis(time.Now()) }
