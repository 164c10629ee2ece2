// Package indicators computes technical indicators over candle history
// held by the Market Data Registry. Indicators are pure compute: they hold
// only the smoothing state needed for incremental updates and never make a
// trade decision themselves — that's the Regime Detector's and Signal
// Generator's job.
package indicators

import "github.com/perpscalp/engine/pkg/types"

// Indicator is the shared shape every indicator in this package satisfies,
// used by the Regime Detector to iterate a configured set uniformly.
type Indicator interface {
	Calculate(candles []types.Candle) (float64, error)
	Name() string
	RequiredPeriods() int
	Reset()
}
