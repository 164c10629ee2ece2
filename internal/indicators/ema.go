package indicators

import (
	"errors"

	"github.com/perpscalp/engine/pkg/types"
)

// EMA is the Exponential Moving Average: alpha = 2/(period+1), seeded from
// an SMA of the first window and updated incrementally thereafter.
type EMA struct {
	period      int
	alpha       float64
	lastValue   float64
	initialized bool
}

// NewEMA creates an EMA over the given period.
func NewEMA(period int) *EMA {
	return &EMA{period: period, alpha: 2.0 / float64(period+1)}
}

// Calculate returns the current EMA value given the full candle history.
// The first call seeds from an SMA of the last `period` closes; subsequent
// calls update from the final candle only, so callers should feed a
// monotonically growing slice for the incremental path to pay off.
func (e *EMA) Calculate(candles []types.Candle) (float64, error) {
	if len(candles) < e.period {
		return 0, errors.New("indicators: insufficient candles for EMA")
	}
	if !e.initialized {
		return e.seed(candles)
	}
	return e.UpdateSingle(candles[len(candles)-1].Close), nil
}

func (e *EMA) seed(candles []types.Candle) (float64, error) {
	sum := 0.0
	start := len(candles) - e.period
	for i := start; i < len(candles); i++ {
		sum += candles[i].Close
	}
	e.lastValue = sum / float64(e.period)
	e.initialized = true
	return e.lastValue, nil
}

// UpdateSingle folds one new close into the running EMA, initializing on
// first call if Calculate was never invoked.
func (e *EMA) UpdateSingle(value float64) float64 {
	if !e.initialized {
		e.lastValue = value
		e.initialized = true
		return e.lastValue
	}
	e.lastValue = (value * e.alpha) + (e.lastValue * (1 - e.alpha))
	return e.lastValue
}

func (e *EMA) LastValue() float64    { return e.lastValue }
func (e *EMA) IsInitialized() bool   { return e.initialized }
func (e *EMA) Name() string          { return "EMA" }
func (e *EMA) RequiredPeriods() int  { return e.period }
func (e *EMA) Reset() {
	e.lastValue = 0
	e.initialized = false
}
