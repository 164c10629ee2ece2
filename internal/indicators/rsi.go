package indicators

import (
	"errors"
	"math"

	"github.com/perpscalp/engine/pkg/types"
)

// RSI is the Relative Strength Index using Wilder's smoothing: seeded from
// a plain average of gains/losses over the window, then updated with
// alpha = 1/period on each new candle.
type RSI struct {
	period      int
	lastValue   float64
	avgGain     float64
	avgLoss     float64
	initialized bool
}

// NewRSI creates an RSI over the given period.
func NewRSI(period int) *RSI { return &RSI{period: period} }

// Calculate returns the current RSI value (0-100).
func (r *RSI) Calculate(candles []types.Candle) (float64, error) {
	if len(candles) < r.period+1 {
		return 0, errors.New("indicators: insufficient candles for RSI")
	}
	if !r.initialized {
		return r.seed(candles)
	}
	return r.update(candles[len(candles)-2].Close, candles[len(candles)-1].Close), nil
}

func (r *RSI) seed(candles []types.Candle) (float64, error) {
	recent := candles[len(candles)-r.period-1:]
	gains, losses := 0.0, 0.0
	for i := 1; i < len(recent); i++ {
		change := recent[i].Close - recent[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += math.Abs(change)
		}
	}
	r.avgGain = gains / float64(r.period)
	r.avgLoss = losses / float64(r.period)
	r.initialized = true
	r.lastValue = r.rsiFromAverages()
	return r.lastValue, nil
}

func (r *RSI) update(prevClose, close float64) float64 {
	change := close - prevClose
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = math.Abs(change)
	}
	alpha := 1.0 / float64(r.period)
	r.avgGain = (r.avgGain * (1 - alpha)) + (gain * alpha)
	r.avgLoss = (r.avgLoss * (1 - alpha)) + (loss * alpha)
	r.lastValue = r.rsiFromAverages()
	return r.lastValue
}

func (r *RSI) rsiFromAverages() float64 {
	if r.avgLoss == 0 {
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - (100 / (1 + rs))
}

func (r *RSI) LastValue() float64   { return r.lastValue }
func (r *RSI) Name() string         { return "RSI" }
func (r *RSI) RequiredPeriods() int { return r.period + 1 }
func (r *RSI) Reset() {
	r.avgGain, r.avgLoss, r.lastValue = 0, 0, 0
	r.initialized = false
}
