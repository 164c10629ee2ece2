package indicators

import (
	"errors"
	"math"

	"github.com/perpscalp/engine/pkg/types"
)

// ATR is the Average True Range: a volatility measure smoothed with
// Wilder's method, implemented here as an EMA with alpha 1/period over True
// Range values.
// Used by the Exit Decision Engine to size SL/TP distances in price terms
// (sl_atr_multiplier, tp_atr_multiplier) instead of fixed percentages.
type ATR struct {
	period      int
	ema         *EMA
	lastClose   float64
	initialized bool
}

// NewATR creates an ATR over the given period.
func NewATR(period int) *ATR {
	ema := NewEMA(period)
	ema.alpha = 1.0 / float64(period)
	return &ATR{period: period, ema: ema}
}

// Calculate feeds True Range values for the full candle history into the
// smoothing EMA and returns the latest ATR.
func (a *ATR) Calculate(candles []types.Candle) (float64, error) {
	if len(candles) < a.period {
		return 0, errors.New("indicators: insufficient candles for ATR")
	}
	if !a.initialized {
		return a.seed(candles)
	}
	latest := candles[len(candles)-1]
	tr := trueRange(latest, a.lastClose)
	value := a.ema.UpdateSingle(tr)
	a.lastClose = latest.Close
	return value, nil
}

func (a *ATR) seed(candles []types.Candle) (float64, error) {
	for i, candle := range candles {
		var tr float64
		if i > 0 {
			tr = trueRange(candle, a.lastClose)
		} else {
			tr = candle.High - candle.Low
		}
		a.ema.UpdateSingle(tr)
		a.lastClose = candle.Close
	}
	a.initialized = true
	return a.ema.LastValue(), nil
}

func trueRange(current types.Candle, prevClose float64) float64 {
	hl := current.High - current.Low
	hc := math.Abs(current.High - prevClose)
	lc := math.Abs(current.Low - prevClose)
	return math.Max(hl, math.Max(hc, lc))
}

// LastValue returns the most recently computed ATR.
func (a *ATR) LastValue() float64 { return a.ema.LastValue() }

func (a *ATR) Name() string         { return "ATR" }
func (a *ATR) RequiredPeriods() int { return a.period + 1 }
func (a *ATR) Reset() {
	a.ema.Reset()
	a.lastClose = 0
	a.initialized = false
}
