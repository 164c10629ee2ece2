package indicators

import (
	"errors"
	"math"

	"github.com/perpscalp/engine/pkg/types"
)

// ADX is the Average Directional Index: trend strength on a 0-100 scale,
// independent of direction. Above ~20 indicates a trending market; above
// ~40, a strong trend. Uses Wilder's smoothing for TR/+DM/-DM/DX.
type ADX struct {
	period int

	trSum, plusDMSum, minusDMSum, adxSum float64
	prevHigh, prevLow, prevClose         float64
	lastADX                              float64
	initialized                          bool
}

// NewADX creates an ADX over the given period.
func NewADX(period int) *ADX { return &ADX{period: period} }

// Calculate returns the current ADX value. Needs 3x period candles for a
// reliable initial seed (TR/DM accumulation plus DX smoothing window).
func (a *ADX) Calculate(candles []types.Candle) (float64, error) {
	if len(candles) < a.period*3 {
		return 0, errors.New("indicators: insufficient candles for ADX")
	}
	if !a.initialized {
		return a.seed(candles)
	}
	return a.update(candles[len(candles)-1]), nil
}

func (a *ADX) seed(candles []types.Candle) (float64, error) {
	start := len(candles) - a.period*2
	if start < 1 {
		start = 1
	}

	for i := start; i < start+a.period && i < len(candles); i++ {
		tr, plusDM, minusDM := trueRangeAndDM(candles[i], candles[i-1])
		a.trSum += tr
		a.plusDMSum += plusDM
		a.minusDMSum += minusDM
	}

	dxValues := []float64{a.dx()}
	for i := start + a.period; i < len(candles); i++ {
		tr, plusDM, minusDM := trueRangeAndDM(candles[i], candles[i-1])
		a.trSum = a.trSum - (a.trSum / float64(a.period)) + tr
		a.plusDMSum = a.plusDMSum - (a.plusDMSum / float64(a.period)) + plusDM
		a.minusDMSum = a.minusDMSum - (a.minusDMSum / float64(a.period)) + minusDM
		dxValues = append(dxValues, a.dx())
	}

	if len(dxValues) >= a.period {
		sum := 0.0
		for i := 0; i < a.period; i++ {
			sum += dxValues[i]
		}
		a.lastADX = sum / float64(a.period)
		a.adxSum = a.lastADX * float64(a.period)
	}

	last := candles[len(candles)-1]
	a.prevHigh, a.prevLow, a.prevClose = last.High, last.Low, last.Close
	a.initialized = true
	return a.lastADX, nil
}

func (a *ADX) update(candle types.Candle) float64 {
	tr := math.Max(candle.High-candle.Low, math.Max(math.Abs(candle.High-a.prevClose), math.Abs(candle.Low-a.prevClose)))
	a.trSum = a.trSum - (a.trSum / float64(a.period)) + tr

	plusDM, minusDM := directionalMovement(candle.High, candle.Low, a.prevHigh, a.prevLow)
	a.plusDMSum = a.plusDMSum - (a.plusDMSum / float64(a.period)) + plusDM
	a.minusDMSum = a.minusDMSum - (a.minusDMSum / float64(a.period)) + minusDM

	a.adxSum = a.adxSum - (a.adxSum / float64(a.period)) + a.dx()
	a.lastADX = a.adxSum / float64(a.period)

	a.prevHigh, a.prevLow, a.prevClose = candle.High, candle.Low, candle.Close
	return a.lastADX
}

func (a *ADX) dx() float64 {
	if a.trSum == 0 {
		return 0
	}
	plusDI := (a.plusDMSum / a.trSum) * 100
	minusDI := (a.minusDMSum / a.trSum) * 100
	diSum := plusDI + minusDI
	if diSum == 0 {
		return 0
	}
	return (math.Abs(plusDI-minusDI) / diSum) * 100
}

func trueRangeAndDM(current, previous types.Candle) (tr, plusDM, minusDM float64) {
	tr = math.Max(current.High-current.Low, math.Max(math.Abs(current.High-previous.Close), math.Abs(current.Low-previous.Close)))
	plusDM, minusDM = directionalMovement(current.High, current.Low, previous.High, previous.Low)
	return
}

func directionalMovement(high, low, prevHigh, prevLow float64) (plusDM, minusDM float64) {
	highDiff := high - prevHigh
	lowDiff := prevLow - low
	if highDiff > lowDiff && highDiff > 0 {
		plusDM = highDiff
	}
	if lowDiff > highDiff && lowDiff > 0 {
		minusDM = lowDiff
	}
	return
}

// LastValue returns the most recently computed ADX.
func (a *ADX) LastValue() float64 { return a.lastADX }

// IsTrending reports ADX above the conventional trending threshold.
func (a *ADX) IsTrending() bool { return a.lastADX > 20.0 }

// PlusDI returns the current +DI (positive directional indicator).
func (a *ADX) PlusDI() float64 {
	if a.trSum == 0 {
		return 0
	}
	return (a.plusDMSum / a.trSum) * 100
}

// MinusDI returns the current -DI (negative directional indicator).
func (a *ADX) MinusDI() float64 {
	if a.trSum == 0 {
		return 0
	}
	return (a.minusDMSum / a.trSum) * 100
}

// DIGap returns |+DI - -DI|, the directional separation the Regime
// Detector weighs toward a trending classification.
func (a *ADX) DIGap() float64 {
	gap := a.PlusDI() - a.MinusDI()
	if gap < 0 {
		return -gap
	}
	return gap
}

func (a *ADX) Name() string         { return "ADX" }
func (a *ADX) RequiredPeriods() int { return a.period * 3 }
func (a *ADX) Reset() {
	a.trSum, a.plusDMSum, a.minusDMSum, a.adxSum = 0, 0, 0, 0
	a.prevHigh, a.prevLow, a.prevClose = 0, 0, 0
	a.lastADX = 0
	a.initialized = false
}
