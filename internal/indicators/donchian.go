package indicators

import (
	"errors"

	"github.com/perpscalp/engine/pkg/types"
)

// Donchian tracks the highest high and lowest low over a rolling window.
// The Regime Detector uses channel width (relative to the middle line) as
// one of its weighted signals: a wide channel suggests trending conditions,
// a narrow one suggests ranging/choppy conditions.
type Donchian struct {
	period               int
	highs, lows          []float64
	writeIndex, count    int
	upper, lower, middle float64
}

// NewDonchian creates a Donchian channel calculator over the given period.
func NewDonchian(period int) *Donchian {
	return &Donchian{period: period, highs: make([]float64, period), lows: make([]float64, period)}
}

// Calculate folds the latest candle into the rolling window and
// recomputes the channel, seeding the window from history on first call.
func (d *Donchian) Calculate(candles []types.Candle) (float64, error) {
	if len(candles) < d.period {
		return 0, errors.New("indicators: insufficient candles for Donchian")
	}
	if d.count < d.period {
		start := len(candles) - d.period
		for i := 0; i < d.period; i++ {
			d.highs[i] = candles[start+i].High
			d.lows[i] = candles[start+i].Low
		}
		d.count = d.period
		d.writeIndex = 0
		d.recompute()
		return d.middle, nil
	}

	latest := candles[len(candles)-1]
	d.highs[d.writeIndex] = latest.High
	d.lows[d.writeIndex] = latest.Low
	d.writeIndex = (d.writeIndex + 1) % d.period
	d.recompute()
	return d.middle, nil
}

func (d *Donchian) recompute() {
	d.upper, d.lower = d.highs[0], d.lows[0]
	for i := 1; i < d.count; i++ {
		if d.highs[i] > d.upper {
			d.upper = d.highs[i]
		}
		if d.lows[i] < d.lower {
			d.lower = d.lows[i]
		}
	}
	d.middle = (d.upper + d.lower) / 2.0
}

// Width returns channel width as a fraction of the middle price — the
// value the Regime Detector weighs for trend-vs-range classification.
func (d *Donchian) Width() float64 {
	if d.middle == 0 {
		return 0
	}
	return (d.upper - d.lower) / d.middle
}

// Channel returns the current upper/middle/lower values.
func (d *Donchian) Channel() (upper, middle, lower float64) { return d.upper, d.middle, d.lower }

func (d *Donchian) Name() string         { return "Donchian" }
func (d *Donchian) RequiredPeriods() int { return d.period }
func (d *Donchian) Reset() {
	d.writeIndex, d.count = 0, 0
	d.upper, d.lower, d.middle = 0, 0, 0
	for i := range d.highs {
		d.highs[i] = 0
		d.lows[i] = 0
	}
}
