package indicators

import (
	"errors"
	"math"

	"github.com/perpscalp/engine/pkg/types"
)

// Bollinger computes Bollinger Bands: an SMA middle band and upper/lower
// bands at stdDevMultiple standard deviations from it.
type Bollinger struct {
	period         int
	stdDevMultiple float64
}

// NewBollinger creates a Bollinger Bands calculator. stdDevMultiple is a
// constructor argument; the Market Data Registry passes its fixed bbStdDev
// (2.0), and no parameter-record field resolves it.
func NewBollinger(period int, stdDevMultiple float64) *Bollinger {
	return &Bollinger{period: period, stdDevMultiple: stdDevMultiple}
}

// Bands holds one evaluation's upper/middle/lower bands and the price's
// position within them as a 0-100 percentage (PercentB).
type Bands struct {
	Upper, Middle, Lower float64
	PercentB             float64
}

// Calculate evaluates the bands from the last `period` closes.
func (b *Bollinger) Calculate(candles []types.Candle) (Bands, error) {
	if len(candles) < b.period {
		return Bands{}, errors.New("indicators: insufficient candles for Bollinger")
	}
	recent := candles[len(candles)-b.period:]
	closes := make([]float64, len(recent))
	for i, c := range recent {
		closes[i] = c.Close
	}

	middle := mean(closes)
	stdDev := stdDeviation(closes, middle)
	upper := middle + b.stdDevMultiple*stdDev
	lower := middle - b.stdDevMultiple*stdDev

	current := closes[len(closes)-1]
	percentB := 50.0
	if upper != lower {
		percentB = ((current - lower) / (upper - lower)) * 100
	}

	return Bands{Upper: upper, Middle: middle, Lower: lower, PercentB: percentB}, nil
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDeviation(xs []float64, mean float64) float64 {
	sumSq := 0.0
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

func (b *Bollinger) Name() string         { return "Bollinger" }
func (b *Bollinger) RequiredPeriods() int { return b.period }
