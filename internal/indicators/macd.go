package indicators

import (
	"errors"

	"github.com/perpscalp/engine/pkg/types"
)

// MACD is the Moving Average Convergence Divergence oscillator: the
// difference of a fast and slow EMA, with a signal line that is itself an
// EMA of the MACD line, and a histogram (MACD minus signal).
type MACD struct {
	fast, slow, signal int
	fastEMA, slowEMA    *EMA
	lastMACD            float64
	lastSignal          float64
	lastHistogram       float64
	signalInitialized   bool
}

// NewMACD creates a MACD with the given fast/slow/signal periods.
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast: fast, slow: slow, signal: signal,
		fastEMA: NewEMA(fast), slowEMA: NewEMA(slow),
	}
}

// Calculate updates the fast/slow EMAs from candles, derives the MACD
// line, and folds it into the signal EMA and histogram.
func (m *MACD) Calculate(candles []types.Candle) (float64, error) {
	if len(candles) < m.slow {
		return 0, errors.New("indicators: insufficient candles for MACD")
	}
	fast, err := m.fastEMA.Calculate(candles)
	if err != nil {
		return 0, err
	}
	slow, err := m.slowEMA.Calculate(candles)
	if err != nil {
		return 0, err
	}
	m.lastMACD = fast - slow

	if !m.signalInitialized {
		m.lastSignal = m.lastMACD
		m.signalInitialized = true
	} else {
		alpha := 2.0 / float64(m.signal+1)
		m.lastSignal = (m.lastMACD * alpha) + (m.lastSignal * (1 - alpha))
	}
	m.lastHistogram = m.lastMACD - m.lastSignal
	return m.lastMACD, nil
}

// SignalLine returns the most recently computed signal-line value.
func (m *MACD) SignalLine() float64 { return m.lastSignal }

// Histogram returns MACD minus signal.
func (m *MACD) Histogram() float64 { return m.lastHistogram }

// BullishCrossover reports a positive-histogram bullish crossover.
func (m *MACD) BullishCrossover() bool { return m.lastMACD > m.lastSignal && m.lastHistogram > 0 }

// BearishCrossover reports a negative-histogram bearish crossover.
func (m *MACD) BearishCrossover() bool { return m.lastMACD < m.lastSignal && m.lastHistogram < 0 }

func (m *MACD) Name() string         { return "MACD" }
func (m *MACD) RequiredPeriods() int { return m.slow + m.signal }
func (m *MACD) Reset() {
	m.fastEMA.Reset()
	m.slowEMA.Reset()
	m.lastMACD, m.lastSignal, m.lastHistogram = 0, 0, 0
	m.signalInitialized = false
}
