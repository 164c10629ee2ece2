package indicators

import (
	"errors"

	"github.com/perpscalp/engine/pkg/types"
)

// SMA is the Simple Moving Average over closes.
type SMA struct {
	period    int
	lastValue float64
}

// NewSMA creates an SMA over the given period.
func NewSMA(period int) *SMA { return &SMA{period: period} }

// Calculate averages the last `period` closes.
func (s *SMA) Calculate(candles []types.Candle) (float64, error) {
	if len(candles) < s.period {
		return 0, errors.New("indicators: insufficient candles for SMA")
	}
	sum := 0.0
	for i := len(candles) - s.period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	s.lastValue = sum / float64(s.period)
	return s.lastValue, nil
}

func (s *SMA) Name() string         { return "SMA" }
func (s *SMA) RequiredPeriods() int { return s.period }
func (s *SMA) Reset()               { s.lastValue = 0 }
