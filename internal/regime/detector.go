package regime

import (
	"fmt"
	"math"

	"github.com/perpscalp/engine/internal/indicators"
	"github.com/perpscalp/engine/pkg/types"
)

const (
	longSMAPeriod  = 50
	donchianPeriod = 20
	atrPeriod      = 14
	adxPeriod      = 14
	reversalWindow = 20
	volumeWindow   = 20
)

// Detector classifies market regime for one symbol from a stream of closed
// 1m candles. One Detector owns one symbol's indicator state — its ATR,
// SMA, ADX and Donchian instances are updated incrementally as candles
// arrive, so the same Detector must be reused across calls for a symbol
// rather than recreated per candle.
type Detector struct {
	atr      *indicators.ATR
	smaLong  *indicators.SMA
	adx      *indicators.ADX
	donchian *indicators.Donchian

	strengthPct   float64 // |trend_deviation| above this counts as strong
	trendingADX   float64 // ADX at/above this counts toward trending_score
	rangingADX    float64 // ADX below this counts toward ranging_score
	narrowWidth   float64 // range_width_pct below this counts as narrow
	highVol       float64 // volatility above this counts as high
	reversalHeavy int     // reversal count above this counts as "many"

	lastRegime Type
	hasPrior   bool
}

// NewDetector creates a Detector with the conventional thresholds (ADX 20
// for trend, 0.5% deviation for trend strength). Production callers
// override these per the parameter precedence chain; these are the
// code-level failsafes applied when nothing else resolves them.
func NewDetector() *Detector {
	return &Detector{
		atr:      indicators.NewATR(atrPeriod),
		smaLong:  indicators.NewSMA(longSMAPeriod),
		adx:      indicators.NewADX(adxPeriod),
		donchian: indicators.NewDonchian(donchianPeriod),

		strengthPct:   0.005,
		trendingADX:   20.0,
		rangingADX:    16.0,
		narrowWidth:   0.015,
		highVol:       0.01,
		reversalHeavy: 10,

		lastRegime: Choppy,
	}
}

// WithThresholds overrides the classifier's tuning constants, typically
// resolved from a symbol/regime's ParameterRecord (ADXThreshold feeds
// trendingADX; rangingADX follows at 0.8x, mirroring the conventional gap
// between "clearly trending" and "clearly not trending" ADX readings).
func (d *Detector) WithThresholds(trendingADX, strengthPct float64) *Detector {
	d.trendingADX = trendingADX
	d.rangingADX = trendingADX * 0.8
	d.strengthPct = strengthPct
	return d
}

func (d *Detector) minRequiredPeriods() int {
	max := longSMAPeriod
	if adxPeriod*3 > max {
		max = adxPeriod * 3
	}
	if donchianPeriod > max {
		max = donchianPeriod
	}
	if reversalWindow > max {
		max = reversalWindow
	}
	return max
}

// Detect classifies the regime from candle history ending at the latest
// closed 1m candle.
func (d *Detector) Detect(candles []types.Candle) (Signal, error) {
	if len(candles) < d.minRequiredPeriods() {
		return Signal{}, fmt.Errorf("regime: insufficient candles, need at least %d, have %d", d.minRequiredPeriods(), len(candles))
	}

	metrics, adxValue, err := d.computeMetrics(candles)
	if err != nil {
		return Signal{}, fmt.Errorf("regime: metric computation failed: %w", err)
	}

	regimeType, confidence, metrics := d.classify(metrics, adxValue)
	d.hasPrior = true
	d.lastRegime = regimeType

	latest := candles[len(candles)-1]
	return Signal{
		Type:       regimeType,
		Confidence: confidence,
		Timestamp:  types.TimeFromMillis(latest.TimestampMs),
		Metrics:    metrics,
	}, nil
}

// computeMetrics derives the five raw inputs the classifier scores:
// volatility, range_width_pct, trend_deviation, di_gap and a recent
// reversal count, plus a volume ratio used by the choppy score. It also
// returns the raw ADX reading, which the classifier scores directly
// against trendingADX/rangingADX.
func (d *Detector) computeMetrics(candles []types.Candle) (Metrics, float64, error) {
	latest := candles[len(candles)-1]
	price := latest.Close

	atrValue, err := d.atr.Calculate(candles)
	if err != nil {
		return Metrics{}, 0, fmt.Errorf("ATR: %w", err)
	}

	smaValue, err := d.smaLong.Calculate(candles)
	if err != nil {
		return Metrics{}, 0, fmt.Errorf("SMA: %w", err)
	}

	adxValue, err := d.adx.Calculate(candles)
	if err != nil {
		return Metrics{}, 0, fmt.Errorf("ADX: %w", err)
	}

	if _, err := d.donchian.Calculate(candles); err != nil {
		return Metrics{}, 0, fmt.Errorf("Donchian: %w", err)
	}

	metrics := Metrics{
		Volatility:    atrValue / price,
		RangeWidthPct: d.donchian.Width(),
		DIGap:         d.adx.DIGap(),
		ReversalCount: countReversals(candles, reversalWindow),
		VolumeRatio:   volumeRatio(candles, volumeWindow),
	}
	if smaValue != 0 {
		metrics.TrendDeviation = (price - smaValue) / smaValue
	}

	return metrics, adxValue, nil
}

// countReversals counts direction changes among the closes of the last
// `window` candles — a proxy for choppiness: a trend reverses rarely, a
// choppy market flips direction often.
func countReversals(candles []types.Candle, window int) int {
	if len(candles) < window+1 {
		window = len(candles) - 1
	}
	if window < 2 {
		return 0
	}
	start := len(candles) - window - 1
	reversals := 0
	prevDirection := 0
	for i := start + 1; i < len(candles); i++ {
		delta := candles[i].Close - candles[i-1].Close
		var direction int
		switch {
		case delta > 0:
			direction = 1
		case delta < 0:
			direction = -1
		default:
			direction = prevDirection
		}
		if prevDirection != 0 && direction != 0 && direction != prevDirection {
			reversals++
		}
		if direction != 0 {
			prevDirection = direction
		}
	}
	return reversals
}

// volumeRatio compares the latest candle's volume to the average of the
// preceding `window` candles. A ratio far from 1.0 in either direction
// reads as abnormal and feeds the choppy score.
func volumeRatio(candles []types.Candle, window int) float64 {
	if len(candles) < window+1 {
		window = len(candles) - 1
	}
	if window < 1 {
		return 1.0
	}
	start := len(candles) - 1 - window
	sum := 0.0
	for i := start; i < len(candles)-1; i++ {
		sum += candles[i].Volume
	}
	avg := sum / float64(window)
	if avg == 0 {
		return 1.0
	}
	return candles[len(candles)-1].Volume / avg
}

// classify scores all three regimes from the weighted sub-conditions and
// returns the argmax plus its score as confidence. Each branch's weights
// sum to at most 1.0, so every score stays bounded in [0,1] by
// construction. A tie among the top score(s) favors the previous regime
// (hysteresis), so a bar that is genuinely ambiguous does not flap the
// classification back and forth.
func (d *Detector) classify(m Metrics, adxValue float64) (Type, float64, Metrics) {
	trendDeviationAbs := math.Abs(m.TrendDeviation)

	trendingScore := 0.0
	if trendDeviationAbs > d.strengthPct {
		trendingScore += 0.3
	}
	if adxValue >= d.trendingADX {
		trendingScore += 0.3
	}
	if m.DIGap > 3 {
		trendingScore += 0.3
	}

	rangingScore := 0.0
	if m.RangeWidthPct < d.narrowWidth {
		rangingScore += 0.4
	}
	if trendDeviationAbs < d.strengthPct/2 {
		rangingScore += 0.3
	}
	if adxValue < d.rangingADX {
		rangingScore += 0.3
	}

	choppyScore := 0.0
	if m.Volatility > d.highVol {
		choppyScore += 0.4
	}
	if m.ReversalCount > d.reversalHeavy {
		choppyScore += 0.3
	}
	if m.VolumeRatio > 1.5 || m.VolumeRatio < 0.5 {
		choppyScore += 0.3
	}

	m.TrendingScore = trendingScore
	m.RangingScore = rangingScore
	m.ChoppyScore = choppyScore

	previous := Choppy
	if d.hasPrior {
		previous = d.lastRegime
	}
	regimeType, confidence := argmax(trendingScore, rangingScore, choppyScore, previous, d.hasPrior)
	return regimeType, confidence, m
}

// argmax picks the highest of the three scores. When more than one regime
// shares the top score, the previous regime wins if it is among the tied
// candidates (hysteresis); otherwise ties resolve in a fixed Trending >
// Ranging > Choppy order. On the very first classification there is no
// previous regime to favor, so the fixed order applies outright.
func argmax(trending, ranging, choppy float64, previous Type, hasPrevious bool) (Type, float64) {
	scores := map[Type]float64{Trending: trending, Ranging: ranging, Choppy: choppy}

	best := scores[Trending]
	for _, s := range scores {
		if s > best {
			best = s
		}
	}

	tied := make([]Type, 0, 3)
	for _, t := range []Type{Trending, Ranging, Choppy} {
		if scores[t] == best {
			tied = append(tied, t)
		}
	}

	if hasPrevious {
		for _, t := range tied {
			if t == previous {
				return previous, best
			}
		}
	}
	return tied[0], best
}

// CurrentRegime returns the most recently confirmed regime.
func (d *Detector) CurrentRegime() Type { return d.lastRegime }
