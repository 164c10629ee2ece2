package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/perpscalp/engine/internal/regime"
)

const (
	highVolatility = 0.01  // matches the regime detector's own "high vol" failsafe
	lowVolatility  = 0.003
)

func regimeLeverageFactor(r regime.Type) decimal.Decimal {
	switch r {
	case regime.Trending:
		return decimal.NewFromFloat(1.2)
	case regime.Choppy:
		return decimal.NewFromFloat(0.8)
	default:
		return decimal.NewFromFloat(1.0)
	}
}

func volatilityLeverageFactor(volatility float64) decimal.Decimal {
	switch {
	case volatility > highVolatility:
		return decimal.NewFromFloat(0.7)
	case volatility < lowVolatility:
		return decimal.NewFromFloat(1.3)
	default:
		return decimal.NewFromFloat(1.0)
	}
}

// AdaptiveLeverage computes leverage from strength, regime, and volatility,
// clamps to [3, 30], and buckets to the nearest discrete level below it.
func AdaptiveLeverage(strength float64, r regime.Type, volatility float64) int64 {
	lev := baseLeverage(ClassifyStrength(strength)).
		Mul(regimeLeverageFactor(r)).
		Mul(volatilityLeverageFactor(volatility))

	if lev.LessThan(decimal.NewFromInt(3)) {
		lev = decimal.NewFromInt(3)
	}
	if lev.GreaterThan(decimal.NewFromInt(30)) {
		lev = decimal.NewFromInt(30)
	}
	return bucketLeverage(lev)
}

// LeverageTracker pins a symbol's leverage for the lifetime of its open
// position: the first sizing call for a symbol computes and stores the
// adaptive leverage; every subsequent call (including a position addition)
// reuses the stored value until Release is called on close.
type LeverageTracker struct {
	mu     sync.Mutex
	active map[string]int64
}

func NewLeverageTracker() *LeverageTracker {
	return &LeverageTracker{active: make(map[string]int64)}
}

// LeverageFor returns the pinned leverage for symbol if one is active,
// otherwise computes, pins, and returns a fresh one.
func (t *LeverageTracker) LeverageFor(symbol string, strength float64, r regime.Type, volatility float64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if lev, ok := t.active[symbol]; ok {
		return lev
	}
	lev := AdaptiveLeverage(strength, r, volatility)
	t.active[symbol] = lev
	return lev
}

// Release un-pins a symbol's leverage once its position is fully closed, so
// the next position on that symbol computes fresh.
func (t *LeverageTracker) Release(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, symbol)
}
