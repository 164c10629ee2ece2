// Package risk turns a filtered signal candidate into a sized order:
// balance-profile base sizing, regime/symbol/strength multipliers, adaptive
// leverage, and a fixed set of fail-closed margin gates. All money math here
// uses decimal.Decimal — nothing in this package touches float64 for a
// figure that ends up in a fill or a margin call.
package risk

import "github.com/shopspring/decimal"

// BalanceProfile buckets account equity into a sizing tier. Larger accounts
// get a higher base position size and a higher concurrent-position cap.
type BalanceProfile int

const (
	ProfileSmall BalanceProfile = iota
	ProfileMedium
	ProfileLarge
)

// ClassifyBalance buckets equity into a BalanceProfile using the engine's
// code-level failsafe breakpoints.
func ClassifyBalance(equity decimal.Decimal) BalanceProfile {
	switch {
	case equity.LessThan(decimal.NewFromInt(1000)):
		return ProfileSmall
	case equity.LessThan(decimal.NewFromInt(10000)):
		return ProfileMedium
	default:
		return ProfileLarge
	}
}

// baseSizing is the (base_position_usd, size_boost, max_concurrent) triple
// per balance profile.
type baseSizing struct {
	BasePositionUSD decimal.Decimal
	SizeBoost       decimal.Decimal
	MaxConcurrent   int
}

func sizingFor(p BalanceProfile) baseSizing {
	switch p {
	case ProfileSmall:
		return baseSizing{decimal.NewFromInt(50), decimal.NewFromFloat(1.0), 8}
	case ProfileMedium:
		return baseSizing{decimal.NewFromInt(150), decimal.NewFromFloat(1.2), 9}
	default:
		return baseSizing{decimal.NewFromInt(400), decimal.NewFromFloat(1.5), 10}
	}
}

// StrengthCategory buckets a candidate's strength into one of five bins used
// by both position sizing and adaptive leverage.
type StrengthCategory int

const (
	VeryWeak StrengthCategory = iota
	Weak
	Medium
	Strong
	VeryStrong
)

func ClassifyStrength(strength float64) StrengthCategory {
	switch {
	case strength < 0.2:
		return VeryWeak
	case strength < 0.4:
		return Weak
	case strength < 0.6:
		return Medium
	case strength < 0.8:
		return Strong
	default:
		return VeryStrong
	}
}

// strengthSizeMultiplier bins strength into a 0.5x-1.5x position size
// multiplier.
func strengthSizeMultiplier(cat StrengthCategory) decimal.Decimal {
	switch cat {
	case VeryWeak:
		return decimal.NewFromFloat(0.5)
	case Weak:
		return decimal.NewFromFloat(0.75)
	case Medium:
		return decimal.NewFromFloat(1.0)
	case Strong:
		return decimal.NewFromFloat(1.25)
	default:
		return decimal.NewFromFloat(1.5)
	}
}

// baseLeverage is the strength-category starting point before regime and
// volatility factors are applied.
func baseLeverage(cat StrengthCategory) decimal.Decimal {
	switch cat {
	case VeryWeak:
		return decimal.NewFromInt(3)
	case Weak:
		return decimal.NewFromInt(5)
	case Medium:
		return decimal.NewFromInt(10)
	case Strong:
		return decimal.NewFromInt(20)
	default:
		return decimal.NewFromInt(30)
	}
}

// leverageLevels is the fixed discrete ladder adaptive leverage buckets down
// to after applying continuous regime/volatility factors.
var leverageLevels = []int64{3, 5, 10, 20, 30}

// bucketLeverage snaps a continuous leverage value down to the nearest
// leverageLevels entry not exceeding it (never rounds up past a lower
// bucket's safety margin).
func bucketLeverage(v decimal.Decimal) int64 {
	best := leverageLevels[0]
	for _, lvl := range leverageLevels {
		if v.GreaterThanOrEqual(decimal.NewFromInt(lvl)) {
			best = lvl
		}
	}
	return best
}
