package risk

import (
	"github.com/shopspring/decimal"

	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

func regimeMultiplier(params config.ParameterRecord) decimal.Decimal {
	if params.RegimeSizeMultiplier <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromFloat(params.RegimeSizeMultiplier)
}

// SizePosition converts a candidate's strength into a contract quantity:
// base_position_usd (by balance profile) × size_boost × regime multiplier
// × strength multiplier, converted to contracts via the instrument's
// contract value and rounded down to its lot size.
func SizePosition(equity decimal.Decimal, strength float64, price decimal.Decimal, instrument types.Instrument, params config.ParameterRecord) (contracts, notionalUSD decimal.Decimal) {
	profile := ClassifyBalance(equity)
	sizing := sizingFor(profile)

	notionalUSD = sizing.BasePositionUSD.
		Mul(sizing.SizeBoost).
		Mul(regimeMultiplier(params)).
		Mul(strengthSizeMultiplier(ClassifyStrength(strength)))

	ctVal := decimal.NewFromFloat(instrument.CtVal)
	if ctVal.IsZero() {
		ctVal = decimal.NewFromInt(1)
	}
	rawContracts := notionalUSD.Div(price.Mul(ctVal))

	lotSize := decimal.NewFromFloat(instrument.LotSize)
	if lotSize.IsZero() {
		return rawContracts, notionalUSD
	}
	lots := rawContracts.Div(lotSize).Floor()
	contracts = lots.Mul(lotSize)
	return contracts, notionalUSD
}

// maxConcurrentPositions returns the balance profile's global concurrent
// position cap.
func maxConcurrentPositions(equity decimal.Decimal) int {
	return sizingFor(ClassifyBalance(equity)).MaxConcurrent
}
