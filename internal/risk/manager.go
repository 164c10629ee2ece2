package risk

import (
	"github.com/shopspring/decimal"

	engineerrors "github.com/perpscalp/engine/internal/errors"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

const (
	maxMarginPerTradePct   = 0.10 // a single trade may not commit more than 10% of equity as margin
	maxPortfolioMarginPct  = 0.60 // total margin in use may not exceed 60% of equity
	maintenanceMarginFloor = 0.05 // equity net of this trade's margin must stay above 5% of its notional
	maxCorrelatedPositions = 2    // same cap the Signal Filter Pipeline's correlationFilter enforces pre-sizing
)

// SizingInput is everything the Risk Manager needs to size and gate one
// candidate. Price, Equity and MarginUsedTotal are already resolved by the
// caller from the Market Data Registry and the exchange balance snapshot.
type SizingInput struct {
	Symbol            string
	Side              types.Side
	Strength          float64
	Price             decimal.Decimal
	Equity            decimal.Decimal
	MarginUsedTotal   decimal.Decimal
	OpenPositionCount int
	SymbolAlreadyOpen bool
	Instrument        types.Instrument
	Regime            regime.Type
	Volatility        float64
	Params            config.ParameterRecord
	// CorrelatedCount is the number of currently-open positions whose
	// estimated correlation with Symbol clears the pipeline's threshold.
	CorrelatedCount int
}

// Decision is the sized outcome of a gate-passing candidate.
type Decision struct {
	Contracts   decimal.Decimal
	NotionalUSD decimal.Decimal
	Leverage    int64
	MarginUsed  decimal.Decimal
}

// Manager owns the leverage pin per symbol and applies every fail-closed
// gate before a candidate is allowed to become an order.
type Manager struct {
	leverage *LeverageTracker
}

func NewManager() *Manager {
	return &Manager{leverage: NewLeverageTracker()}
}

// Evaluate sizes a candidate and runs every gate in order. An error return
// means the candidate is rejected; the EngineError's Reason names the gate
// that failed.
func (m *Manager) Evaluate(in SizingInput) (Decision, error) {
	const component = "risk.Manager"

	if in.SymbolAlreadyOpen {
		return Decision{}, engineerrors.New(engineerrors.KindInvariantViolation, component, "Evaluate",
			"symbol_position_cap", "symbol already has an open position")
	}
	if in.OpenPositionCount >= maxConcurrentPositions(in.Equity) {
		return Decision{}, engineerrors.New(engineerrors.KindInvariantViolation, component, "Evaluate",
			"global_position_cap", "global concurrent position cap reached")
	}
	if in.CorrelatedCount+1 > maxCorrelatedPositions {
		return Decision{}, engineerrors.New(engineerrors.KindInvariantViolation, component, "Evaluate",
			"max_correlated_positions", "correlated exposure cap reached")
	}
	if in.Price.IsZero() || in.Price.IsNegative() {
		return Decision{}, engineerrors.New(engineerrors.KindInvariantViolation, component, "Evaluate",
			"invalid_price", "reference price is zero or negative")
	}

	contracts, notional := SizePosition(in.Equity, in.Strength, in.Price, in.Instrument, in.Params)
	if contracts.IsZero() {
		return Decision{}, engineerrors.New(engineerrors.KindInvariantViolation, component, "Evaluate",
			"zero_size", "sized position rounds to zero contracts at this lot size")
	}

	leverage := m.leverage.LeverageFor(in.Symbol, in.Strength, in.Regime, in.Volatility)
	marginRequired := notional.Div(decimal.NewFromInt(leverage))

	equity := in.Equity
	if marginRequired.GreaterThan(equity.Mul(decimal.NewFromFloat(maxMarginPerTradePct))) {
		return Decision{}, engineerrors.New(engineerrors.KindInvariantViolation, component, "Evaluate",
			"max_margin_per_trade", "required margin exceeds per-trade cap")
	}
	if in.MarginUsedTotal.Add(marginRequired).GreaterThan(equity.Mul(decimal.NewFromFloat(maxPortfolioMarginPct))) {
		return Decision{}, engineerrors.New(engineerrors.KindInvariantViolation, component, "Evaluate",
			"max_portfolio_margin", "portfolio margin usage would exceed cap")
	}

	remaining := equity.Sub(in.MarginUsedTotal).Sub(marginRequired)
	if remaining.LessThan(notional.Mul(decimal.NewFromFloat(maintenanceMarginFloor))) {
		return Decision{}, engineerrors.New(engineerrors.KindInvariantViolation, component, "Evaluate",
			"maintenance_margin_floor", "equity buffer after this trade would breach the maintenance floor")
	}

	return Decision{Contracts: contracts, NotionalUSD: notional, Leverage: leverage, MarginUsed: marginRequired}, nil
}

// ReleaseLeverage un-pins a symbol's leverage once its position fully
// closes.
func (m *Manager) ReleaseLeverage(symbol string) {
	m.leverage.Release(symbol)
}
