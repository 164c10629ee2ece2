// Package exit implements the Exit Decision Engine: a fixed 13-step
// priority list evaluated once per live position per cycle, plus the
// Trailing Stop-Loss Controller that runs inside it. All money math flows
// through decimal.Decimal; percentages derived from it for threshold
// comparisons are plain float64.
package exit

import (
	"github.com/shopspring/decimal"

	"github.com/perpscalp/engine/pkg/types"
)

// PnLInput is everything ComputePnL needs for one evaluation.
type PnLInput struct {
	Side        types.Side
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	Contracts   decimal.Decimal
	CtVal       decimal.Decimal
	MarginUsed  decimal.Decimal
	Leverage    int64
	MakerFee    float64
	TakerFee    float64
	IncludeFees bool
}

// PnLResult is the money invariant's three derived figures.
type PnLResult struct {
	UnrealizedUSD decimal.Decimal
	GrossPct      float64
	NetPct        float64
}

// ComputePnL implements the spec's money invariant:
//
//	unrealized_pnl_usd     = size × ctVal × (exit − entry) × sign(side)
//	gross_pnl_pct_from_margin = unrealized_pnl_usd / margin_used × 100
//	net_pnl_pct             = gross_pnl_pct_from_margin − (maker_fee + taker_fee) × leverage × 100
//
// Side handling: LONG uses (exit − entry), SHORT uses (entry − exit) — there
// is no code path that computes LONG math for a SHORT position, since the
// sign flip happens once here and every caller goes through this function.
// When IncludeFees is false (the fallback-price case, to avoid a spurious
// −1% artifact when exit==entry), NetPct equals GrossPct.
func ComputePnL(in PnLInput) PnLResult {
	diff := in.ExitPrice.Sub(in.EntryPrice)
	if in.Side == types.SideShort {
		diff = diff.Neg()
	}
	unrealized := diff.Mul(in.Contracts).Mul(in.CtVal)

	var grossPct float64
	if !in.MarginUsed.IsZero() {
		grossPct, _ = unrealized.Div(in.MarginUsed).Mul(decimal.NewFromInt(100)).Float64()
	}

	netPct := grossPct
	if in.IncludeFees {
		netPct -= (in.MakerFee + in.TakerFee) * float64(in.Leverage) * 100
	}

	return PnLResult{UnrealizedUSD: unrealized, GrossPct: grossPct, NetPct: netPct}
}
