// Package position holds the single source of truth for every open
// position: a locked map keyed by symbol, with metadata the Exit Decision
// Engine and the Risk Manager both need but that never leaves this process
// (peak profit, time opened, leverage, regime at entry). Reconciled against
// the exchange on each orchestrator cycle rather than trusted blindly.
package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/pkg/types"
)

// Position is the money-relevant state of one open symbol position.
type Position struct {
	Symbol       string
	Side         types.Side
	EntryPrice   decimal.Decimal
	Contracts    decimal.Decimal
	Leverage     int64
	MarginUsed   decimal.Decimal
	OpenedAt     time.Time
	UnrealizedPnL decimal.Decimal
}

// Metadata is everything the Exit Decision Engine and Risk Manager track
// about a position that isn't itself part of the exchange-reported state.
type Metadata struct {
	RegimeAtEntry    regime.Type
	PeakProfitPct    float64
	PeakPrice        decimal.Decimal
	TrailActive      bool
	CurrentTrail     float64
	LastTrailUpdate  time.Time
	PartialTPTaken   bool
	Closing          bool
	Source           Source
}

// Source records how a position entered the registry: an order this engine
// placed, or an exchange-side position discovered during drift
// reconciliation that this engine never opened.
type Source int

const (
	SourceEngine Source = iota
	SourceDriftAdd
)

// ExchangePosition is the minimal shape drift reconciliation needs from a
// fresh exchange positions snapshot.
type ExchangePosition struct {
	Symbol     string
	Side       types.Side
	Contracts  decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   int64
	MarginUsed decimal.Decimal
}
