package position

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	engineerrors "github.com/perpscalp/engine/internal/errors"
)

const component = "position.Registry"

// entry bundles a Position with its Metadata under one map value so both
// update atomically together.
type entry struct {
	position Position
	metadata Metadata
}

// Registry is the single-process source of truth for every open position.
// One mutex guards both maps; every read returns a deep copy so callers can
// never mutate registry state through a returned pointer.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a new open position. Fails if the symbol is already open —
// the per-symbol concurrency cap belongs to the Risk Manager, but the
// registry itself never silently overwrites an existing position.
func (r *Registry) Register(p Position, m Metadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[p.Symbol]; exists {
		return engineerrors.New(engineerrors.KindInvariantViolation, component, "Register",
			"duplicate_symbol", "a position is already registered for this symbol")
	}
	r.entries[p.Symbol] = &entry{position: p, metadata: m}
	return nil
}

// Get returns a copy of the position and metadata for symbol, or false if
// none is open.
func (r *Registry) Get(symbol string) (Position, Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[symbol]
	if !ok {
		return Position{}, Metadata{}, false
	}
	return e.position, e.metadata, true
}

// SnapshotAll returns a deep copy of every open position, keyed by symbol.
func (r *Registry) SnapshotAll() map[string]Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Position, len(r.entries))
	for symbol, e := range r.entries {
		out[symbol] = e.position
	}
	return out
}

// MetadataSnapshot returns a deep copy of every symbol's metadata.
func (r *Registry) MetadataSnapshot() map[string]Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Metadata, len(r.entries))
	for symbol, e := range r.entries {
		out[symbol] = e.metadata
	}
	return out
}

// UpdateFields applies mutate atomically under the registry lock — the only
// sanctioned way to change an open position's fields (unrealized PnL, peak
// price, trail state) outside Register/Remove.
func (r *Registry) UpdateFields(symbol string, mutate func(*Position, *Metadata)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[symbol]
	if !ok {
		return engineerrors.New(engineerrors.KindInvariantViolation, component, "UpdateFields",
			"unknown_symbol", "no open position for this symbol")
	}
	mutate(&e.position, &e.metadata)
	return nil
}

// MarkClosing flags a position as mid-close and returns false if it was
// already marked, so two concurrent close attempts can never both proceed —
// the losing caller treats false as a benign no-op, not an error.
func (r *Registry) MarkClosing(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[symbol]
	if !ok || e.metadata.Closing {
		return false
	}
	e.metadata.Closing = true
	return true
}

// Remove deletes a closed position from the registry. realizedPnL is
// recorded by the caller (trade log / PnL accounting); the registry itself
// only tracks open state.
func (r *Registry) Remove(symbol string) (Position, Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[symbol]
	if !ok {
		return Position{}, Metadata{}, false
	}
	delete(r.entries, symbol)
	return e.position, e.metadata, true
}

// Count returns the number of currently open positions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ReconcileDrift compares the registry against a fresh exchange positions
// snapshot: positions the exchange reports that this registry doesn't know
// about are imported (tagged SourceDriftAdd, best-effort metadata since
// entry-time context like regime is unrecoverable); positions this registry
// believes are open but the exchange no longer reports are closed locally,
// with realizedPnL computed from lastPrice since no fill record exists for
// a drift-closed position.
func (r *Registry) ReconcileDrift(exchangePositions []ExchangePosition, lastPrice map[string]decimal.Decimal) (added []string, closed map[string]decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	closed = make(map[string]decimal.Decimal)
	onExchange := make(map[string]ExchangePosition, len(exchangePositions))
	for _, ep := range exchangePositions {
		onExchange[ep.Symbol] = ep
	}

	for symbol, ep := range onExchange {
		if _, known := r.entries[symbol]; known {
			continue
		}
		r.entries[symbol] = &entry{
			position: Position{
				Symbol: ep.Symbol, Side: ep.Side, EntryPrice: ep.EntryPrice,
				Contracts: ep.Contracts, Leverage: ep.Leverage, MarginUsed: ep.MarginUsed,
				OpenedAt: time.Now(),
			},
			metadata: Metadata{Source: SourceDriftAdd, PeakPrice: ep.EntryPrice},
		}
		added = append(added, symbol)
	}

	for symbol, e := range r.entries {
		if _, stillOpen := onExchange[symbol]; stillOpen {
			continue
		}
		closed[symbol] = driftRealizedPnL(e.position, lastPrice[symbol])
		delete(r.entries, symbol)
	}
	return added, closed
}

// driftRealizedPnL estimates a drift-closed position's realized PnL from the
// last known price, since no fill record exists for a close the exchange
// performed without this engine's involvement (liquidation, manual close).
func driftRealizedPnL(p Position, exitPrice decimal.Decimal) decimal.Decimal {
	if exitPrice.IsZero() {
		exitPrice = p.EntryPrice
	}
	diff := exitPrice.Sub(p.EntryPrice)
	if p.Side.Sign() < 0 {
		diff = diff.Neg()
	}
	return diff.Mul(p.Contracts)
}
