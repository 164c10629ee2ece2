// Package recovery tracks repeated engine errors and decides when the
// Orchestrator should stop opening new positions rather than keep trying
// against a degraded exchange or a broken local invariant. It never closes
// or touches existing positions — that stays the Exit Decision Engine's job
// regardless of how degraded the engine's error rate looks.
package recovery

import (
	"sync"
	"time"

	boterrors "github.com/perpscalp/engine/internal/errors"
)

// Config tunes when the Recoverer trips into a halted state.
type Config struct {
	// MaxRecentErrors bounds how many of the most recent errors are kept
	// for the rate calculations below.
	MaxRecentErrors int
	// ConsecutiveTransientLimit halts entries after this many consecutive
	// KindExchangeTransient errors with no intervening success.
	ConsecutiveTransientLimit int
	// InvariantRateLimit halts entries once KindInvariantViolation makes up
	// more than this fraction of recent errors — a string of invariant
	// violations points at a local bug, not transient exchange noise, and
	// retrying blind only compounds it.
	InvariantRateLimit float64
	// CooldownAfterHalt is how long a halt lasts before the Recoverer lets
	// entries resume on the next call to ShouldHaltEntries, giving a degraded
	// exchange time to recover without a process restart.
	CooldownAfterHalt time.Duration
}

// DefaultConfig mirrors the teacher's own retry-limit defaults, generalized
// from per-HTTP-call retry counts to an engine-wide entry-halt policy.
func DefaultConfig() Config {
	return Config{
		MaxRecentErrors:           50,
		ConsecutiveTransientLimit: 5,
		InvariantRateLimit:        0.5,
		CooldownAfterHalt:         2 * time.Minute,
	}
}

// Recoverer accumulates EngineErrors across the whole engine and exposes a
// single ShouldHaltEntries gate. It is concurrency-safe since both the
// websocket task and the periodic cycle can report errors.
type Recoverer struct {
	mu     sync.Mutex
	cfg    Config
	stats  *boterrors.Stats
	streak int

	haltedAt time.Time
	halted   bool
}

// New creates a Recoverer with the given config.
func New(cfg Config) *Recoverer {
	return &Recoverer{
		cfg:   cfg,
		stats: boterrors.NewStats(cfg.MaxRecentErrors),
	}
}

// Record reports a failed operation. A nil err or one that isn't an
// *EngineError resets the consecutive-transient streak but otherwise does
// not affect current halt state.
func (r *Recoverer) Record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ee, ok := err.(*boterrors.EngineError)
	if !ok || ee == nil {
		r.streak = 0
		return
	}
	r.stats.Record(ee)

	if ee.Kind == boterrors.KindExchangeTransient {
		r.streak++
	} else {
		r.streak = 0
	}

	if r.streak >= r.cfg.ConsecutiveTransientLimit {
		r.trip()
	}
	if r.stats.TotalErrors >= r.cfg.MaxRecentErrors/2 &&
		r.stats.RateOf(boterrors.KindInvariantViolation) > r.cfg.InvariantRateLimit {
		r.trip()
	}
}

// RecordSuccess clears the consecutive-transient streak after an operation
// that previously failed now succeeds.
func (r *Recoverer) RecordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streak = 0
}

func (r *Recoverer) trip() {
	r.halted = true
	r.haltedAt = time.Now()
}

// ShouldHaltEntries reports whether the engine should skip opening new
// positions this cycle. A halt self-clears after CooldownAfterHalt so a
// transient exchange outage degrades the engine rather than requiring a
// manual restart; existing positions are never affected by this gate.
func (r *Recoverer) ShouldHaltEntries() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.halted {
		return false
	}
	if time.Since(r.haltedAt) >= r.cfg.CooldownAfterHalt {
		r.halted = false
		r.streak = 0
		return false
	}
	return true
}

// Snapshot returns the total error count and the current consecutive
// transient-error streak, for health reporting.
func (r *Recoverer) Snapshot() (total int, transientStreak int, halted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats.TotalErrors, r.streak, r.halted
}
