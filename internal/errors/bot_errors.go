// Package errors defines the typed error kinds the engine uses on money
// paths. Every fallible operation in a money path returns one of these
// instead of a bare error, so callers can decide fail-open vs fail-closed
// by switching on Kind rather than parsing strings.
package errors

import (
	"fmt"
	"strings"
)

// Kind categorizes an engine error.
type Kind string

const (
	// KindConfig: missing/invalid parameter, impossible precedence
	// resolution. Fatal at startup; recoverable at runtime only if a safe
	// failsafe exists.
	KindConfig Kind = "ConfigError"

	// KindStaleData: a price or indicator snapshot violated its freshness
	// TTL. Signal generation skips the symbol; exit analysis falls back to
	// entry price with fees excluded.
	KindStaleData Kind = "StaleData"

	// KindExchangeTransient: 5xx, SSL, timeout. Retry with backoff; if
	// persistent, degrade (skip order placement, continue exits).
	KindExchangeTransient Kind = "ExchangeTransient"

	// KindExchangeReject: bad price band, insufficient margin, lot size.
	KindExchangeReject Kind = "ExchangeReject"

	// KindInvariantViolation: leverage=0, side unknown, entry_price=0.
	// Fails closed for the specific operation; never silently defaults.
	KindInvariantViolation Kind = "InvariantViolation"

	// KindConcurrencyConflict: double-close race. Benign — the losing
	// branch logs and returns.
	KindConcurrencyConflict Kind = "ConcurrencyConflict"
)

// EngineError is a categorized error carrying the component/operation that
// produced it, a stable reason code for counters, and whatever it wraps.
type EngineError struct {
	Kind       Kind
	Component  string
	Operation  string
	Reason     string // stable reason code, e.g. "low_strength", "margin_guard"
	Message    string
	Underlying error
	Context    map[string]interface{}
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s", e.Kind, e.Component, e.Operation)
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *EngineError) Unwrap() error { return e.Underlying }

// New creates a new EngineError with no underlying cause.
func New(kind Kind, component, operation, reason, message string) *EngineError {
	return &EngineError{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Reason:    reason,
		Message:   message,
		Context:   make(map[string]interface{}),
	}
}

// Wrap attaches kind/component/operation/reason context to an existing
// error. Returns nil if err is nil, so callers can write
// `return errors.Wrap(err, ...)` unconditionally.
func Wrap(err error, kind Kind, component, operation, reason string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Kind:       kind,
		Component:  component,
		Operation:  operation,
		Reason:     reason,
		Underlying: err,
		Context:    make(map[string]interface{}),
	}
}

// WithContext attaches a structured key/value for log output.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// FailsClosed reports whether this error kind must never be papered over by
// a default value on a money path.
func (e *EngineError) FailsClosed() bool {
	switch e.Kind {
	case KindInvariantViolation, KindConfig:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether retrying the same operation is reasonable.
func (e *EngineError) IsRetryable() bool {
	switch e.Kind {
	case KindExchangeTransient:
		return true
	case KindStaleData, KindConcurrencyConflict:
		return false // caller should re-evaluate, not blindly retry
	default:
		return false
	}
}

// RecoveryAction is the suggested response to an error.
type RecoveryAction string

const (
	RecoveryActionRetry    RecoveryAction = "RETRY"
	RecoveryActionSkip     RecoveryAction = "SKIP"
	RecoveryActionStop     RecoveryAction = "STOP"
	RecoveryActionFallback RecoveryAction = "FALLBACK"
	RecoveryActionWait     RecoveryAction = "WAIT"
)

// GetRecoveryAction suggests a recovery action based on error kind.
func (e *EngineError) GetRecoveryAction() RecoveryAction {
	switch e.Kind {
	case KindConfig, KindInvariantViolation:
		return RecoveryActionStop
	case KindExchangeTransient:
		return RecoveryActionRetry
	case KindExchangeReject:
		return RecoveryActionSkip
	case KindStaleData:
		return RecoveryActionFallback
	case KindConcurrencyConflict:
		return RecoveryActionSkip
	default:
		return RecoveryActionRetry
	}
}

// As reports whether err is an *EngineError of the given kind.
func As(err error, kind Kind) bool {
	ee, ok := err.(*EngineError)
	return ok && ee.Kind == kind
}

// ReasonOf extracts the stable reason code from err, or "" if err is not an
// *EngineError. Telemetry uses this to bump the right counter without type
// assertions scattered through the codebase.
func ReasonOf(err error) string {
	if ee, ok := err.(*EngineError); ok {
		return ee.Reason
	}
	return ""
}

// Stats tracks error statistics by kind, mirroring the shape of a
// recent-errors ring used for circuit-breaker style decisions elsewhere in
// the engine.
type Stats struct {
	TotalErrors     int
	ErrorsByKind    map[Kind]int
	RecentErrors    []*EngineError
	MaxRecentErrors int
}

// NewStats creates a new error statistics tracker retaining at most
// maxRecentErrors entries.
func NewStats(maxRecentErrors int) *Stats {
	return &Stats{
		ErrorsByKind:    make(map[Kind]int),
		RecentErrors:    make([]*EngineError, 0, maxRecentErrors),
		MaxRecentErrors: maxRecentErrors,
	}
}

// Record records an error in the statistics, dropping the oldest recent
// entry once MaxRecentErrors is exceeded.
func (s *Stats) Record(err *EngineError) {
	if err == nil {
		return
	}
	s.TotalErrors++
	s.ErrorsByKind[err.Kind]++

	s.RecentErrors = append(s.RecentErrors, err)
	if len(s.RecentErrors) > s.MaxRecentErrors {
		s.RecentErrors = s.RecentErrors[1:]
	}
}

// RateOf returns the fraction of all recorded errors attributable to kind.
func (s *Stats) RateOf(kind Kind) float64 {
	if s.TotalErrors == 0 {
		return 0
	}
	return float64(s.ErrorsByKind[kind]) / float64(s.TotalErrors)
}

// HasRecent reports whether at least count of the most recently recorded
// errors are of the given kind.
func (s *Stats) HasRecent(kind Kind, count int) bool {
	n := 0
	for _, err := range s.RecentErrors {
		if err.Kind == kind {
			n++
		}
	}
	return n >= count
}
