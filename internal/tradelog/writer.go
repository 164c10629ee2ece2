// Package tradelog is the engine's append-only audit trail: one JSONL file
// per day for closed trades, emitted signals, and the startup candle
// buffer snapshot. It never blocks a trading decision on a write failure —
// a logging error is recorded and swallowed, since a missed audit line is
// never a reason to skip closing a position or evaluating a signal.
package tradelog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/perpscalp/engine/pkg/types"
)

// TradeRecord is one closed-position line under trades/YYYY-MM-DD.jsonl.
type TradeRecord struct {
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	EntryPrice     float64   `json:"entry_price"`
	ExitPrice      float64   `json:"exit_price"`
	Size           float64   `json:"size"`
	EntryTime      time.Time `json:"entry_time"`
	ExitTime       time.Time `json:"exit_time"`
	Regime         string    `json:"regime"`
	RealizedPnLUSD float64   `json:"realized_pnl_usd"`
	FeesUSD        float64   `json:"fees_usd"`
	ExitReason     string    `json:"exit_reason"`
}

// SignalRecord is one line under signals/YYYY-MM-DD.jsonl, written for
// every candidate the Signal Filter Pipeline evaluates, whether or not it
// survives to become an order.
type SignalRecord struct {
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Strength  float64   `json:"strength"`
	Regime    string    `json:"regime"`
	Time      time.Time `json:"time"`
	Executed  bool      `json:"executed"`
	BlockedBy string    `json:"blocked_by,omitempty"`
}

// CandlesInitRecord is the one line written under
// candles_init/YYYY-MM-DD.jsonl at startup, per symbol, holding whatever
// the Market Data Registry's 1m ring buffer contains when the websocket
// feed comes up; the buffer is not guaranteed to be full at that point.
type CandlesInitRecord struct {
	Symbol      string         `json:"symbol"`
	Timeframe   string         `json:"timeframe"`
	CandleCount int            `json:"candle_count"`
	Time        time.Time      `json:"time"`
	Candles     []types.Candle `json:"candles"`
}

// Writer appends NDJSON records to day-rotated files under three
// subdirectories of root: trades/, signals/, candles_init/. It reuses the
// engine's own open-append-write-sync idiom rather than buffering writes
// in memory, so a crash never loses an already-returned record.
type Writer struct {
	root string

	mu    sync.Mutex
	files map[string]*os.File // keyed by "<kind>/<date>"
}

// NewWriter creates a Writer rooted at root, creating root itself (and the
// three kind subdirectories) if they don't already exist. An empty root
// defaults to "data", mirroring telemetry.New's own "logs" default for an
// empty log directory.
func NewWriter(root string) (*Writer, error) {
	if root == "" {
		root = "data"
	}
	for _, kind := range []string{"trades", "signals", "candles_init"} {
		if err := os.MkdirAll(filepath.Join(root, kind), 0o755); err != nil {
			return nil, fmt.Errorf("tradelog: create %s dir: %w", kind, err)
		}
	}
	return &Writer{root: root, files: make(map[string]*os.File)}, nil
}

// WriteTrade appends rec to today's trades/YYYY-MM-DD.jsonl.
func (w *Writer) WriteTrade(rec TradeRecord) error {
	return w.append("trades", rec)
}

// WriteSignal appends rec to today's signals/YYYY-MM-DD.jsonl.
func (w *Writer) WriteSignal(rec SignalRecord) error {
	return w.append("signals", rec)
}

// WriteCandlesInit appends rec to today's candles_init/YYYY-MM-DD.jsonl.
func (w *Writer) WriteCandlesInit(rec CandlesInitRecord) error {
	return w.append("candles_init", rec)
}

func (w *Writer) append(kind string, rec interface{}) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tradelog: marshal %s record: %w", kind, err)
	}

	file, err := w.fileFor(kind)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("tradelog: write %s record: %w", kind, err)
	}
	return file.Sync()
}

// fileFor returns the open file handle for kind's current day, rotating to
// a new file the first time a day boundary is crossed.
func (w *Writer) fileFor(kind string) (*os.File, error) {
	date := time.Now().Format("2006-01-02")
	key := kind + "/" + date

	w.mu.Lock()
	defer w.mu.Unlock()

	if file, ok := w.files[key]; ok {
		return file, nil
	}

	path := filepath.Join(w.root, kind, date+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("tradelog: open %s: %w", path, err)
	}
	w.files[key] = file
	return file, nil
}

// Close flushes and closes every open file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for key, file := range w.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.files, key)
	}
	return firstErr
}
