// Package marketdata is the single source of truth for live prices,
// orderbook top, candle history and derived indicators. It enforces the
// freshness TTLs every money-touching read must honor, and degrades from
// WebSocket-backed to REST-backed operation when the feed falls behind.
package marketdata

import (
	"context"
	"sync"
	"time"

	engineerrors "github.com/perpscalp/engine/internal/errors"
	"github.com/perpscalp/engine/internal/indicators"
	"github.com/perpscalp/engine/pkg/types"
)

const component = "marketdata"

const (
	emaFastPeriod = 9
	emaSlowPeriod = 21
	smaFastPeriod = 20
	smaSlowPeriod = 50
	rsiPeriod     = 14
	macdFast      = 12
	macdSlow      = 26
	macdSignal    = 9
	bbPeriod      = 20
	bbStdDev      = 2.0
	adxPeriod     = 14
	atrPeriod     = 14

	restFallbackWindow    = 2 * time.Minute
	restFallbackThreshold = 20 // sustained REST fallbacks in the window trips reconnect
)

// RESTTicker fetches a last-trade price over REST. The Exchange Gateway
// implements this; the Registry only depends on the narrow slice it needs.
type RESTTicker interface {
	GetTicker(ctx context.Context, symbol string) (float64, error)
}

// ReconnectRequester is notified when the Registry has degraded enough
// (too many REST fallbacks in a trailing window) to warrant the Exchange
// Gateway attempting a WebSocket reconnect.
type ReconnectRequester interface {
	RequestReconnect(reason string)
}

type symbolIndicatorState struct {
	ema1     *indicators.EMA
	ema2     *indicators.EMA
	sma1     *indicators.SMA
	sma2     *indicators.SMA
	rsi      *indicators.RSI
	macd     *indicators.MACD
	bb       *indicators.Bollinger
	adx      *indicators.ADX
	atr      *indicators.ATR
	snapshot *IndicatorSnapshot
}

func newSymbolIndicatorState() *symbolIndicatorState {
	return &symbolIndicatorState{
		ema1: indicators.NewEMA(emaFastPeriod),
		ema2: indicators.NewEMA(emaSlowPeriod),
		sma1: indicators.NewSMA(smaFastPeriod),
		sma2: indicators.NewSMA(smaSlowPeriod),
		rsi:  indicators.NewRSI(rsiPeriod),
		macd: indicators.NewMACD(macdFast, macdSlow, macdSignal),
		bb:   indicators.NewBollinger(bbPeriod, bbStdDev),
		adx:  indicators.NewADX(adxPeriod),
		atr:  indicators.NewATR(atrPeriod),
	}
}

type symbolState struct {
	mu sync.RWMutex

	tick    types.Tick
	hasTick bool

	book    types.OrderBookTop
	hasBook bool

	candlesByTF map[types.Timeframe]*candleBuffer
	indicators  *symbolIndicatorState
}

func newSymbolState() *symbolState {
	return &symbolState{
		candlesByTF: make(map[types.Timeframe]*candleBuffer),
		indicators:  newSymbolIndicatorState(),
	}
}

func (s *symbolState) bufferFor(tf types.Timeframe) *candleBuffer {
	buf, ok := s.candlesByTF[tf]
	if !ok {
		buf = newCandleBuffer(tf.RingSize())
		s.candlesByTF[tf] = buf
	}
	return buf
}

// Registry is the Market Data Registry. One Registry instance serves all
// symbols; per-symbol state is independently locked so one slow symbol
// never blocks another.
type Registry struct {
	mu      sync.RWMutex
	symbols map[string]*symbolState

	rest          RESTTicker
	restCacheMu   sync.Mutex
	restCache     map[string]restCacheEntry
	concurrency   chan struct{}
	reconnectHook ReconnectRequester

	wsConnectedMu sync.RWMutex
	wsConnected   bool

	fallbackMu     sync.Mutex
	fallbackWindow []time.Time
	reconnectFired bool
}

type restCacheEntry struct {
	price     float64
	fetchedAt time.Time
}

// NewRegistry creates a Registry. concurrencyLimit bounds simultaneous REST
// ticker calls (spec: small integer, conventionally 5).
func NewRegistry(rest RESTTicker, concurrencyLimit int, reconnectHook ReconnectRequester) *Registry {
	if concurrencyLimit <= 0 {
		concurrencyLimit = 5
	}
	return &Registry{
		symbols:       make(map[string]*symbolState),
		rest:          rest,
		restCache:     make(map[string]restCacheEntry),
		concurrency:   make(chan struct{}, concurrencyLimit),
		reconnectHook: reconnectHook,
		wsConnected:   true,
	}
}

func (r *Registry) stateFor(symbol string) *symbolState {
	r.mu.RLock()
	s, ok := r.symbols[symbol]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.symbols[symbol]; ok {
		return s
	}
	s = newSymbolState()
	r.symbols[symbol] = s
	return s
}

// SetWSConnected updates the Registry's view of WebSocket connectivity,
// used by GetPrice to decide whether the tick tier is even worth trying.
func (r *Registry) SetWSConnected(connected bool) {
	r.wsConnectedMu.Lock()
	r.wsConnected = connected
	r.wsConnectedMu.Unlock()
}

func (r *Registry) isWSConnected() bool {
	r.wsConnectedMu.RLock()
	defer r.wsConnectedMu.RUnlock()
	return r.wsConnected
}

// UpsertTick records a WebSocket last/bid/ask update. Ticks with a
// timestamp not newer than the last recorded one are rejected — the
// Registry never lets a late-arriving tick move a money-relevant price
// backwards in time.
func (r *Registry) UpsertTick(symbol string, tick types.Tick) error {
	s := r.stateFor(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasTick && tick.TimestampMs <= s.tick.TimestampMs {
		return engineerrors.New(engineerrors.KindInvariantViolation, component, "upsert_tick",
			"out_of_order_tick", "tick timestamp did not advance").
			WithContext("symbol", symbol).
			WithContext("prev_ts", s.tick.TimestampMs).
			WithContext("new_ts", tick.TimestampMs)
	}
	s.tick = tick
	s.hasTick = true
	return nil
}

// UpsertOrderBookTop records a book-ticker update.
func (r *Registry) UpsertOrderBookTop(symbol string, book types.OrderBookTop) {
	s := r.stateFor(symbol)
	s.mu.Lock()
	s.book = book
	s.hasBook = true
	s.mu.Unlock()
}

// UpsertCandle records a candle update for (symbol, timeframe). On
// isClosed=true for the 1m timeframe, indicators are recomputed from the
// advanced buffer; other timeframes only extend history.
func (r *Registry) UpsertCandle(symbol string, tf types.Timeframe, candle types.Candle, isClosed bool) error {
	s := r.stateFor(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.bufferFor(tf)
	buf.upsert(candle, isClosed)

	if tf == types.Timeframe1m && isClosed {
		if err := r.recomputeIndicators(s, buf); err != nil {
			return engineerrors.Wrap(err, engineerrors.KindInvariantViolation, component, "upsert_candle", "indicator_recompute_failed")
		}
	}
	return nil
}

func (r *Registry) recomputeIndicators(s *symbolState, buf *candleBuffer) error {
	history := buf.closed
	if len(history) == 0 {
		return nil
	}

	ind := s.indicators
	snapshot := &IndicatorSnapshot{ComputedAt: time.Now()}

	if v, err := ind.atr.Calculate(history); err == nil {
		snapshot.ATR = v
	}
	if v, err := ind.rsi.Calculate(history); err == nil {
		snapshot.RSI = v
	}
	if line, err := ind.macd.Calculate(history); err == nil {
		snapshot.MACD = MACDValues{Line: line, Signal: ind.macd.SignalLine(), Hist: ind.macd.Histogram()}
	}
	if v, err := ind.ema1.Calculate(history); err == nil {
		snapshot.EMAFast = v
	}
	if v, err := ind.ema2.Calculate(history); err == nil {
		snapshot.EMASlow = v
	}
	if v, err := ind.sma1.Calculate(history); err == nil {
		snapshot.SMAFast = v
	}
	if v, err := ind.sma2.Calculate(history); err == nil {
		snapshot.SMASlow = v
	}
	if bands, err := ind.bb.Calculate(history); err == nil {
		snapshot.BB = BollingerValues{Upper: bands.Upper, Middle: bands.Middle, Lower: bands.Lower}
	}
	if v, err := ind.adx.Calculate(history); err == nil {
		plusDI, minusDI := ind.adx.PlusDI(), ind.adx.MinusDI()
		snapshot.ADX = ADXValues{Value: v, PlusDI: plusDI, MinusDI: minusDI, Trend: trendFromDI(plusDI, minusDI)}
	}

	ind.snapshot = snapshot
	return nil
}

// GetIndicators returns the latest recomputed snapshot for symbol, failing
// closed with StaleData if it predates the slow TTL (the 1m feed has
// stalled) or no snapshot has been computed yet.
func (r *Registry) GetIndicators(symbol string) (IndicatorSnapshot, error) {
	s := r.stateFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.indicators.snapshot == nil {
		return IndicatorSnapshot{}, engineerrors.New(engineerrors.KindStaleData, component, "get_indicators", "no_snapshot", "indicators not yet computed").WithContext("symbol", symbol)
	}
	if time.Since(s.indicators.snapshot.ComputedAt) > indicatorSlowTTL {
		return IndicatorSnapshot{}, engineerrors.New(engineerrors.KindStaleData, component, "get_indicators", "stale_snapshot", "indicator snapshot older than slow TTL").
			WithContext("symbol", symbol).
			WithContext("age_ms", time.Since(s.indicators.snapshot.ComputedAt).Milliseconds())
	}
	return *s.indicators.snapshot, nil
}

// GetCandles returns the last n candles for (symbol, timeframe), oldest
// first; the final entry may be the still-open candle.
func (r *Registry) GetCandles(symbol string, tf types.Timeframe, n int) []types.Candle {
	s := r.stateFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bufferFor(tf).last(n)
}

// GetOrderBookTop returns the latest book-ticker snapshot.
func (r *Registry) GetOrderBookTop(symbol string) (types.OrderBookTop, error) {
	s := r.stateFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasBook {
		return types.OrderBookTop{}, engineerrors.New(engineerrors.KindStaleData, component, "get_orderbook_top", "no_book", "no orderbook snapshot received yet").WithContext("symbol", symbol)
	}
	return s.book, nil
}

// GetPrice returns a fresh price for symbol under purpose's TTL, falling
// back in order: WebSocket tick, last closed 1m candle close, REST ticker.
// All three exhausted is a failure the caller must handle explicitly.
func (r *Registry) GetPrice(ctx context.Context, symbol string, purpose Purpose) (float64, int64, error) {
	ttl := purpose.TTL()
	now := time.Now()

	s := r.stateFor(symbol)
	s.mu.RLock()
	hasTick, tick := s.hasTick, s.tick
	lastClosed, hasClosed := s.bufferFor(types.Timeframe1m).lastClosed()
	s.mu.RUnlock()

	if r.isWSConnected() && hasTick {
		age := now.Sub(types.TimeFromMillis(tick.TimestampMs))
		if age <= ttl {
			return tick.Last, age.Milliseconds(), nil
		}
	}

	if hasClosed {
		age := now.Sub(types.TimeFromMillis(lastClosed.TimestampMs))
		if age <= ttl {
			return lastClosed.Close, age.Milliseconds(), nil
		}
	}

	price, err := r.getRESTPrice(ctx, symbol)
	if err != nil {
		return 0, 0, engineerrors.Wrap(err, engineerrors.KindStaleData, component, "get_price", "all_tiers_exhausted").WithContext("symbol", symbol).WithContext("purpose", purpose.String())
	}
	r.recordRESTFallback()
	return price, 0, nil
}

func (r *Registry) getRESTPrice(ctx context.Context, symbol string) (float64, error) {
	r.restCacheMu.Lock()
	if entry, ok := r.restCache[symbol]; ok && time.Since(entry.fetchedAt) < restCacheTTL {
		r.restCacheMu.Unlock()
		return entry.price, nil
	}
	r.restCacheMu.Unlock()

	if r.rest == nil {
		return 0, engineerrors.New(engineerrors.KindExchangeTransient, component, "get_price", "no_rest_client", "no REST ticker fallback configured")
	}

	select {
	case r.concurrency <- struct{}{}:
		defer func() { <-r.concurrency }()
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	price, err := r.rest.GetTicker(ctx, symbol)
	if err != nil {
		return 0, engineerrors.Wrap(err, engineerrors.KindExchangeTransient, component, "get_price", "rest_ticker_failed")
	}

	r.restCacheMu.Lock()
	r.restCache[symbol] = restCacheEntry{price: price, fetchedAt: time.Now()}
	r.restCacheMu.Unlock()
	return price, nil
}

// recordRESTFallback tracks sustained REST-fallback usage and requests a
// WebSocket reconnect once the rate within restFallbackWindow crosses
// restFallbackThreshold — the Registry's own degraded-state escalation,
// independent of whatever reconnect logic the Gateway runs on disconnect.
func (r *Registry) recordRESTFallback() {
	now := time.Now()
	r.fallbackMu.Lock()
	defer r.fallbackMu.Unlock()

	cutoff := now.Add(-restFallbackWindow)
	kept := r.fallbackWindow[:0]
	for _, t := range r.fallbackWindow {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	r.fallbackWindow = kept

	if len(r.fallbackWindow) >= restFallbackThreshold && !r.reconnectFired {
		r.reconnectFired = true
		if r.reconnectHook != nil {
			r.reconnectHook.RequestReconnect("sustained REST fallback")
		}
	}
	if len(r.fallbackWindow) < restFallbackThreshold {
		r.reconnectFired = false
	}
}

// IsDegraded reports whether the Registry is currently relying on REST
// fallback heavily enough to have requested a reconnect.
func (r *Registry) IsDegraded() bool {
	r.fallbackMu.Lock()
	defer r.fallbackMu.Unlock()
	return r.reconnectFired
}
