// Package orchestrator owns the Market Data Registry, Position Registry and
// every component instance, and runs the two concurrent tasks the engine
// needs: a websocket task that keeps market data current and fast-paths
// critical exits, and a periodic cycle that regime-classifies, generates
// signals, sizes, and submits orders before sweeping every open position
// through the Exit Decision Engine.
package orchestrator

import (
	"context"
	"sync"
	"time"

	boterrors "github.com/perpscalp/engine/internal/errors"
	"github.com/perpscalp/engine/internal/exchange"
	"github.com/perpscalp/engine/internal/marketdata"
	"github.com/perpscalp/engine/internal/order"
	"github.com/perpscalp/engine/internal/position"
	"github.com/perpscalp/engine/internal/recovery"
	"github.com/perpscalp/engine/internal/regime"
	"github.com/perpscalp/engine/internal/risk"
	"github.com/perpscalp/engine/internal/signal"
	"github.com/perpscalp/engine/internal/telemetry"
	"github.com/perpscalp/engine/internal/tradelog"
	"github.com/perpscalp/engine/pkg/config"
	"github.com/perpscalp/engine/pkg/types"
)

const component = "orchestrator.Orchestrator"

const (
	defaultCycleInterval = 2 * time.Second
	slowCycleThreshold   = 5 * time.Second
)

// Orchestrator wires every component together and drives both concurrent
// tasks the spec calls for. mu is the shared-state lock: it guards only the
// small bits of cooperative state below (per-symbol detectors, the latest
// regime read, and the instrument cache) — the heavier state (positions,
// market data) already has its own internal locking, so critical sections
// here stay short and never hold across I/O.
type Orchestrator struct {
	gateway   exchange.Gateway
	registry  *marketdata.Registry
	positions *position.Registry
	risk      *risk.Manager
	executor  *order.Executor
	generator *signal.Generator
	provider  *config.Provider
	logger    *telemetry.Logger
	health    *telemetry.HealthChecker
	recoverer *recovery.Recoverer
	tradelog  *tradelog.Writer

	symbols []config.SymbolConfig

	mu          sync.Mutex
	detectors   map[string]*regime.Detector
	lastRegime  map[string]regime.Signal
	instruments map[string]types.Instrument

	cycleInterval      time.Duration
	slowCycleThreshold time.Duration
}

// NewOrchestrator builds an Orchestrator from a loaded EngineConfig and a
// concrete Gateway. The Market Data Registry's REST fallback is wired
// through a small adapter (restTickerAdapter) rather than importing the
// concrete okx package here. The tradelog Writer is rooted at the same
// directory telemetry's file logger uses, under trades/, signals/ and
// candles_init/ subdirectories — one ambient append-only root rather than
// a second config knob for where the engine writes its own files.
func NewOrchestrator(cfg *config.EngineConfig, gw exchange.Gateway, logger *telemetry.Logger, health *telemetry.HealthChecker) (*Orchestrator, error) {
	registry := marketdata.NewRegistry(restTickerAdapter{gateway: gw}, cfg.Safety.RESTConcurrencyLimit, gw)

	tw, err := tradelog.NewWriter(cfg.Telemetry.LogDir)
	if err != nil {
		return nil, boterrors.Wrap(err, boterrors.KindConfig, component, "NewOrchestrator", "tradelog_init_failed")
	}

	o := &Orchestrator{
		gateway:     gw,
		registry:    registry,
		positions:   position.NewRegistry(),
		risk:        risk.NewManager(),
		generator:   signal.NewGenerator(),
		provider:    config.NewProvider(cfg.Parameters),
		logger:      logger,
		health:      health,
		recoverer:   recovery.New(recovery.DefaultConfig()),
		tradelog:    tw,
		symbols:     cfg.Symbols,
		detectors:   make(map[string]*regime.Detector),
		lastRegime:  make(map[string]regime.Signal),
		instruments: make(map[string]types.Instrument),

		cycleInterval:      defaultCycleInterval,
		slowCycleThreshold: slowCycleThreshold,
	}
	o.executor = order.NewExecutor(gw, registry)
	return o, nil
}

// Run subscribes to the exchange's websocket feed, starts the websocket
// task in its own goroutine, and drives the periodic cycle on a ticker
// until ctx is cancelled. On shutdown it waits for the websocket task to
// observe cancellation before returning, so the caller's own SIGINT
// handling can log a clean stop.
func (o *Orchestrator) Run(ctx context.Context) error {
	events, err := o.gateway.SubscribeWS(ctx, exchange.WSChannels{
		Tickers: true, Books: true, Candles: true, Positions: true, Orders: true,
	})
	if err != nil {
		return boterrors.Wrap(err, boterrors.KindExchangeTransient, component, "Run", "subscribe_ws_failed")
	}
	o.health.SetWSConnected(true)
	o.registry.SetWSConnected(true)
	o.snapshotStartupCandles()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.wsLoop(ctx, events)
	}()

	ticker := time.NewTicker(o.cycleInterval)
	defer ticker.Stop()

	o.logger.Info("orchestrator started: %d symbols, cycle interval %s", len(o.symbols), o.cycleInterval)

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			if err := o.tradelog.Close(); err != nil {
				o.logger.Error("close tradelog writer", err)
			}
			o.logger.Info("orchestrator shutdown complete")
			return nil
		case <-ticker.C:
			o.runCycle(ctx)
		}
	}
}

// detectorFor returns the persistent regime.Detector for symbol, creating
// one on first use. A Detector must be reused across calls for a symbol —
// it owns incremental indicator state — so this is the only place one is
// constructed.
func (o *Orchestrator) detectorFor(symbol string) *regime.Detector {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.detectors[symbol]
	if !ok {
		d = regime.NewDetector()
		o.detectors[symbol] = d
	}
	return d
}

// snapshotStartupCandles writes one candles_init record per enabled symbol
// capturing whatever the Market Data Registry's 1m ring buffer holds at the
// moment the websocket feed comes up — a cold-start audit snapshot, not a
// guarantee the buffer is already full.
func (o *Orchestrator) snapshotStartupCandles() {
	for _, sc := range o.symbols {
		if !sc.Enabled {
			continue
		}
		candles := o.registry.GetCandles(sc.Symbol, types.Timeframe1m, types.Timeframe1m.RingSize())
		if err := o.tradelog.WriteCandlesInit(tradelog.CandlesInitRecord{
			Symbol: sc.Symbol, Timeframe: string(types.Timeframe1m), CandleCount: len(candles),
			Time: time.Now(), Candles: candles,
		}); err != nil {
			o.logger.Error("write candles_init snapshot for "+sc.Symbol, err)
		}
	}
}

func (o *Orchestrator) recordRegime(symbol string, sig regime.Signal) {
	o.mu.Lock()
	o.lastRegime[symbol] = sig
	o.mu.Unlock()
}

func (o *Orchestrator) regimeFor(symbol string) (regime.Signal, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sig, ok := o.lastRegime[symbol]
	return sig, ok
}

// ensureInstrument caches get_instrument results — contract metadata almost
// never changes mid-session, so there is no reason to hit the exchange for
// it on every cycle.
func (o *Orchestrator) ensureInstrument(ctx context.Context, symbol string) (types.Instrument, error) {
	o.mu.Lock()
	if inst, ok := o.instruments[symbol]; ok {
		o.mu.Unlock()
		return inst, nil
	}
	o.mu.Unlock()

	inst, err := o.gateway.GetInstrument(ctx, symbol)
	if err != nil {
		return types.Instrument{}, boterrors.Wrap(err, boterrors.KindExchangeTransient, component, "ensureInstrument", "get_instrument_failed")
	}

	o.mu.Lock()
	o.instruments[symbol] = inst
	o.mu.Unlock()
	return inst, nil
}
