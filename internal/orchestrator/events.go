package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/perpscalp/engine/internal/exchange"
	"github.com/perpscalp/engine/pkg/types"
)

// restTickerAdapter narrows a full Gateway down to the single-method
// marketdata.RESTTicker interface the Registry depends on, so the Registry
// package never needs to know about the rest of the Gateway surface.
type restTickerAdapter struct {
	gateway exchange.Gateway
}

func (a restTickerAdapter) GetTicker(ctx context.Context, symbol string) (float64, error) {
	tick, err := a.gateway.GetTicker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return tick.Last, nil
}

// wsLoop is the websocket task: it drains the Gateway's event channel into
// the Market Data Registry and runs a fast-path exit check on every tick for
// a symbol with a live position, until ctx is cancelled or the channel
// closes (signaling a reconnect attempt failed permanently upstream).
func (o *Orchestrator) wsLoop(ctx context.Context, events <-chan exchange.WSEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			o.handleWSEvent(ctx, evt)
		}
	}
}

func (o *Orchestrator) handleWSEvent(ctx context.Context, evt exchange.WSEvent) {
	switch evt.Kind {
	case exchange.WSEventTick:
		if err := o.registry.UpsertTick(evt.Symbol, evt.Tick); err != nil {
			o.logger.Debugf("tick rejected for %s: %v", evt.Symbol, err)
			return
		}
		o.health.UpdateLastTick(time.Now())
		o.fastPathExitCheck(ctx, evt.Symbol, evt.Tick.Last)

	case exchange.WSEventBookTop:
		o.registry.UpsertOrderBookTop(evt.Symbol, evt.BookTop)

	case exchange.WSEventCandle:
		if err := o.registry.UpsertCandle(evt.Symbol, types.Timeframe1m, evt.Candle, evt.CandleClosed); err != nil {
			o.logger.Debugf("candle upsert failed for %s: %v", evt.Symbol, err)
		}

	case exchange.WSEventPosition:
		// Exchange-side position pushes are reconciled on the next periodic
		// cycle via reconcileDrift rather than applied directly here, so the
		// Position Registry keeps a single mutation path.
	}
}

// fastPathExitCheck reuses the full exit-evaluation pipeline on every tick
// for a symbol with a live, non-closing position. Re-running the full
// evaluation here (rather than a hand-trimmed subset) is a safe superset of
// "loss cut + trailing + emergency only": it is pure, non-blocking
// computation, so there is no cost to evaluating every rule on every tick.
func (o *Orchestrator) fastPathExitCheck(ctx context.Context, symbol string, price float64) {
	if price <= 0 {
		return
	}
	pos, meta, ok := o.positions.Get(symbol)
	if !ok || meta.Closing {
		return
	}
	reg, ok := o.regimeFor(symbol)
	if !ok {
		return
	}
	params, err := o.provider.Resolve(symbol, reg.Type.String())
	if err != nil {
		return
	}
	o.evaluatePositionExit(ctx, symbol, pos, meta, decimal.NewFromFloat(price), false, reg, params)
}
