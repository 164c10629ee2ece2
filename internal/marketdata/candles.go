package marketdata

import "github.com/perpscalp/engine/pkg/types"

// candleBuffer holds a timeframe's closed-candle history plus, separately,
// the one candle still open for the current boundary. Closed candles are
// never mutated in place; the open candle is overwritten until its
// boundary passes and upsertCandle is called with isClosed=true.
type candleBuffer struct {
	closed []types.Candle
	open   *types.Candle
	cap    int
}

func newCandleBuffer(capacity int) *candleBuffer {
	return &candleBuffer{closed: make([]types.Candle, 0, capacity), cap: capacity}
}

func (b *candleBuffer) upsert(candle types.Candle, isClosed bool) {
	if !isClosed {
		c := candle
		b.open = &c
		return
	}
	b.closed = append(b.closed, candle)
	if len(b.closed) > b.cap {
		b.closed = b.closed[len(b.closed)-b.cap:]
	}
	b.open = nil
}

// last returns the most recent n candles, including the open one if
// present, oldest first. Fewer than n are returned if history is short.
func (b *candleBuffer) last(n int) []types.Candle {
	total := len(b.closed)
	if b.open != nil {
		total++
	}
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil
	}

	out := make([]types.Candle, 0, n)
	closedNeeded := n
	if b.open != nil {
		closedNeeded--
	}
	if closedNeeded > 0 {
		out = append(out, b.closed[len(b.closed)-closedNeeded:]...)
	}
	if b.open != nil {
		out = append(out, *b.open)
	}
	return out
}

// lastClosed returns the most recently closed candle, or false if none.
func (b *candleBuffer) lastClosed() (types.Candle, bool) {
	if len(b.closed) == 0 {
		return types.Candle{}, false
	}
	return b.closed[len(b.closed)-1], true
}
