package okx

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/perpscalp/engine/internal/exchange"
	"github.com/perpscalp/engine/internal/safety"
	"github.com/perpscalp/engine/internal/telemetry"
	"github.com/perpscalp/engine/pkg/types"
)

// wsManager owns the engine's single websocket connection: connect dials
// publicURL only (privateURL is stored but never dialed), and subscribe
// sends the tickers, books5 and candle1m channels; the Positions and
// Orders channel flags are not subscribed. It is also the one reconnector
// task the spec requires — both the heartbeat
// checker and RequestReconnect funnel through requestReconnect, so a
// reconnect can never be triggered twice concurrently. Reconnect attempts
// run through a circuit breaker rather than a bare fixed-delay retry, so a
// persistently unreachable exchange stops hammering the dialer and instead
// backs off on the breaker's own timeout until it allows a half-open probe.
type wsManager struct {
	publicURL  string
	privateURL string
	client     *Client

	mu            sync.Mutex
	conn          *websocket.Conn
	events        chan exchange.WSEvent
	reconnectChan chan string
	ctx           context.Context
	cancel        context.CancelFunc

	breaker *safety.CircuitBreaker
}

func newWSManager(publicURL, privateURL string, client *Client) *wsManager {
	breaker := safety.NewCircuitBreaker("okx-ws", safety.CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          10 * time.Second,
		MaxFailures:      10,
		ResetTimeout:     5 * time.Minute,
	})
	breaker.SetStateChangeCallback(func(_, to safety.CircuitBreakerState) {
		telemetry.CircuitBreakerState.WithLabelValues("okx-ws").Set(float64(to))
	})
	return &wsManager{
		publicURL: publicURL, privateURL: privateURL, client: client,
		events: make(chan exchange.WSEvent, 256), reconnectChan: make(chan string, 1),
		breaker: breaker,
	}
}

func (w *wsManager) start(ctx context.Context, channels exchange.WSChannels) (<-chan exchange.WSEvent, error) {
	w.ctx, w.cancel = context.WithCancel(ctx)
	if err := w.connect(channels); err != nil {
		return nil, err
	}
	go w.reconnectLoop(channels)
	return w.events, nil
}

func (w *wsManager) connect(channels exchange.WSChannels) error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(w.publicURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	if err := w.subscribe(channels); err != nil {
		return err
	}

	go w.readLoop()
	go w.heartbeat()
	return nil
}

func (w *wsManager) subscribe(channels exchange.WSChannels) error {
	var args []map[string]string
	if channels.Tickers {
		args = append(args, map[string]string{"channel": "tickers"})
	}
	if channels.Books {
		args = append(args, map[string]string{"channel": "books5"})
	}
	if channels.Candles {
		args = append(args, map[string]string{"channel": "candle1m"})
	}
	if len(args) == 0 {
		return nil
	}
	msg := map[string]any{"op": "subscribe", "args": args}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsManager) readLoop() {
	for {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn == nil {
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.requestReconnect("read error: " + err.Error())
			return
		}
		w.dispatch(msg)
	}
}

// dispatch normalizes a raw OKX channel message into the shared WSEvent
// envelope the Orchestrator's websocket task consumes, regardless of which
// channel it came from.
func (w *wsManager) dispatch(raw []byte) {
	var envelope struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Data) == 0 {
		return
	}

	switch envelope.Arg.Channel {
	case "tickers":
		var row struct {
			Last string `json:"last"`
			BidPx string `json:"bidPx"`
			AskPx string `json:"askPx"`
			Ts    string `json:"ts"`
		}
		if json.Unmarshal(envelope.Data[0], &row) != nil {
			return
		}
		last, _ := strconv.ParseFloat(row.Last, 64)
		bid, _ := strconv.ParseFloat(row.BidPx, 64)
		ask, _ := strconv.ParseFloat(row.AskPx, 64)
		ts, _ := strconv.ParseInt(row.Ts, 10, 64)
		w.emit(exchange.WSEvent{Kind: exchange.WSEventTick, Symbol: envelope.Arg.InstID,
			Tick: types.Tick{TimestampMs: ts, Last: last, Bid: bid, Ask: ask}})
	case "books5":
		var row struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			Ts   string     `json:"ts"`
		}
		if json.Unmarshal(envelope.Data[0], &row) != nil || len(row.Bids) == 0 || len(row.Asks) == 0 {
			return
		}
		bidPx, _ := strconv.ParseFloat(row.Bids[0][0], 64)
		bidSz, _ := strconv.ParseFloat(row.Bids[0][1], 64)
		askPx, _ := strconv.ParseFloat(row.Asks[0][0], 64)
		askSz, _ := strconv.ParseFloat(row.Asks[0][1], 64)
		ts, _ := strconv.ParseInt(row.Ts, 10, 64)
		w.emit(exchange.WSEvent{Kind: exchange.WSEventBookTop, Symbol: envelope.Arg.InstID,
			BookTop: types.OrderBookTop{TimestampMs: ts, BestBid: bidPx, BidSize: bidSz, BestAsk: askPx, AskSize: askSz}})
	case "candle1m":
		// OKX candle rows are positional arrays, not objects:
		// [ts, open, high, low, close, vol, volCcy, volCcyQuote, confirm].
		var row []string
		if json.Unmarshal(envelope.Data[0], &row) != nil || len(row) < 9 {
			return
		}
		ts, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		closePx, _ := strconv.ParseFloat(row[4], 64)
		vol, _ := strconv.ParseFloat(row[5], 64)
		w.emit(exchange.WSEvent{Kind: exchange.WSEventCandle, Symbol: envelope.Arg.InstID,
			Candle:       types.Candle{TimestampMs: ts, Open: open, High: high, Low: low, Close: closePx, Volume: vol},
			CandleClosed: row[8] == "1"})
	}
}

func (w *wsManager) emit(evt exchange.WSEvent) {
	select {
	case w.events <- evt:
	default:
		// a full channel means the consumer is behind; dropping a tick is
		// preferable to blocking the read loop and stalling reconnection.
	}
}

func (w *wsManager) heartbeat() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			conn := w.conn
			w.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.requestReconnect("heartbeat ping failed: " + err.Error())
			}
		}
	}
}

// requestReconnect is idempotent: a pending reconnect already queued makes
// a second call from the other caller (heartbeat vs disconnect handler) a
// no-op, which is what avoids the double-reconnect race the spec calls out.
func (w *wsManager) requestReconnect(reason string) {
	select {
	case w.reconnectChan <- reason:
	default:
	}
}

func (w *wsManager) reconnectLoop(channels exchange.WSChannels) {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.reconnectChan:
			w.mu.Lock()
			if w.conn != nil {
				w.conn.Close()
				w.conn = nil
			}
			w.mu.Unlock()
			time.Sleep(2 * time.Second)
			if err := w.breaker.Call(func() error { return w.connect(channels) }); err != nil {
				w.requestReconnect("reconnect attempt failed: " + err.Error())
			}
		}
	}
}

func (w *wsManager) close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		// ≥0.5s drain for SSL cleanup before the connection is torn down.
		time.Sleep(500 * time.Millisecond)
		w.conn.Close()
	}
}

func (c *Client) SubscribeWS(ctx context.Context, channels exchange.WSChannels) (<-chan exchange.WSEvent, error) {
	return c.ws.start(ctx, channels)
}
