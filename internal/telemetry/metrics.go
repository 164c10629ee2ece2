package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReasonTotal is the single reason-code counter every component bumps
	// when it makes a decision worth counting: a filter block, an exit
	// trigger, a skipped signal, an order rejection. The "component" label
	// scopes the reason namespace so "stale" means something different
	// under marketdata vs exchange.
	ReasonTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_reason_total",
			Help: "Count of decisions taken, keyed by component and reason code",
		},
		[]string{"component", "reason"},
	)

	OrdersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_orders_placed_total",
			Help: "Orders submitted to the exchange",
		},
		[]string{"symbol", "side", "order_type"},
	)

	OrdersFilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_orders_filled_total",
			Help: "Orders that reached a filled terminal state",
		},
		[]string{"symbol", "side"},
	)

	ExitTrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scalper_exit_trades_total",
			Help: "Completed exits, keyed by the exit-engine rule that fired",
		},
		[]string{"symbol", "exit_rule"},
	)

	RealizedPnL = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scalper_realized_pnl_usd",
			Help:    "Realized PnL per closed position, in quote currency",
			Buckets: prometheus.LinearBuckets(-200, 20, 20),
		},
		[]string{"symbol"},
	)

	OpenPositions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scalper_open_positions",
			Help: "Currently registered open positions",
		},
		[]string{"symbol"},
	)

	RegimeState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scalper_regime_state",
			Help: "Current regime per symbol (0=trending, 1=ranging, 2=choppy)",
		},
		[]string{"symbol"},
	)

	ExchangeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scalper_exchange_latency_seconds",
			Help:    "Exchange REST call latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"exchange", "endpoint"},
	)

	MarketDataAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scalper_market_data_age_seconds",
			Help: "Age of the freshest price snapshot served for a purpose tag",
		},
		[]string{"symbol", "purpose"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scalper_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"name"},
	)
)

// RecordReason is the one call site every decision point should reach for.
func RecordReason(component, reason string) {
	ReasonTotal.WithLabelValues(component, reason).Inc()
}

// RecordExit records a completed exit and its PnL in one call.
func RecordExit(symbol, exitRule string, pnl float64) {
	ExitTrades.WithLabelValues(symbol, exitRule).Inc()
	RealizedPnL.WithLabelValues(symbol).Observe(pnl)
}
