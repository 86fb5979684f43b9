// Package metrics exposes Prometheus metrics the engine updates while
// running, served at /metrics in the Prometheus text exposition format.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SignalsEvaluated counts consensus evaluations per symbol.
	SignalsEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_evaluated_total",
			Help: "Strategy consensus evaluations",
		},
		[]string{"symbol"},
	)

	// SignalsRejected counts filter and risk-gate rejections by reason.
	SignalsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_rejected_total",
			Help: "Signals rejected, by reason",
		},
		[]string{"symbol", "reason"},
	)

	// OrdersPlaced counts accepted order submissions by side.
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Orders placed",
		},
		[]string{"symbol", "side"},
	)

	// OrdersFailed counts terminal order failures.
	OrdersFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_failed_total",
			Help: "Orders that failed terminally",
		},
		[]string{"symbol"},
	)

	// PositionsOpen tracks currently open positions.
	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_positions_open",
			Help: "Open positions",
		},
	)

	// ClosedTrades counts closed positions by result.
	ClosedTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Closed trades by result (win|loss)",
		},
		[]string{"symbol", "result"},
	)

	// EquityUSD is the latest total-equity snapshot.
	EquityUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_equity_usd",
			Help: "Total equity (free + locked + unrealized)",
		},
	)

	// CooldownActive is 1 while new entries are blocked by a cooldown.
	CooldownActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_cooldown_active",
			Help: "1 while the loss cooldown blocks new entries",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SignalsEvaluated,
		SignalsRejected,
		OrdersPlaced,
		OrdersFailed,
		PositionsOpen,
		ClosedTrades,
		EquityUSD,
		CooldownActive,
	)
}
