// Package metrics exposes the bot's Prometheus metrics, served at /metrics
// in text exposition format.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Alerts counts inbound alerts by outcome: accepted, rejected,
	// duplicate, error.
	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_alerts_total",
			Help: "Alerts received, split by outcome",
		},
		[]string{"outcome"},
	)

	// OrdersPlaced counts orders handed to the exchange.
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_placed_total",
			Help: "Orders placed on the exchange, split by type and side",
		},
		[]string{"type", "side"},
	)

	// FillsReconciled counts protective-order fills processed from the
	// user-data stream.
	FillsReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_fills_reconciled_total",
			Help: "Protective order fills reconciled, split by order type",
		},
		[]string{"order_type"},
	)

	// MockTrades counts finalized simulated trades by exit reason.
	MockTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_mock_trades_total",
			Help: "Simulated trades finalized, split by exit reason",
		},
		[]string{"exit_reason"},
	)

	// CurrentTrades mirrors the durable currentTrades counter.
	CurrentTrades = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_current_trades",
			Help: "Positions currently believed open",
		},
	)

	// StreamConnected is 1 while the user-data websocket is up.
	StreamConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_user_stream_connected",
			Help: "1 when the user data stream is connected, else 0",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Alerts, OrdersPlaced, FillsReconciled, MockTrades,
		CurrentTrades, StreamConnected,
	)
}
