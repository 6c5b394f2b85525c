// Package metrics – Prometheus collectors for the trading daemon.
//
// Served by the ops listener at /metrics (Prometheus text exposition format).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Cycles counts completed orchestration cycles.
	Cycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "martin_cycles_total",
			Help: "Completed orchestration cycles",
		},
	)

	// Transitions counts trade status transitions by edge.
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "martin_transitions_total",
			Help: "Trade status transitions",
		},
		[]string{"from", "to"},
	)

	// CapChecks counts CAP evaluations by verdict.
	CapChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "martin_cap_checks_total",
			Help: "CAP check verdicts",
		},
		[]string{"status"},
	)

	// Settlements counts settled trades by result (win|loss|untaken).
	Settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "martin_settlements_total",
			Help: "Settled trades by result",
		},
		[]string{"result"},
	)

	// OrdersPlaced counts orders by execution mode.
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "martin_orders_total",
			Help: "Orders placed",
		},
		[]string{"mode"},
	)

	// SnapshotAge reports the age in seconds of the last good snapshot per asset.
	SnapshotAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "martin_snapshot_age_seconds",
			Help: "Age of the last good TA snapshot",
		},
		[]string{"asset"},
	)

	// TradeStreak exposes the current trade-level win streak.
	TradeStreak = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "martin_trade_level_streak",
			Help: "Current trade-level win streak",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Cycles,
		Transitions,
		CapChecks,
		Settlements,
		OrdersPlaced,
		SnapshotAge,
		TradeStreak,
	)
}
