// FILE: metrics.go
// Package main – Prometheus instrumentation for the trading engine.
//
// Exposed on /metrics (see main.go). Helper funcs keep the call sites in the
// pipeline one-liners; label cardinality is bounded by fixed enums (mode,
// side, signal, reason, status).

package main

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_cycles_total",
			Help: "Trading cycles executed, by mode.",
		},
		[]string{"mode"},
	)

	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_decisions_total",
			Help: "Strategy decisions, by direction of the target change.",
		},
		[]string{"signal"}, // buy | sell | hold
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_submitted_total",
			Help: "Orders handed to the broker, by mode and side.",
		},
		[]string{"mode", "side"},
	)

	mtxRiskBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_risk_adjustments_total",
			Help: "Orders clamped or rejected by the risk gate, by reason.",
		},
		[]string{"action", "reason"},
	)

	mtxDuplicates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_duplicate_submissions_total",
			Help: "Submissions short-circuited by the idempotency ledger.",
		},
	)

	mtxReconciled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_intents_reconciled_total",
			Help: "Order intents resolved against broker truth, by final status.",
		},
		[]string{"status"},
	)

	mtxCycleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_cycle_errors_total",
			Help: "Recoverable per-cycle failures, by kind.",
		},
		[]string{"kind"}, // feed | broker | store
	)

	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_equity",
			Help: "Last reconciled account equity.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxCycles,
		mtxDecisions,
		mtxOrders,
		mtxRiskBlocked,
		mtxDuplicates,
		mtxReconciled,
		mtxCycleErrors,
		mtxEquity,
	)
}

func metricCycle(mode string)                 { mtxCycles.WithLabelValues(mode).Inc() }
func metricDecision(signal string)            { mtxDecisions.WithLabelValues(signal).Inc() }
func metricOrder(mode string, side OrderSide) { mtxOrders.WithLabelValues(mode, string(side)).Inc() }
func metricRisk(action, reason string)        { mtxRiskBlocked.WithLabelValues(action, reason).Inc() }
func metricDuplicate()                        { mtxDuplicates.Inc() }
func metricReconciled(status OrderStatus)     { mtxReconciled.WithLabelValues(string(status)).Inc() }
func metricCycleError(kind string)            { mtxCycleErrors.WithLabelValues(kind).Inc() }
func metricEquity(v float64)                  { mtxEquity.Set(v) }
