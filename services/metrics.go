package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	questsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_quests_resolved_total",
			Help: "Quest instances resolved, by final status",
		},
		[]string{"status"},
	)
	daysClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_days_closed_total",
			Help: "Day records closed, by qualification outcome",
		},
		[]string{"qualified"},
	)
	runsEntered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_runs_entered_total",
			Help: "Timed runs entered",
		},
	)
	xpAwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_xp_awarded_total",
			Help: "XP granted through the ledger",
		},
	)
	xpReversed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_xp_reversed_total",
			Help: "XP voided by reversal events",
		},
	)
)

// InitMetrics registers the engine counters. Call this from main.go after
// middleware.InitPrometheus.
func InitMetrics() {
	prometheus.MustRegister(questsResolved)
	prometheus.MustRegister(daysClosed)
	prometheus.MustRegister(runsEntered)
	prometheus.MustRegister(xpAwarded)
	prometheus.MustRegister(xpReversed)
}
