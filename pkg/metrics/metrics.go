package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Admissions records join attempts by outcome (new|reconnected|duplicate|rejected).
	Admissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobbyd_admissions_total",
			Help: "Total number of roster admission attempts",
		},
		[]string{"outcome"},
	)

	// Disconnects counts connection teardowns by phase (session|lobby).
	Disconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobbyd_disconnects_total",
			Help: "Total number of client disconnects",
		},
		[]string{"phase"},
	)

	// ConnectedClients tracks live websocket connections.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lobbyd_connected_clients",
			Help: "Number of live client connections",
		},
	)

	// RosterSize tracks stored participant records, connected or not.
	RosterSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lobbyd_roster_size",
			Help: "Number of participant records in the roster",
		},
	)

	// SessionTransitions counts session lifecycle changes (started|ended|reset).
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobbyd_session_transitions_total",
			Help: "Total number of session lifecycle transitions",
		},
		[]string{"transition"},
	)

	// MessagesReceived counts inbound websocket frames by type.
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobbyd_messages_received_total",
			Help: "Total number of inbound client messages",
		},
		[]string{"type"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lobbyd_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
