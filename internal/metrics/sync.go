package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncsStarted tracks sync exchanges by role
	SyncsStarted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "started_total",
			Help:      "Total number of sync exchanges started",
		},
		[]string{"role"}, // client, server
	)

	// SyncsCompleted tracks finished sync exchanges by status
	SyncsCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "completed_total",
			Help:      "Total number of sync exchanges completed",
		},
		[]string{"status"}, // success, failure
	)

	// EventsMerged tracks events newly added during merges
	EventsMerged = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_merged_total",
			Help:      "Total number of events newly added via merge",
		},
	)

	// SyncPhaseDuration tracks per-phase durations of the exchange
	SyncPhaseDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "phase_duration_seconds",
			Help:      "Sync phase duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"phase"}, // inventory, pull, push
	)

	// AuthFailures tracks rejected authentication attempts
	AuthFailures = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "auth_failures_total",
			Help:      "Total number of rejected authentication attempts",
		},
	)
)
