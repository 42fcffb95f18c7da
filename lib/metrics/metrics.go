// Package metrics holds the process-wide Prometheus collectors for splits and sweeps.
// HTTP request metrics are exported separately by the echo middleware.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ledgerhub"

// Split outcomes.
const (
	OutcomeSettled  = "settled"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
)

var SplitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "settlement",
	Name:      "splits_total",
	Help:      "Payment split attempts by outcome.",
}, []string{"outcome"})

var SplitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "settlement",
	Name:      "split_duration_seconds",
	Help:      "Time taken to split a confirmed payment.",
	Buckets:   prometheus.DefBuckets,
})

var SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reconciler",
	Name:      "runs_total",
	Help:      "Sweep runs by task and result (ok, error, skipped_overlap).",
}, []string{"task", "result"})

var SweepItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "reconciler",
	Name:      "items_total",
	Help:      "Items seen by sweeps, by task and outcome (processed, skipped, failed).",
}, []string{"task", "outcome"})

var SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "reconciler",
	Name:      "run_duration_seconds",
	Help:      "Duration of a single sweep run.",
	Buckets:   prometheus.DefBuckets,
}, []string{"task"})

var NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "notify",
	Name:      "dropped_total",
	Help:      "Notifications dropped because the dispatch buffer was full.",
})
