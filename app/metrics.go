package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedpipe_fetch_attempts_total",
		Help: "Fetch attempts by outcome (done, retry, failed, error, skipped)",
	}, []string{"result"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedpipe_fetch_duration_seconds",
		Help:    "Duration of a fetch, normalize and reconcile cycle",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
	})

	entriesInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedpipe_entries_inserted_total",
		Help: "Feed entries written by the reconciler",
	})

	schedulerTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedpipe_scheduler_triggers_total",
		Help: "Recurring task firings",
	})

	retriesScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedpipe_retries_scheduled_total",
		Help: "Fetch retries queued after a transient failure",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedpipe_queue_depth",
		Help: "Fetch jobs waiting for a worker",
	})
)
