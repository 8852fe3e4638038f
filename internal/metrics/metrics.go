// Package metrics holds the Prometheus collectors for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansuz_sync_passes_total",
		Help: "Total number of sync passes by scope (full, scoped)",
	}, []string{"scope"})

	SyncChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansuz_sync_changes_total",
		Help: "Total number of applied changes by reconciliation status",
	}, []string{"status"})

	SyncItemFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ansuz_sync_item_failures_total",
		Help: "Total number of per-note failures skipped during sync passes",
	})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ansuz_sync_duration_seconds",
		Help:    "Duration of sync passes",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	IndexReady = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ansuz_index_ready",
		Help: "1 when the index schema is migrated and usable",
	})

	MigrationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ansuz_migration_failures_total",
		Help: "Total number of failed migration runs",
	})

	Rebuilds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ansuz_index_rebuilds_total",
		Help: "Total number of index rebuilds",
	})

	Searches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansuz_search_requests_total",
		Help: "Total number of search and suggestion requests by kind and outcome",
	}, []string{"kind", "outcome"})

	Autosaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansuz_autosave_total",
		Help: "Total number of autosave triggers by outcome (saved, skipped, failed)",
	}, []string{"outcome"})
)
