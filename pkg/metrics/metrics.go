// Package metrics defines the Prometheus metrics of rule registration and indexing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the prefix of every metric name.
	Namespace = "ekaya_rules"
)

// Registration metrics
var (
	// RegistrationRuns counts registration runs by outcome (success, failed, skipped).
	RegistrationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "registration",
			Name:      "runs_total",
			Help:      "Rule registration runs by outcome",
		},
		[]string{"outcome"},
	)

	RegistrationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "registration",
			Name:      "duration_seconds",
			Help:      "Duration of rule registration runs",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// RuleOperations counts rule writes by kind (insert, update, reactivate, remove, custom).
	RuleOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "registration",
			Name:      "rule_operations_total",
			Help:      "Rule writes applied by registration, by kind",
		},
		[]string{"kind"},
	)

	RegistrationWarnings = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "registration",
			Name:      "warnings_total",
			Help:      "Non-fatal data quality warnings raised by registration",
		},
	)

	ActiveRulesDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "registration",
			Name:      "active_rules_deactivated_total",
			Help:      "Active rules deleted because their rule was removed",
		},
	)

	TagsCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "registration",
			Name:      "tags_collected_total",
			Help:      "Unreferenced tags deleted",
		},
	)
)

// Index metrics
var (
	// IndexDocuments counts documents written by mode (incremental, rebuild) and type (rule, active_rule).
	IndexDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "index",
			Name:      "documents_written_total",
			Help:      "Search index documents written",
		},
		[]string{"mode", "type"},
	)

	IndexOrphansDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "index",
			Name:      "orphans_deleted_total",
			Help:      "Search index entries deleted by rebuild because the store no longer has them",
		},
		[]string{"type"},
	)

	IndexRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "index",
			Name:      "rebuild_duration_seconds",
			Help:      "Duration of full index rebuilds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	IndexFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "index",
			Name:      "failures_total",
			Help:      "Index writes that failed and left the index stale",
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
