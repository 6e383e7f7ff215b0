// Package metrics exposes Prometheus collectors for the scheduling engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "captionctl"

var (
	// SelectionRuns counts account runs by outcome (ok or an error kind).
	SelectionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "selection_runs_total",
		Help:      "Per-account selection runs by outcome",
	}, []string{"outcome"})

	SelectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "selection_run_duration_seconds",
		Help:      "Wall time of one account selection run",
		Buckets:   prometheus.DefBuckets,
	})

	// SelectedByStrategy counts locked assignments by explore/exploit/balanced label.
	SelectedByStrategy = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "selected_items_total",
		Help:      "Locked assignments by strategy label",
	}, []string{"strategy"})

	LockConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "assignment_lock_conflicts_total",
		Help:      "Assignment lock conflicts by reason",
	}, []string{"reason"})

	RestrictionBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "restriction_matches_total",
		Help:      "Candidates matched by restriction rules",
	}, []string{"enforcement", "rule_type"})

	RestrictionFailOpen = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "restriction_fail_open_total",
		Help:      "Runs where the restriction filter was skipped",
	}, []string{"reason"})

	RestrictionHealthWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "restriction_health_warnings_total",
		Help:      "Runs where restriction rules removed more than the warning ratio of the pool",
	})

	EvidenceUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evidence_updates_total",
		Help:      "Evidence partition updates by outcome",
	}, []string{"outcome"})

	EvidenceUpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "evidence_update_duration_seconds",
		Help:      "Duration of one account evidence update",
		Buckets:   prometheus.DefBuckets,
	})

	FatigueScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fatigue_score",
		Help:      "Latest fatigue score per account",
	}, []string{"account"})

	FatigueScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fatigue_scans_total",
		Help:      "Fatigue scans by risk level",
	}, []string{"risk"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
