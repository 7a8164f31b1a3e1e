// Package metrics exposes trafego's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trafego"

var (
	// ReconcileCycles counts reconciliation cycles per provider and outcome
	// (success, error, skipped).
	ReconcileCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_cycles_total",
		Help:      "Reconciliation cycles by provider and outcome.",
	}, []string{"provider", "outcome"})

	// ReconcileDuration observes wall-clock time per reconciliation cycle.
	ReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Reconciliation cycle duration.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})

	// Operations counts plan operations by action and status.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Plan operations by provider, action, and status.",
	}, []string{"provider", "action", "status"})

	// DesiredRecords tracks the size of the desired set per provider.
	DesiredRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "desired_records",
		Help:      "Desired records routed to each provider.",
	}, []string{"provider"})

	// OrphansMarked counts records entering the orphan grace window.
	OrphansMarked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphans_marked_total",
		Help:      "Managed records marked as orphaned.",
	}, []string{"provider"})

	// OrphansSwept counts orphans deleted after the grace window.
	OrphansSwept = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orphans_swept_total",
		Help:      "Orphaned records deleted at the provider.",
	}, []string{"provider"})

	// CacheRefreshes counts provider cache refreshes by outcome.
	CacheRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_refreshes_total",
		Help:      "Provider cache refreshes by outcome.",
	}, []string{"provider", "outcome"})

	// ProviderErrors counts adapter failures by error class.
	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_errors_total",
		Help:      "Adapter errors by provider and class.",
	}, []string{"provider", "class"})

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata with a constant value of 1.",
	}, []string{"version", "go_version"})
)

// SetBuildInfo records the running version, typically once at startup.
func SetBuildInfo(version, goVersion string) {
	buildInfo.WithLabelValues(version, goVersion).Set(1)
}
