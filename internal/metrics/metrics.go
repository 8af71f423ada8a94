// Package metrics exposes the prometheus/client_golang counters/gauges/
// histograms named in the expanded spec's observability section: session
// acquisition outcomes, open session count, bulk-operation transaction
// duration, and notifier drops (the observable signal for §4.6's
// best-effort/subscribers-dropped contract).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AcquisitionsGranted counts Jobs successfully bound to a Session by
	// sessions.Repository.Acquire.
	AcquisitionsGranted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "balsam_acquisitions_granted_total",
		Help: "Jobs successfully acquired by a launcher session.",
	})

	// AcquisitionsSkipped counts candidate Jobs considered during acquire
	// that were not granted, labelled by why. reason is one of
	// "tag-mismatch" (sessions.Repository.lockCandidates rule 5),
	// "resource-exhausted" or "wall-time-exceeded" (both from
	// sessions.Pack). Ownership and requested-state filtering happen in the
	// candidate SQL's WHERE clause rather than as a per-row decision, so
	// they never produce a Job that reached Go only to be rejected — there
	// is no "not-owned"/"wrong-state" skip to count.
	AcquisitionsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "balsam_acquisitions_skipped_total",
		Help: "Candidate Jobs evaluated during acquire that were not granted, by reason.",
	}, []string{"reason"})

	// OpenSessions is the current count of live launcher Sessions.
	OpenSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "balsam_open_sessions",
		Help: "Number of Sessions currently open.",
	})

	// BulkOperationDuration observes how long each bulk mutation's single
	// transaction took, labelled by operation name.
	BulkOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "balsam_bulk_operation_duration_seconds",
		Help:    "Duration of a bulk mutation's transaction, by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// NotifyDropped mirrors notify.Bus.Dropped(): events dropped because a
	// subscriber's bounded queue was full.
	NotifyDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "balsam_notify_dropped_total",
		Help: "Events dropped by the in-process notifier because a subscriber's queue was full.",
	})
)

func init() {
	prometheus.MustRegister(AcquisitionsGranted, AcquisitionsSkipped, OpenSessions, BulkOperationDuration, NotifyDropped)
}
