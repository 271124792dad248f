package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)

	LocksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "gogotex", Subsystem: "mindmap", Name: "locks_held", Help: "Edit locks currently held."},
	)
	LockConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "mindmap", Name: "lock_conflicts_total", Help: "Lock or unlock attempts rejected because another user holds the lock."},
	)
	LockCapacityRejections = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "mindmap", Name: "lock_capacity_rejections_total", Help: "Lock attempts rejected because the lock table is full."},
	)
	LockCapacityWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "mindmap", Name: "lock_capacity_warnings_total", Help: "Lock acquisitions made while the table was above the warning threshold."},
	)
	LocksReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "mindmap", Name: "locks_released_total", Help: "Released locks by reason."},
		[]string{"reason"},
	)
	RevisionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "mindmap", Name: "revisions_created_total", Help: "Revisions appended to document history."},
	)
	CollaborationChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "mindmap", Name: "collaboration_changes_total", Help: "Collaboration mutations by kind."},
		[]string{"kind"},
	)
	Edits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "mindmap", Name: "edits_total", Help: "Document edits by outcome."},
		[]string{"outcome"},
	)
	EventSinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gogotex", Subsystem: "mindmap", Name: "event_sink_failures_total", Help: "Events a sink failed to deliver."},
		[]string{"sink"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(LocksHeld)
	reg.MustRegister(LockConflicts)
	reg.MustRegister(LockCapacityRejections)
	reg.MustRegister(LockCapacityWarnings)
	reg.MustRegister(LocksReleased)
	reg.MustRegister(RevisionsCreated)
	reg.MustRegister(CollaborationChanges)
	reg.MustRegister(Edits)
	reg.MustRegister(EventSinkFailures)
}
