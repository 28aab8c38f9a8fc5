package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CollectionsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "linkvault", Name: "collections_deleted_total", Help: "Collections removed from a user's view, by path (owner, leave)."},
		[]string{"path"},
	)
	LinksDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "linkvault", Name: "links_deleted_total", Help: "Links deleted together with their collections."},
	)
	CleanupFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "linkvault", Name: "cleanup_failures_total", Help: "Failed secondary-store cleanups, by target (search, archive)."},
		[]string{"target"},
	)
	CleanupDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "linkvault", Name: "cleanup_dropped_total", Help: "Cleanup tasks dropped because the queue was full or closed."},
	)
	DeleteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "linkvault", Name: "delete_duration_seconds", Help: "Duration of collection deletion requests.", Buckets: prometheus.DefBuckets},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(CollectionsDeleted)
	reg.MustRegister(LinksDeleted)
	reg.MustRegister(CleanupFailures)
	reg.MustRegister(CleanupDropped)
	reg.MustRegister(DeleteDuration)
}
