package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "loopsync",
			Name:      "queue_pending",
			Help:      "Pending offline actions awaiting sync.",
		},
	)

	syncedItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loopsync",
			Name:      "synced_items_total",
			Help:      "Queue entries applied to the server, by action type.",
		},
		[]string{"action"},
	)

	captureFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loopsync",
			Name:      "capture_fallback_total",
			Help:      "Actions captured locally instead of sent directly, by action type.",
		},
		[]string{"action"},
	)

	drainFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loopsync",
			Name:      "drain_failures_total",
			Help:      "Drain halts and entry drops, by failure class.",
		},
		[]string{"class"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(queuePending, syncedItems, captureFallbacks, drainFailures)
	})
}

// SetQueuePending publishes the current pending-entry count.
func SetQueuePending(n int) {
	queuePending.Set(float64(n))
}

// IncSynced increments the applied-entry counter for an action type.
func IncSynced(action string) {
	syncedItems.WithLabelValues(action).Inc()
}

// IncCaptureFallback increments the offline-capture counter for an action type.
func IncCaptureFallback(action string) {
	captureFallbacks.WithLabelValues(action).Inc()
}

// IncDrainFailure increments the drain-failure counter for a failure class.
func IncDrainFailure(class string) {
	drainFailures.WithLabelValues(class).Inc()
}
