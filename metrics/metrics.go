package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// MutationCounter tracks the number of guarded document mutations.
	MutationCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "listd_mutations_total",
		Help: "Total number of guarded document mutations",
	})
	// MutationErrorCounter tracks mutations that failed.
	MutationErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "listd_mutation_errors_total",
		Help: "Total number of failed document mutations",
	})
	// LockAcquired tracks successful lock acquisitions.
	LockAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "listd_lock_acquired_total",
		Help: "Total number of successful lock acquisitions",
	})
	// LockRetries tracks backoff waits while the lock was contended.
	LockRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "listd_lock_retries_total",
		Help: "Total number of lock acquisition backoff waits",
	})
	// LockStaleBroken tracks stale markers forcibly removed.
	LockStaleBroken = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "listd_lock_stale_broken_total",
		Help: "Total number of stale lock markers broken",
	})
	// LockTimeouts tracks acquisitions that exhausted the attempt budget.
	LockTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "listd_lock_timeouts_total",
		Help: "Total number of lock acquisition timeouts",
	})
	// BroadcastCounter tracks document snapshots published to watchers.
	BroadcastCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "listd_broadcasts_total",
		Help: "Total number of document snapshots broadcast",
	})
	// WatcherGauge reports the number of connected watchers.
	WatcherGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "listd_watchers",
		Help: "Current number of connected watchers",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers listd core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		MutationCounter, MutationErrorCounter,
		LockAcquired, LockRetries, LockStaleBroken, LockTimeouts,
		BroadcastCounter, WatcherGauge,
	)
}
