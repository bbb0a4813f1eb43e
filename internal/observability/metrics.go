package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for quota subsystem self-monitoring.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// Gate metrics
	ChecksTotal            *prometheus.CounterVec
	BlocksEnforcedTotal    prometheus.Counter
	AutomaticUnblocksTotal prometheus.Counter
	Blocked                prometheus.Gauge

	// Probe metrics
	ProbeDuration     prometheus.Histogram
	ProbeFailuresTotal prometheus.Counter
	FilesSkippedTotal prometheus.Counter

	// Cache metrics
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	CacheFailSafeTotal prometheus.Counter

	// Usage metrics
	UsageBytes      prometheus.Gauge
	UsageLimitBytes prometheus.Gauge

	// Store metrics
	StoreErrorsTotal *prometheus.CounterVec

	// Monitor metrics
	TickDuration              prometheus.Histogram
	EventsEmittedTotal        *prometheus.CounterVec
	NotificationsCreatedTotal *prometheus.CounterVec
	SinkFailuresTotal         prometheus.Counter
	PurgedRecordsTotal        *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotad_gate_checks_total",
			Help: "Total number of gate checks by result.",
		}, []string{"result"}),
		BlocksEnforcedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotad_gate_blocks_enforced_total",
			Help: "Total number of times the gate transitioned to blocked.",
		}),
		AutomaticUnblocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotad_gate_automatic_unblocks_total",
			Help: "Total number of automatic unblocks after capacity recovered.",
		}),
		Blocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotad_gate_blocked",
			Help: "Whether the gate is currently blocked (1 = blocked).",
		}),

		ProbeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quotad_probe_duration_seconds",
			Help:    "Duration of filesystem usage probes in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		ProbeFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotad_probe_failures_total",
			Help: "Total number of failed usage probes.",
		}),
		FilesSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotad_probe_files_skipped_total",
			Help: "Total number of files skipped due to stat errors.",
		}),

		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotad_cache_hits_total",
			Help: "Total number of usage cache hits.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotad_cache_misses_total",
			Help: "Total number of usage cache misses forcing a recompute.",
		}),
		CacheFailSafeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotad_cache_failsafe_total",
			Help: "Total number of synthesized fail-safe snapshots served.",
		}),

		UsageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotad_usage_bytes",
			Help: "Most recently observed storage usage in bytes.",
		}),
		UsageLimitBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotad_usage_limit_bytes",
			Help: "Configured storage limit in bytes.",
		}),

		StoreErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotad_store_errors_total",
			Help: "Total number of shared-store operation failures.",
		}, []string{"op"}),

		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quotad_monitor_tick_duration_seconds",
			Help:    "Duration of threshold monitor ticks in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		EventsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotad_monitor_events_total",
			Help: "Total number of audit events recorded by type.",
		}, []string{"type"}),
		NotificationsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotad_monitor_notifications_created_total",
			Help: "Total number of notifications created by severity.",
		}, []string{"severity"}),
		SinkFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotad_monitor_sink_failures_total",
			Help: "Total number of notification sink delivery failures.",
		}),
		PurgedRecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotad_monitor_purged_records_total",
			Help: "Total number of expired records purged by kind.",
		}, []string{"kind"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotad_errors_total",
			Help: "Total number of errors by code.",
		}, []string{"code"}),
	}

	// Register all metrics with the custom registry.
	reg.MustRegister(
		m.ChecksTotal,
		m.BlocksEnforcedTotal,
		m.AutomaticUnblocksTotal,
		m.Blocked,
		m.ProbeDuration,
		m.ProbeFailuresTotal,
		m.FilesSkippedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheFailSafeTotal,
		m.UsageBytes,
		m.UsageLimitBytes,
		m.StoreErrorsTotal,
		m.TickDuration,
		m.EventsEmittedTotal,
		m.NotificationsCreatedTotal,
		m.SinkFailuresTotal,
		m.PurgedRecordsTotal,
		m.ErrorsTotal,
	)

	return m
}
