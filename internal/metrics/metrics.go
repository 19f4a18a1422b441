package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ErrorsTotal tracks classified migration errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_errors_total",
			Help: "Total number of classified migration errors",
		},
		[]string{"level", "category"},
	)

	// RecoveryActionsTotal tracks the recovery strategy chosen per error
	RecoveryActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_recovery_actions_total",
			Help: "Total number of recovery actions by strategy",
		},
		[]string{"strategy"},
	)

	// CircuitState is 0 closed, 1 open, 2 half-open
	CircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "migrator_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)

	// EventsTotal tracks dispatched trigger events by outcome
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_events_total",
			Help: "Total number of trigger events by type and result",
		},
		[]string{"type", "result"},
	)

	// ModeExecutionsTotal tracks execution requests gated by the mode manager
	ModeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_mode_executions_total",
			Help: "Total number of execution requests by mode, trigger and decision",
		},
		[]string{"mode", "triggered_by", "allowed"},
	)

	// RecordsMigrated tracks records migrated per unit
	RecordsMigrated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_records_migrated_total",
			Help: "Total number of records migrated",
		},
		[]string{"unit"},
	)

	// RecordsFailed tracks records that could not be migrated
	RecordsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migrator_records_failed_total",
			Help: "Total number of records that failed to migrate",
		},
		[]string{"unit"},
	)

	// MigrationDuration tracks how long each unit takes
	MigrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migrator_unit_duration_seconds",
			Help:    "Migration duration per unit in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"unit"},
	)

	// Progress tracks the monitored migration progress percentage
	Progress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "migrator_progress_percent",
			Help: "Progress of the running migration in percent",
		},
	)

	// MemoryUsage tracks sampled memory usage percentage
	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "migrator_memory_usage_percent",
			Help: "Process memory usage as percent of system memory",
		},
	)

	// ErrorRate tracks errors per processed item
	ErrorRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "migrator_error_rate",
			Help: "Errors per processed item of the running migration",
		},
	)
)

// DBConnectionPoolUsage tracks the record database pool usage percentage
var DBConnectionPoolUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "migrator_db_connection_pool_usage_percent",
		Help: "Open connections as percent of the pool maximum",
	},
)
