package monitor

import "time"

// Bus topics the monitor publishes on.
const (
	TopicStart    = "monitor:start"
	TopicProgress = "monitor:progress"
	TopicPhase    = "monitor:phase"
	TopicError    = "monitor:error"
	TopicWarning  = "monitor:warning"
	TopicAlert    = "monitor:alert"
	TopicMetrics  = "monitor:metrics"
	TopicComplete = "monitor:complete"
)

// EventKind tags entries of the monitor's event history.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventPhase    EventKind = "phase"
	EventAlert    EventKind = "alert"
	EventComplete EventKind = "complete"
)

// Event is one entry of the lifecycle history. Phase entries are the
// markers bottleneck analysis works from.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Phase     string         `json:"phase,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Alert is raised when a threshold is crossed.
type Alert struct {
	Kind      string    `json:"kind"` // error_rate, critical_error, memory
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// PerformanceMetrics are the running counters of the current migration.
type PerformanceMetrics struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
	ItemsProcessed int           `json:"items_processed"`
	TotalItems     int           `json:"total_items"`

	CurrentThroughput float64 `json:"current_throughput"` // items/sec since the previous update
	AverageThroughput float64 `json:"average_throughput"`
	PeakThroughput    float64 `json:"peak_throughput"`

	MemoryUsed        uint64  `json:"memory_used"`
	MemoryTotal       uint64  `json:"memory_total"`
	MemoryPercent     float64 `json:"memory_percent"`
	PeakMemoryPercent float64 `json:"peak_memory_percent"`

	ErrorCount   int     `json:"error_count"`
	WarningCount int     `json:"warning_count"`
	ErrorRate    float64 `json:"error_rate"`
}

// RealtimeStatus is the dashboard view of the running migration.
type RealtimeStatus struct {
	Running    bool          `json:"running"`
	Phase      string        `json:"phase,omitempty"`
	Progress   float64       `json:"progress"` // percent
	Processed  int           `json:"processed"`
	Total      int           `json:"total"`
	Throughput float64       `json:"throughput"`
	ETA        time.Duration `json:"eta"`
	Errors     int           `json:"errors"`
	Warnings   int           `json:"warnings"`
	LastError  string        `json:"last_error,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// MetricSnapshot is one periodic sample.
type MetricSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	Processed     int       `json:"processed"`
	Throughput    float64   `json:"throughput"`
	MemoryPercent float64   `json:"memory_percent"`
	Errors        int       `json:"errors"`
	Warnings      int       `json:"warnings"`
}

// PhaseTiming is the accumulated time spent in one phase.
type PhaseTiming struct {
	Phase    string        `json:"phase"`
	Duration time.Duration `json:"duration"`
	Share    float64       `json:"share"` // fraction of the total elapsed time
}

// BottleneckInfo is a phase that took more than the configured share.
type BottleneckInfo = PhaseTiming

// Summary aggregates a finished (or running) migration.
type Summary struct {
	Duration          time.Duration    `json:"duration"`
	ItemsProcessed    int              `json:"items_processed"`
	TotalItems        int              `json:"total_items"`
	AverageThroughput float64          `json:"average_throughput"`
	PeakThroughput    float64          `json:"peak_throughput"`
	ErrorCount        int              `json:"error_count"`
	WarningCount      int              `json:"warning_count"`
	ErrorRate         float64          `json:"error_rate"`
	WarningRate       float64          `json:"warning_rate"`
	PeakMemoryPercent float64          `json:"peak_memory_percent"`
	Phases            []PhaseTiming    `json:"phases"`
	Bottlenecks       []BottleneckInfo `json:"bottlenecks"`
}
