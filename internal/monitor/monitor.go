// Package monitor tracks the progress and performance of a running migration.
package monitor

import (
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/pbnjay/memory"

	"github.com/vietddude/migrator/internal/core/clock"
	"github.com/vietddude/migrator/internal/infra/bus"
	"github.com/vietddude/migrator/internal/metrics"
)

// Config holds monitor settings.
type Config struct {
	Interval            time.Duration // periodic collection interval
	ErrorRateThreshold  float64       // errors per processed item
	MemoryThreshold     float64       // percent
	BottleneckThreshold float64       // share of total elapsed time
	MaxSnapshots        int
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:            time.Second,
		ErrorRateThreshold:  0.10,
		MemoryThreshold:     90,
		BottleneckThreshold: 0.20,
		MaxSnapshots:        60,
	}
}

const (
	maxAlerts = 50
	maxEvents = 500
)

// MemoryReader returns the memory used by the process and the system total, in bytes.
type MemoryReader func() (used, total uint64)

// SystemMemory reads the runtime's obtained memory against physical memory.
func SystemMemory() (uint64, uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, memory.TotalMemory()
}

// Monitor collects metrics for one migration run at a time.
type Monitor struct {
	cfg     Config
	clock   clock.Clock
	bus     *bus.Bus
	readMem MemoryReader

	mu          sync.Mutex
	running     bool
	startTime   time.Time
	endTime     time.Time
	updatedAt   time.Time
	processed   int
	total       int
	lastCount   int
	lastSample  time.Time
	current     float64
	peak        float64
	memUsed     uint64
	memTotal    uint64
	memPercent  float64
	peakMem     float64
	errors      int
	warnings    int
	lastError   string
	phase       string
	events      []Event
	alerts      []Alert
	snapshots   []MetricSnapshot
	timer       clock.Timer
	memAlerting bool
}

// New creates a monitor. b may be nil; readMem nil selects SystemMemory.
func New(cfg Config, b *bus.Bus, clk clock.Clock, readMem MemoryReader) *Monitor {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = def.ErrorRateThreshold
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = def.MemoryThreshold
	}
	if cfg.BottleneckThreshold <= 0 {
		cfg.BottleneckThreshold = def.BottleneckThreshold
	}
	if cfg.MaxSnapshots <= 0 {
		cfg.MaxSnapshots = def.MaxSnapshots
	}
	if clk == nil {
		clk = clock.New()
	}
	if readMem == nil {
		readMem = SystemMemory
	}
	return &Monitor{cfg: cfg, clock: clk, bus: b, readMem: readMem}
}

// Start resets every counter and begins periodic collection.
// A totalItems of 0 means unknown.
func (m *Monitor) Start(totalItems int) {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
	}
	now := m.clock.Now()
	m.reset()
	m.running = true
	m.startTime = now
	m.updatedAt = now
	m.lastSample = now
	m.total = totalItems
	m.events = append(m.events, Event{Kind: EventStart, Timestamp: now, Data: map[string]any{"total": totalItems}})
	m.timer = m.clock.AfterFunc(m.cfg.Interval, m.tick)
	m.mu.Unlock()

	metrics.Progress.Set(0)
	metrics.ErrorRate.Set(0)
	slog.Info("Migration monitor started", "total", totalItems)
	m.publish(TopicStart, m.GetStatus())
}

// UpdateProgress records the processed count. A total <= 0 keeps the previous total.
func (m *Monitor) UpdateProgress(processed, total int) {
	m.mu.Lock()
	now := m.clock.Now()
	if total > 0 {
		m.total = total
	}
	if dt := now.Sub(m.lastSample).Seconds(); dt > 0 {
		m.current = float64(processed-m.lastCount) / dt
		if m.current > m.peak {
			m.peak = m.current
		}
		m.lastCount = processed
		m.lastSample = now
	}
	m.processed = processed
	m.updatedAt = now
	status := m.statusLocked(now)
	m.mu.Unlock()

	metrics.Progress.Set(status.Progress)
	m.publish(TopicProgress, status)
}

// UpdatePhase marks the start of a named phase.
func (m *Monitor) UpdatePhase(name string) {
	m.mu.Lock()
	now := m.clock.Now()
	m.phase = name
	m.updatedAt = now
	m.appendEvent(Event{Kind: EventPhase, Phase: name, Timestamp: now})
	m.mu.Unlock()

	slog.Debug("Migration phase changed", "phase", name)
	m.publish(TopicPhase, Event{Kind: EventPhase, Phase: name, Timestamp: now})
}

// RecordError counts an error and alerts when the error rate crosses the threshold.
func (m *Monitor) RecordError(message string, critical bool) {
	m.mu.Lock()
	now := m.clock.Now()
	m.errors++
	m.lastError = message
	m.updatedAt = now
	rate := m.errorRateLocked()

	var raised []Alert
	if critical {
		raised = append(raised, m.raiseLocked(Alert{
			Kind:      "critical_error",
			Message:   message,
			Value:     1,
			Threshold: 0,
			Timestamp: now,
		}))
	}
	if rate > m.cfg.ErrorRateThreshold {
		raised = append(raised, m.raiseLocked(Alert{
			Kind:      "error_rate",
			Message:   "Error rate above threshold",
			Value:     rate,
			Threshold: m.cfg.ErrorRateThreshold,
			Timestamp: now,
		}))
	}
	m.mu.Unlock()

	metrics.ErrorRate.Set(rate)
	m.publish(TopicError, map[string]any{"message": message, "critical": critical, "timestamp": now})
	for _, a := range raised {
		m.publish(TopicAlert, a)
	}
}

// RecordWarning counts a warning.
func (m *Monitor) RecordWarning(message string) {
	m.mu.Lock()
	now := m.clock.Now()
	m.warnings++
	m.updatedAt = now
	m.mu.Unlock()

	m.publish(TopicWarning, map[string]any{"message": message, "timestamp": now})
}

// Stop finalizes the run and returns its summary.
func (m *Monitor) Stop() Summary {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	now := m.clock.Now()
	if m.running {
		m.running = false
		m.endTime = now
		m.appendEvent(Event{Kind: EventComplete, Timestamp: now})
	}
	m.mu.Unlock()

	summary := m.GetSummary()
	slog.Info("Migration monitor stopped",
		"duration", summary.Duration,
		"processed", summary.ItemsProcessed,
		"errors", summary.ErrorCount,
		"warnings", summary.WarningCount,
	)
	m.publish(TopicComplete, summary)
	return summary
}

// IsRunning reports whether a run is being monitored.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetStatus returns the realtime status.
func (m *Monitor) GetStatus() RealtimeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked(m.clock.Now())
}

// GetMetrics returns the performance counters.
func (m *Monitor) GetMetrics() PerformanceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := m.endLocked()
	return PerformanceMetrics{
		StartTime:         m.startTime,
		EndTime:           m.endTime,
		Elapsed:           end.Sub(m.startTime),
		ItemsProcessed:    m.processed,
		TotalItems:        m.total,
		CurrentThroughput: m.current,
		AverageThroughput: m.averageLocked(end),
		PeakThroughput:    m.peak,
		MemoryUsed:        m.memUsed,
		MemoryTotal:       m.memTotal,
		MemoryPercent:     m.memPercent,
		PeakMemoryPercent: m.peakMem,
		ErrorCount:        m.errors,
		WarningCount:      m.warnings,
		ErrorRate:         m.errorRateLocked(),
	}
}

// GetSnapshots returns the periodic samples, oldest first.
func (m *Monitor) GetSnapshots() []MetricSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MetricSnapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

// GetEvents returns the lifecycle history.
func (m *Monitor) GetEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// GetAlerts returns the most recent alerts.
func (m *Monitor) GetAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// GetSummary aggregates the run, including the bottleneck analysis.
func (m *Monitor) GetSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.endLocked()
	phases := m.phaseTimingsLocked(end)
	denom := float64(max(m.processed, 1))
	return Summary{
		Duration:          end.Sub(m.startTime),
		ItemsProcessed:    m.processed,
		TotalItems:        m.total,
		AverageThroughput: m.averageLocked(end),
		PeakThroughput:    m.peak,
		ErrorCount:        m.errors,
		WarningCount:      m.warnings,
		ErrorRate:         float64(m.errors) / denom,
		WarningRate:       float64(m.warnings) / denom,
		PeakMemoryPercent: m.peakMem,
		Phases:            phases,
		Bottlenecks:       m.bottlenecks(phases),
	}
}

// AnalyzeBottlenecks returns the phases whose share of the elapsed time
// exceeds the threshold, largest first.
func (m *Monitor) AnalyzeBottlenecks() []BottleneckInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bottlenecks(m.phaseTimingsLocked(m.endLocked()))
}

func (m *Monitor) bottlenecks(phases []PhaseTiming) []BottleneckInfo {
	var out []BottleneckInfo
	for _, p := range phases {
		if p.Share > m.cfg.BottleneckThreshold {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Share > out[j].Share })
	return out
}

// phaseTimingsLocked rebuilds per-phase durations from the phase markers,
// in order of first appearance.
func (m *Monitor) phaseTimingsLocked(end time.Time) []PhaseTiming {
	total := end.Sub(m.startTime)
	if total <= 0 {
		return nil
	}

	var markers []Event
	for _, e := range m.events {
		if e.Kind == EventPhase {
			markers = append(markers, e)
		}
	}

	index := make(map[string]int)
	var out []PhaseTiming
	for i, mk := range markers {
		next := end
		if i+1 < len(markers) {
			next = markers[i+1].Timestamp
		}
		d := next.Sub(mk.Timestamp)
		if d < 0 {
			d = 0
		}
		idx, ok := index[mk.Phase]
		if !ok {
			idx = len(out)
			index[mk.Phase] = idx
			out = append(out, PhaseTiming{Phase: mk.Phase})
		}
		out[idx].Duration += d
	}
	for i := range out {
		out[i].Share = float64(out[i].Duration) / float64(total)
	}
	return out
}

func (m *Monitor) tick() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	snap, alert := m.collectLocked()
	m.timer = m.clock.AfterFunc(m.cfg.Interval, m.tick)
	m.mu.Unlock()

	metrics.MemoryUsage.Set(snap.MemoryPercent)
	m.publish(TopicMetrics, snap)
	if alert != nil {
		m.publish(TopicAlert, *alert)
	}
}

// collectLocked samples memory and appends a snapshot.
func (m *Monitor) collectLocked() (MetricSnapshot, *Alert) {
	now := m.clock.Now()
	m.memUsed, m.memTotal = m.readMem()
	if m.memTotal > 0 {
		m.memPercent = float64(m.memUsed) / float64(m.memTotal) * 100
	}
	if m.memPercent > m.peakMem {
		m.peakMem = m.memPercent
	}

	snap := MetricSnapshot{
		Timestamp:     now,
		Processed:     m.processed,
		Throughput:    m.current,
		MemoryPercent: m.memPercent,
		Errors:        m.errors,
		Warnings:      m.warnings,
	}
	m.snapshots = append(m.snapshots, snap)
	if len(m.snapshots) > m.cfg.MaxSnapshots {
		m.snapshots = m.snapshots[len(m.snapshots)-m.cfg.MaxSnapshots:]
	}

	// Alert once per crossing.
	over := m.memPercent > m.cfg.MemoryThreshold
	var alert *Alert
	if over && !m.memAlerting {
		a := m.raiseLocked(Alert{
			Kind:      "memory",
			Message:   "Memory usage above threshold",
			Value:     m.memPercent,
			Threshold: m.cfg.MemoryThreshold,
			Timestamp: now,
		})
		alert = &a
	}
	m.memAlerting = over
	return snap, alert
}

// reset must be called with the lock held.
func (m *Monitor) reset() {
	m.running = false
	m.startTime, m.endTime, m.updatedAt, m.lastSample = time.Time{}, time.Time{}, time.Time{}, time.Time{}
	m.processed, m.total, m.lastCount = 0, 0, 0
	m.current, m.peak = 0, 0
	m.memUsed, m.memTotal = 0, 0
	m.memPercent, m.peakMem = 0, 0
	m.errors, m.warnings = 0, 0
	m.lastError, m.phase = "", ""
	m.events, m.alerts, m.snapshots = nil, nil, nil
	m.timer = nil
	m.memAlerting = false
}

func (m *Monitor) raiseLocked(a Alert) Alert {
	m.alerts = append(m.alerts, a)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	m.appendEvent(Event{Kind: EventAlert, Phase: m.phase, Timestamp: a.Timestamp, Data: map[string]any{"kind": a.Kind}})
	slog.Warn("Migration alert", "kind", a.Kind, "value", a.Value, "threshold", a.Threshold)
	return a
}

// appendEvent keeps every phase marker and trims the oldest alerts first.
// appendEvent keeps at most maxEvents events, evicting the oldest alert
// first and the oldest event of any kind when no alert is left.
func (m *Monitor) appendEvent(e Event) {
	m.events = append(m.events, e)
	if len(m.events) <= maxEvents {
		return
	}
	for i, old := range m.events {
		if old.Kind == EventAlert {
			m.events = append(m.events[:i], m.events[i+1:]...)
			return
		}
	}
	m.events = m.events[len(m.events)-maxEvents:]
}

func (m *Monitor) statusLocked(now time.Time) RealtimeStatus {
	s := RealtimeStatus{
		Running:    m.running,
		Phase:      m.phase,
		Processed:  m.processed,
		Total:      m.total,
		Throughput: m.current,
		Errors:     m.errors,
		Warnings:   m.warnings,
		LastError:  m.lastError,
		UpdatedAt:  m.updatedAt,
	}
	if m.total > 0 {
		s.Progress = float64(m.processed) / float64(m.total) * 100
		if s.Progress > 100 {
			s.Progress = 100
		}
	}
	end := now
	if !m.running && !m.endTime.IsZero() {
		end = m.endTime
	}
	if avg := m.averageLocked(end); avg > 0 && m.total > m.processed {
		s.ETA = time.Duration(float64(m.total-m.processed) / avg * float64(time.Second))
	}
	return s
}

func (m *Monitor) endLocked() time.Time {
	if !m.endTime.IsZero() {
		return m.endTime
	}
	if m.startTime.IsZero() {
		return m.startTime
	}
	return m.clock.Now()
}

func (m *Monitor) averageLocked(end time.Time) float64 {
	secs := end.Sub(m.startTime).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(m.processed) / secs
}

func (m *Monitor) errorRateLocked() float64 {
	return float64(m.errors) / float64(max(m.processed, 1))
}

func (m *Monitor) publish(topic string, payload any) {
	if m.bus != nil {
		m.bus.Publish(topic, payload)
	}
}
