package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/migrator/internal/core/clock/clocktest"
	"github.com/vietddude/migrator/internal/infra/bus"
)

var epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedMemory(used, total uint64) MemoryReader {
	return func() (uint64, uint64) { return used, total }
}

func newTestMonitor(t *testing.T, b *bus.Bus, mem MemoryReader) (*Monitor, *clocktest.Fake) {
	t.Helper()
	clk := clocktest.NewFake(epoch)
	if mem == nil {
		mem = fixedMemory(100, 1000)
	}
	return New(DefaultConfig(), b, clk, mem), clk
}

func TestMonitor_ProgressAndThroughput(t *testing.T) {
	m, clk := newTestMonitor(t, nil, nil)
	m.Start(1000)

	clk.Advance(2 * time.Second)
	m.UpdateProgress(100, 0)

	st := m.GetStatus()
	assert.True(t, st.Running)
	assert.Equal(t, 1000, st.Total)
	assert.InDelta(t, 10.0, st.Progress, 1e-9)
	assert.InDelta(t, 50.0, st.Throughput, 1e-9)
	// 900 remaining at an average of 50/s.
	assert.Equal(t, 18*time.Second, st.ETA)

	clk.Advance(2 * time.Second)
	m.UpdateProgress(140, 0)

	pm := m.GetMetrics()
	assert.InDelta(t, 20.0, pm.CurrentThroughput, 1e-9)
	assert.InDelta(t, 50.0, pm.PeakThroughput, 1e-9)
	assert.InDelta(t, 35.0, pm.AverageThroughput, 1e-9)
	assert.Equal(t, 4*time.Second, pm.Elapsed)
}

func TestMonitor_ProgressCapsAt100(t *testing.T) {
	m, clk := newTestMonitor(t, nil, nil)
	m.Start(10)
	clk.Advance(time.Second)
	m.UpdateProgress(12, 0)

	st := m.GetStatus()
	assert.Equal(t, 100.0, st.Progress)
	assert.Zero(t, st.ETA)
}

func TestMonitor_UnknownTotal(t *testing.T) {
	m, clk := newTestMonitor(t, nil, nil)
	m.Start(0)
	clk.Advance(time.Second)
	m.UpdateProgress(5, 0)

	st := m.GetStatus()
	assert.Zero(t, st.Progress)
	assert.Zero(t, st.ETA)

	m.UpdateProgress(5, 20)
	assert.Equal(t, 20, m.GetStatus().Total)
}

func TestMonitor_ErrorRateAlert(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)
	m.Start(100)
	m.UpdateProgress(50, 0)

	// 5/50 is exactly the threshold, not above it.
	for i := 0; i < 5; i++ {
		m.RecordError("boom", false)
	}
	assert.Empty(t, m.GetAlerts())

	m.RecordError("boom", false)
	alerts := m.GetAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "error_rate", alerts[0].Kind)
	assert.InDelta(t, 6.0/50.0, alerts[0].Value, 1e-9)
	assert.Equal(t, 0.10, alerts[0].Threshold)

	st := m.GetStatus()
	assert.Equal(t, 6, st.Errors)
	assert.Equal(t, "boom", st.LastError)
}

func TestMonitor_CriticalErrorAlert(t *testing.T) {
	m, _ := newTestMonitor(t, nil, nil)
	m.Start(100)
	m.UpdateProgress(100, 0)

	m.RecordError("heap exhausted", true)

	alerts := m.GetAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "critical_error", alerts[0].Kind)
	assert.Equal(t, "heap exhausted", alerts[0].Message)
}

func TestMonitor_Warnings(t *testing.T) {
	m, clk := newTestMonitor(t, nil, nil)
	m.Start(10)
	m.UpdateProgress(4, 0)
	m.RecordWarning("slow batch")
	m.RecordWarning("slow batch")
	clk.Advance(time.Second)

	s := m.Stop()
	assert.Equal(t, 2, s.WarningCount)
	assert.InDelta(t, 0.5, s.WarningRate, 1e-9)
	assert.Empty(t, m.GetAlerts())
}

func TestMonitor_PeriodicCollection(t *testing.T) {
	m, clk := newTestMonitor(t, nil, fixedMemory(450, 1000))
	m.Start(10)

	clk.Advance(3 * time.Second)

	snaps := m.GetSnapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, epoch.Add(time.Second), snaps[0].Timestamp)
	assert.Equal(t, epoch.Add(3*time.Second), snaps[2].Timestamp)
	assert.InDelta(t, 45.0, snaps[2].MemoryPercent, 1e-9)

	pm := m.GetMetrics()
	assert.Equal(t, uint64(450), pm.MemoryUsed)
	assert.Equal(t, uint64(1000), pm.MemoryTotal)

	m.Stop()
	clk.Advance(5 * time.Second)
	assert.Len(t, m.GetSnapshots(), 3, "collection stops with the run")
	assert.Zero(t, clk.Pending())
}

func TestMonitor_SnapshotCap(t *testing.T) {
	clk := clocktest.NewFake(epoch)
	cfg := DefaultConfig()
	cfg.MaxSnapshots = 5
	m := New(cfg, nil, clk, fixedMemory(1, 10))
	m.Start(0)

	clk.Advance(8 * time.Second)

	snaps := m.GetSnapshots()
	require.Len(t, snaps, 5)
	assert.Equal(t, epoch.Add(4*time.Second), snaps[0].Timestamp)
	m.Stop()
}

func TestMonitor_MemoryAlertOncePerCrossing(t *testing.T) {
	var (
		mu   sync.Mutex
		used uint64 = 950
	)
	mem := func() (uint64, uint64) {
		mu.Lock()
		defer mu.Unlock()
		return used, 1000
	}
	m, clk := newTestMonitor(t, nil, mem)
	m.Start(0)

	clk.Advance(3 * time.Second)
	require.Len(t, m.GetAlerts(), 1)
	assert.Equal(t, "memory", m.GetAlerts()[0].Kind)

	mu.Lock()
	used = 100
	mu.Unlock()
	clk.Advance(time.Second)

	mu.Lock()
	used = 990
	mu.Unlock()
	clk.Advance(time.Second)

	assert.Len(t, m.GetAlerts(), 2)
	assert.InDelta(t, 99.0, m.GetMetrics().PeakMemoryPercent, 1e-9)
	m.Stop()
}

func TestMonitor_AnalyzeBottlenecks(t *testing.T) {
	m, clk := newTestMonitor(t, nil, nil)
	m.Start(100)

	m.UpdatePhase("load")
	clk.Advance(1 * time.Second)
	m.UpdatePhase("transform")
	clk.Advance(6 * time.Second)
	m.UpdatePhase("write")
	clk.Advance(3 * time.Second)

	got := m.AnalyzeBottlenecks()
	require.Len(t, got, 2)
	assert.Equal(t, "transform", got[0].Phase)
	assert.Equal(t, 6*time.Second, got[0].Duration)
	assert.InDelta(t, 0.6, got[0].Share, 1e-9)
	assert.Equal(t, "write", got[1].Phase)
	assert.InDelta(t, 0.3, got[1].Share, 1e-9)
}

func TestMonitor_BottlenecksAggregateRepeatedPhases(t *testing.T) {
	m, clk := newTestMonitor(t, nil, nil)
	m.Start(0)

	for i := 0; i < 3; i++ {
		m.UpdatePhase("fetch")
		clk.Advance(time.Second)
		m.UpdatePhase("save")
		clk.Advance(3 * time.Second)
	}
	s := m.Stop()

	require.Len(t, s.Phases, 2)
	assert.Equal(t, "fetch", s.Phases[0].Phase)
	assert.Equal(t, 3*time.Second, s.Phases[0].Duration)
	assert.Equal(t, 9*time.Second, s.Phases[1].Duration)

	require.Len(t, s.Bottlenecks, 2)
	assert.Equal(t, "save", s.Bottlenecks[0].Phase)
	assert.InDelta(t, 0.75, s.Bottlenecks[0].Share, 1e-9)
	assert.InDelta(t, 0.25, s.Bottlenecks[1].Share, 1e-9)
}

func TestMonitor_NoPhasesNoBottlenecks(t *testing.T) {
	m, clk := newTestMonitor(t, nil, nil)
	assert.Empty(t, m.AnalyzeBottlenecks(), "not started")

	m.Start(0)
	clk.Advance(time.Second)
	assert.Empty(t, m.AnalyzeBottlenecks())
	m.Stop()
}

func TestMonitor_StopSummary(t *testing.T) {
	m, clk := newTestMonitor(t, nil, nil)
	m.Start(200)
	clk.Advance(4 * time.Second)
	m.UpdateProgress(200, 0)
	m.RecordError("x", false)

	s := m.Stop()
	assert.False(t, m.IsRunning())
	assert.Equal(t, 4*time.Second, s.Duration)
	assert.Equal(t, 200, s.ItemsProcessed)
	assert.InDelta(t, 50.0, s.AverageThroughput, 1e-9)
	assert.InDelta(t, 0.005, s.ErrorRate, 1e-9)

	// Duration is frozen once stopped.
	clk.Advance(time.Minute)
	assert.Equal(t, 4*time.Second, m.GetSummary().Duration)

	events := m.GetEvents()
	require.NotEmpty(t, events)
	assert.Equal(t, EventStart, events[0].Kind)
	assert.Equal(t, EventComplete, events[len(events)-1].Kind)
}

func TestMonitor_RestartResets(t *testing.T) {
	m, clk := newTestMonitor(t, nil, nil)
	m.Start(10)
	m.UpdateProgress(5, 0)
	m.RecordError("x", true)
	clk.Advance(2 * time.Second)
	m.Stop()

	m.Start(20)
	st := m.GetStatus()
	assert.Zero(t, st.Processed)
	assert.Zero(t, st.Errors)
	assert.Equal(t, 20, st.Total)
	assert.Empty(t, m.GetAlerts())
	assert.Empty(t, m.GetSnapshots())
	assert.Len(t, m.GetEvents(), 1)
	m.Stop()
}

func TestMonitor_PublishesOnBus(t *testing.T) {
	b := bus.New()
	var (
		mu     sync.Mutex
		topics []string
	)
	record := func(topic string) bus.Handler {
		return func(any) {
			mu.Lock()
			defer mu.Unlock()
			topics = append(topics, topic)
		}
	}
	for _, topic := range []string{TopicStart, TopicProgress, TopicPhase, TopicAlert, TopicComplete} {
		_, err := b.Subscribe(topic, record(topic))
		require.NoError(t, err)
	}

	var summary Summary
	_, err := b.Subscribe(TopicComplete, func(payload any) {
		mu.Lock()
		defer mu.Unlock()
		summary = payload.(Summary)
	})
	require.NoError(t, err)

	m, clk := newTestMonitor(t, b, nil)
	m.Start(10)
	m.UpdatePhase("copy")
	clk.Advance(time.Second)
	m.UpdateProgress(10, 0)
	m.RecordError("fatal", true)
	m.Stop()
	b.WaitAsync()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{TopicStart, TopicPhase, TopicProgress, TopicAlert, TopicComplete}, topics)
	assert.Equal(t, 10, summary.ItemsProcessed)
}

func TestMonitor_EventHistoryBounded(t *testing.T) {
	m, clk := newTestMonitor(t, nil, nil)
	m.Start(0)
	for i := 0; i < maxEvents+20; i++ {
		clk.Advance(time.Millisecond)
		m.UpdatePhase("batch")
	}

	events := m.GetEvents()
	require.Len(t, events, maxEvents)
	assert.Equal(t, EventPhase, events[0].Kind, "oldest events are evicted")
	assert.Equal(t, epoch.Add(time.Duration(maxEvents+20)*time.Millisecond), events[len(events)-1].Timestamp)
}
