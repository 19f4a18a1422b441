package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/migrator/internal/core/clock/clocktest"
	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/mode"
)

type mockGate struct {
	mu      sync.Mutex
	mode    domain.Mode
	allow   bool
	checks  []domain.ExecutionContext
	runs    chan domain.ExecutionContext
	checked chan struct{}
}

func newMockGate(m domain.Mode, allow bool) *mockGate {
	return &mockGate{
		mode:    m,
		allow:   allow,
		runs:    make(chan domain.ExecutionContext, 10),
		checked: make(chan struct{}, 10),
	}
}

func (g *mockGate) CurrentMode() domain.Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

func (g *mockGate) CanExecute(_ context.Context, ectx domain.ExecutionContext) (bool, error) {
	g.mu.Lock()
	g.checks = append(g.checks, ectx)
	allow := g.allow
	g.mu.Unlock()
	g.checked <- struct{}{}
	return allow, nil
}

func (g *mockGate) Run(
	ctx context.Context,
	run mode.RunFunc,
	opts domain.MigrationOptions,
	ectx domain.ExecutionContext,
) ([]domain.MigrationResult, error) {
	results, err := run(ctx, opts)
	g.runs <- ectx
	return results, err
}

type mockMigrator struct {
	mu      sync.Mutex
	pending bool
	err     error
	calls   int
	asked   chan struct{}

	// When set, Migrate signals entered and waits for release.
	entered chan struct{}
	release chan struct{}
}

func newMockMigrator(pending bool) *mockMigrator {
	return &mockMigrator{pending: pending, asked: make(chan struct{}, 10)}
}

func (m *mockMigrator) Migrate(context.Context, domain.MigrationOptions) ([]domain.MigrationResult, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
		<-m.release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return []domain.MigrationResult{{Unit: "user", Migrated: 3}}, nil
}

func (m *mockMigrator) ShouldMigrate(context.Context) (bool, error) {
	m.mu.Lock()
	pending, err := m.pending, m.err
	m.mu.Unlock()
	m.asked <- struct{}{}
	return pending, err
}

func (m *mockMigrator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for worker")
		var zero T
		return zero
	}
}

var epoch = time.Date(2026, 2, 10, 8, 59, 30, 0, time.UTC)

func TestConditionChecker(t *testing.T) {
	clk := clocktest.NewFake(epoch)
	gate := newMockGate(domain.ModeAuto, true)
	migrator := newMockMigrator(true)
	checker := NewConditionChecker(30*time.Second, gate, migrator, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Start(ctx)
		close(done)
	}()

	// Initial check runs immediately.
	ectx := receive(t, gate.runs)
	if ectx.TriggeredBy != domain.TriggerCondition {
		t.Errorf("TriggeredBy = %s, want condition", ectx.TriggeredBy)
	}
	if ectx.Mode != domain.ModeAuto {
		t.Errorf("Mode = %s, want auto", ectx.Mode)
	}
	if !ectx.Timestamp.Equal(epoch) {
		t.Errorf("Timestamp = %v, want %v", ectx.Timestamp, epoch)
	}

	clk.BlockUntil(1)
	clk.Advance(30 * time.Second)
	receive(t, gate.runs)

	cancel()
	receive(t, done)

	if got := migrator.callCount(); got != 2 {
		t.Errorf("Migrate calls = %d, want 2", got)
	}
}

func TestConditionChecker_Gating(t *testing.T) {
	tests := []struct {
		name      string
		pending   bool
		err       error
		allow     bool
		wantCheck bool
	}{
		{"nothing pending", false, nil, true, false},
		{"pending check fails", true, errors.New("db down"), true, false},
		{"mode refuses", true, nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := newMockGate(domain.ModeManual, tt.allow)
			migrator := newMockMigrator(tt.pending)
			migrator.err = tt.err
			checker := NewConditionChecker(time.Second, gate, migrator, clocktest.NewFake(epoch))

			checker.check(context.Background())

			gate.mu.Lock()
			checked := len(gate.checks) > 0
			gate.mu.Unlock()
			if checked != tt.wantCheck {
				t.Errorf("CanExecute called = %v, want %v", checked, tt.wantCheck)
			}
			if migrator.callCount() != 0 {
				t.Errorf("Migrate called %d times, want 0", migrator.callCount())
			}
		})
	}
}

func TestScheduleTicker_AlignsToMinute(t *testing.T) {
	clk := clocktest.NewFake(epoch)
	gate := newMockGate(domain.ModeScheduled, true)
	migrator := newMockMigrator(true)
	ticker := NewScheduleTicker(time.Minute, gate, migrator, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ticker.Start(ctx)
		close(done)
	}()

	clk.BlockUntil(1)
	clk.Advance(30 * time.Second)

	ectx := receive(t, gate.runs)
	want := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	if !ectx.Timestamp.Equal(want) {
		t.Errorf("first tick at %v, want %v", ectx.Timestamp, want)
	}
	if ectx.TriggeredBy != domain.TriggerSchedule || ectx.Mode != domain.ModeScheduled {
		t.Errorf("unexpected context %+v", ectx)
	}

	clk.BlockUntil(1)
	clk.Advance(time.Minute)
	ectx = receive(t, gate.runs)
	if !ectx.Timestamp.Equal(want.Add(time.Minute)) {
		t.Errorf("second tick at %v, want %v", ectx.Timestamp, want.Add(time.Minute))
	}

	cancel()
	receive(t, done)
}

func TestScheduleTicker_IdleOutsideScheduledMode(t *testing.T) {
	gate := newMockGate(domain.ModeAuto, true)
	migrator := newMockMigrator(true)
	ticker := NewScheduleTicker(time.Minute, gate, migrator, clocktest.NewFake(epoch))

	ticker.tick(context.Background())

	gate.mu.Lock()
	defer gate.mu.Unlock()
	if len(gate.checks) != 0 {
		t.Errorf("CanExecute called %d times, want 0", len(gate.checks))
	}
}

func TestScheduleTicker_SlowRunKeepsBoundary(t *testing.T) {
	clk := clocktest.NewFake(epoch)
	gate := newMockGate(domain.ModeScheduled, true)
	migrator := newMockMigrator(true)
	migrator.entered = make(chan struct{}, 1)
	migrator.release = make(chan struct{})
	ticker := NewScheduleTicker(time.Minute, gate, migrator, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ticker.Start(ctx)
		close(done)
	}()

	nine := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	clk.BlockUntil(1)
	clk.Advance(30 * time.Second)
	receive(t, migrator.entered)
	clk.Advance(25 * time.Second) // the run takes 25s
	migrator.release <- struct{}{}
	if ectx := receive(t, gate.runs); !ectx.Timestamp.Equal(nine) {
		t.Errorf("first tick at %v, want %v", ectx.Timestamp, nine)
	}

	// 09:00:25 -> next boundary is 35s away, not a full interval.
	clk.BlockUntil(1)
	clk.Advance(35 * time.Second)
	receive(t, migrator.entered)
	migrator.release <- struct{}{}
	if ectx := receive(t, gate.runs); !ectx.Timestamp.Equal(nine.Add(time.Minute)) {
		t.Errorf("second tick at %v, want %v", ectx.Timestamp, nine.Add(time.Minute))
	}

	cancel()
	receive(t, done)
}
