package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/migrator/internal/core/clock"
	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/mode"
)

// Gate decides and runs migrations. *mode.Manager implements it.
type Gate interface {
	CurrentMode() domain.Mode
	CanExecute(ctx context.Context, ectx domain.ExecutionContext) (bool, error)
	Run(ctx context.Context, run mode.RunFunc, opts domain.MigrationOptions, ectx domain.ExecutionContext) ([]domain.MigrationResult, error)
}

// trigger asks the gate and runs the migration when permitted.
func trigger(ctx context.Context, gate Gate, migrator domain.Migrator, ectx domain.ExecutionContext) {
	ok, err := gate.CanExecute(ctx, ectx)
	if err != nil {
		slog.Error("Execution check failed", "triggered_by", ectx.TriggeredBy, "error", err)
		return
	}
	if !ok {
		slog.Debug("Execution not permitted", "mode", ectx.Mode, "triggered_by", ectx.TriggeredBy)
		return
	}

	opts := domain.MigrationOptions{
		Mode:     ectx.Mode,
		Metadata: map[string]any{"trigger": string(ectx.TriggeredBy)},
	}
	results, err := gate.Run(ctx, migrator.Migrate, opts, ectx)
	if err != nil {
		slog.Error("Migration failed", "triggered_by", ectx.TriggeredBy, "error", err)
		return
	}
	slog.Info("Migration completed",
		"triggered_by", ectx.TriggeredBy,
		"migrated", domain.TotalMigrated(results),
	)
}

// ConditionChecker periodically checks for pending work and requests a
// condition-triggered run when there is some.
type ConditionChecker struct {
	interval time.Duration
	gate     Gate
	migrator domain.Migrator
	clock    clock.Clock
}

// NewConditionChecker creates a condition checker.
func NewConditionChecker(interval time.Duration, gate Gate, migrator domain.Migrator, clk clock.Clock) *ConditionChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	return &ConditionChecker{interval: interval, gate: gate, migrator: migrator, clock: clk}
}

// Start runs the check loop until ctx is done.
func (c *ConditionChecker) Start(ctx context.Context) {
	slog.Info("Condition checker started", "interval", c.interval)

	// Initial check
	c.check(ctx)

	for {
		if err := c.clock.Sleep(ctx, c.interval); err != nil {
			return
		}
		c.check(ctx)
	}
}

func (c *ConditionChecker) check(ctx context.Context) {
	pending, err := c.migrator.ShouldMigrate(ctx)
	if err != nil {
		slog.Error("Failed to check pending migrations", "error", err)
		return
	}
	if !pending {
		return
	}

	trigger(ctx, c.gate, c.migrator, domain.ExecutionContext{
		Mode:        c.gate.CurrentMode(),
		TriggeredBy: domain.TriggerCondition,
		Conditions:  map[string]any{"pending": true},
		Timestamp:   c.clock.Now(),
	})
}

// ScheduleTicker requests a schedule-triggered run on every tick. Ticks are
// aligned to interval boundaries, the start of each minute by default.
type ScheduleTicker struct {
	interval time.Duration
	gate     Gate
	migrator domain.Migrator
	clock    clock.Clock
}

// NewScheduleTicker creates a schedule ticker.
func NewScheduleTicker(interval time.Duration, gate Gate, migrator domain.Migrator, clk clock.Clock) *ScheduleTicker {
	if interval <= 0 {
		interval = time.Minute
	}
	if clk == nil {
		clk = clock.New()
	}
	return &ScheduleTicker{interval: interval, gate: gate, migrator: migrator, clock: clk}
}

// Start runs the tick loop until ctx is done. The wait is recomputed after
// every tick so a slow run does not shift later ticks off the boundary.
func (s *ScheduleTicker) Start(ctx context.Context) {
	slog.Info("Schedule ticker started", "interval", s.interval, "first_tick_in", s.untilNext())
	for {
		if err := s.clock.Sleep(ctx, s.untilNext()); err != nil {
			return
		}
		s.tick(ctx)
	}
}

// untilNext returns the time left to the next interval boundary.
func (s *ScheduleTicker) untilNext() time.Duration {
	now := s.clock.Now()
	return now.Truncate(s.interval).Add(s.interval).Sub(now)
}

func (s *ScheduleTicker) tick(ctx context.Context) {
	// Skip the migrator query outside the scheduled mode.
	if s.gate.CurrentMode() != domain.ModeScheduled {
		return
	}
	trigger(ctx, s.gate, s.migrator, domain.ExecutionContext{
		Mode:        domain.ModeScheduled,
		TriggeredBy: domain.TriggerSchedule,
		Timestamp:   s.clock.Now(),
	})
}
