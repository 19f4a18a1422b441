package mode

import (
	"context"

	"github.com/vietddude/migrator/internal/core/clock"
	"github.com/vietddude/migrator/internal/core/domain"
)

// RunFunc is the migration entry point a strategy forwards to.
type RunFunc func(ctx context.Context, opts domain.MigrationOptions) ([]domain.MigrationResult, error)

// ConfirmFunc asks a human to approve a hybrid-mode run.
type ConfirmFunc func(ctx context.Context, ectx domain.ExecutionContext) (bool, error)

// Strategy decides whether a run may start and shapes the options it runs with.
type Strategy interface {
	Mode() domain.Mode
	CanExecute(ctx context.Context, ectx domain.ExecutionContext, cfg domain.ModeConfiguration) (bool, error)
	Execute(ctx context.Context, run RunFunc, opts domain.MigrationOptions, ectx domain.ExecutionContext) ([]domain.MigrationResult, error)
}

// AutoStrategy runs when a condition check fires, without user interaction.
type AutoStrategy struct{}

func (AutoStrategy) Mode() domain.Mode { return domain.ModeAuto }

func (AutoStrategy) CanExecute(_ context.Context, ectx domain.ExecutionContext, _ domain.ModeConfiguration) (bool, error) {
	return ectx.TriggeredBy == domain.TriggerCondition, nil
}

func (AutoStrategy) Execute(ctx context.Context, run RunFunc, opts domain.MigrationOptions, _ domain.ExecutionContext) ([]domain.MigrationResult, error) {
	opts.Mode = domain.ModeAuto
	opts.Silent = true
	return run(ctx, opts)
}

// ManualStrategy runs only on explicit user request and forces execution.
type ManualStrategy struct{}

func (ManualStrategy) Mode() domain.Mode { return domain.ModeManual }

func (ManualStrategy) CanExecute(_ context.Context, ectx domain.ExecutionContext, _ domain.ModeConfiguration) (bool, error) {
	return ectx.TriggeredBy == domain.TriggerUser, nil
}

func (ManualStrategy) Execute(ctx context.Context, run RunFunc, opts domain.MigrationOptions, _ domain.ExecutionContext) ([]domain.MigrationResult, error) {
	opts.Mode = domain.ModeManual
	opts.Force = true
	return run(ctx, opts)
}

// HybridStrategy runs on a condition check once the confirmation callback approves.
// Without a callback it always refuses. A context already carrying
// UserConfirmed skips the callback, and a configuration with
// RequireConfirmation off runs on the condition alone.
type HybridStrategy struct {
	Confirm ConfirmFunc
}

func (s *HybridStrategy) Mode() domain.Mode { return domain.ModeHybrid }

func (s *HybridStrategy) CanExecute(ctx context.Context, ectx domain.ExecutionContext, cfg domain.ModeConfiguration) (bool, error) {
	switch {
	case ectx.TriggeredBy != domain.TriggerCondition:
		return false, nil
	case !cfg.RequireConfirmation, ectx.UserConfirmed:
		return true, nil
	case s.Confirm == nil:
		return false, nil
	}
	return s.Confirm(ctx, ectx)
}

func (s *HybridStrategy) Execute(ctx context.Context, run RunFunc, opts domain.MigrationOptions, _ domain.ExecutionContext) ([]domain.MigrationResult, error) {
	opts.Mode = domain.ModeHybrid
	return run(ctx, opts)
}

// ScheduledStrategy runs on the schedule tick whose minute matches ScheduleTime (HH:MM).
type ScheduledStrategy struct {
	Clock clock.Clock
}

func (s *ScheduledStrategy) Mode() domain.Mode { return domain.ModeScheduled }

func (s *ScheduledStrategy) CanExecute(_ context.Context, ectx domain.ExecutionContext, cfg domain.ModeConfiguration) (bool, error) {
	if ectx.TriggeredBy != domain.TriggerSchedule || cfg.ScheduleTime == "" {
		return false, nil
	}
	return s.Clock.Now().Format("15:04") == cfg.ScheduleTime, nil
}

func (s *ScheduledStrategy) Execute(ctx context.Context, run RunFunc, opts domain.MigrationOptions, _ domain.ExecutionContext) ([]domain.MigrationResult, error) {
	opts.Mode = domain.ModeScheduled
	opts.Silent = true
	return run(ctx, opts)
}

// SilentStrategy always runs and strips every callback from the options.
type SilentStrategy struct{}

func (SilentStrategy) Mode() domain.Mode { return domain.ModeSilent }

func (SilentStrategy) CanExecute(context.Context, domain.ExecutionContext, domain.ModeConfiguration) (bool, error) {
	return true, nil
}

func (SilentStrategy) Execute(ctx context.Context, run RunFunc, opts domain.MigrationOptions, _ domain.ExecutionContext) ([]domain.MigrationResult, error) {
	opts = opts.WithoutCallbacks()
	opts.Mode = domain.ModeSilent
	opts.Silent = true
	return run(ctx, opts)
}
