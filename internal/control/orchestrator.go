package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/migrator/internal/core/clock"
	"github.com/vietddude/migrator/internal/core/config"
	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/core/worker"
	"github.com/vietddude/migrator/internal/health"
	"github.com/vietddude/migrator/internal/infra/bus"
	"github.com/vietddude/migrator/internal/infra/storage"
	"github.com/vietddude/migrator/internal/migration"
	"github.com/vietddude/migrator/internal/mode"
	"github.com/vietddude/migrator/internal/monitor"
	"github.com/vietddude/migrator/internal/recovery"
	"github.com/vietddude/migrator/internal/trigger"
)

// Options override dependencies that are otherwise built from config.
type Options struct {
	Clock   clock.Clock
	Store   storage.KeyValueStore    // mode state
	Records storage.RecordRepository // records to migrate
	Confirm mode.ConfirmFunc         // hybrid mode confirmation
}

// Orchestrator builds every component and manages their lifecycle.
type Orchestrator struct {
	cfg   *config.AppConfig
	clock clock.Clock

	Bus        *bus.Bus
	Recovery   *recovery.Handler
	Modes      *mode.Manager
	Monitor    *monitor.Monitor
	Migrator   *migration.Manager
	Dispatcher *trigger.Dispatcher

	condition    *worker.ConditionChecker
	schedule     *worker.ScheduleTicker
	healthServer *health.Server
	records      *Records
	closers      []func() error
}

// New wires the orchestrator from cfg.
func New(ctx context.Context, cfg *config.AppConfig, opts Options) (*Orchestrator, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	o := &Orchestrator{cfg: cfg, clock: clk}
	checks := make(map[string]health.Check)

	// 1. Storage
	kvStore := opts.Store
	if kvStore == nil {
		kv, err := OpenKeyValue(cfg.Store)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, kv.Close)
		if kv.Health != nil {
			checks["store"] = kv.Health
		}
		kvStore = kv
	}

	repo := opts.Records
	if repo == nil {
		records, err := OpenRecords(ctx, cfg.Database)
		if err != nil {
			o.Close()
			return nil, err
		}
		o.records = records
		if records.DB != nil {
			o.closers = append(o.closers, records.DB.Close)
			checks["database"] = records.DB.Health
		}
		repo = records
	}

	// 2. Core components
	o.Bus = bus.New()

	o.Recovery = recovery.NewHandler(recovery.Config{
		Breaker: recovery.BreakerConfig{
			FailureThreshold: cfg.Recovery.FailureThreshold,
			OpenTimeout:      cfg.Recovery.OpenTimeout,
		},
		Backoff: recovery.ExponentialBackoff{
			InitialDelay: cfg.Recovery.BaseBackoff,
			MaxDelay:     cfg.Recovery.MaxBackoff,
		},
		DefaultMaxRetries: cfg.Recovery.DefaultMaxRetries,
		HistoryLimit:      cfg.Recovery.HistoryLimit,
		HistoryTrim:       cfg.Recovery.HistoryTrim,
		MaxSnapshots:      cfg.Recovery.MaxSnapshots,
	}, nil, clk)

	o.Monitor = monitor.New(monitor.Config{
		Interval:            cfg.Monitor.Interval,
		ErrorRateThreshold:  cfg.Monitor.ErrorRateThreshold,
		MemoryThreshold:     cfg.Monitor.MemoryThreshold,
		BottleneckThreshold: cfg.Monitor.BottleneckThreshold,
		MaxSnapshots:        cfg.Monitor.MaxSnapshots,
	}, o.Bus, clk, nil)
	o.Recovery.SetObserver(o.Monitor)

	modes, err := mode.NewManager(ctx, kvStore, clk, cfg.Migration.InitialMode)
	if err != nil {
		o.Close()
		return nil, fmt.Errorf("failed to init mode manager: %w", err)
	}
	if opts.Confirm != nil {
		modes.SetConfirmFunc(opts.Confirm)
	}
	o.Modes = modes

	o.Migrator = migration.NewManager(
		migration.Config{BatchSize: cfg.Migration.BatchSize},
		repo,
		o.Recovery,
		o.Monitor,
		clk,
	)

	o.Dispatcher = trigger.NewDispatcher(trigger.Config{
		Listeners: cfg.ApplyListeners(trigger.DefaultListeners()),
	}, o.Bus, o.Modes, o.Migrator, clk)

	// 3. Background workers
	o.condition = worker.NewConditionChecker(cfg.Worker.ConditionInterval, o.Modes, o.Migrator, clk)
	o.schedule = worker.NewScheduleTicker(cfg.Worker.ScheduleInterval, o.Modes, o.Migrator, clk)

	// 4. Health server
	o.healthServer = health.NewServer(health.Components{
		Recovery: o.Recovery,
		Modes:    o.Modes,
		Events:   o.Dispatcher,
		Monitor:  o.Monitor,
		Checks:   checks,
	}, cfg.Server.Port)

	return o, nil
}

// Run starts the event dispatcher, the workers and the health server, and
// blocks until ctx is done or a component fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Dispatcher.StartListening(ctx); err != nil {
		return fmt.Errorf("failed to start event dispatcher: %w", err)
	}
	defer o.Dispatcher.StopListening()

	if o.records != nil && o.records.DB != nil {
		o.records.DB.StartMetricsCollector(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Health server listening", "port", o.cfg.Server.Port)
		if err := o.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return o.healthServer.Stop(context.Background())
	})
	g.Go(func() error {
		o.condition.Start(ctx)
		return nil
	})
	g.Go(func() error {
		o.schedule.Start(ctx)
		return nil
	})

	slog.Info("Migrator running", "mode", o.Modes.CurrentMode())
	return g.Wait()
}

// Migrate runs a user-triggered migration through the current mode.
func (o *Orchestrator) Migrate(ctx context.Context, force bool) ([]domain.MigrationResult, error) {
	ectx := domain.ExecutionContext{
		Mode:          o.Modes.CurrentMode(),
		TriggeredBy:   domain.TriggerUser,
		Timestamp:     o.clock.Now(),
		UserConfirmed: true,
	}
	opts := domain.MigrationOptions{
		Mode:     ectx.Mode,
		Force:    force,
		Metadata: map[string]any{"trigger": string(domain.TriggerUser)},
	}
	return o.Modes.Execute(ctx, o.Migrator.Migrate, opts, ectx)
}

// MigrateOverride runs a one-shot migration through the manual strategy
// regardless of the current mode.
func (o *Orchestrator) MigrateOverride(ctx context.Context, force bool) ([]domain.MigrationResult, error) {
	current := o.Modes.CurrentMode()
	slog.Warn("Bypassing the current mode for a manual run", "mode", current)
	ectx := domain.ExecutionContext{
		Mode:          domain.ModeManual,
		TriggeredBy:   domain.TriggerUser,
		Timestamp:     o.clock.Now(),
		UserConfirmed: true,
	}
	opts := domain.MigrationOptions{
		Mode:     domain.ModeManual,
		Force:    force,
		Metadata: map[string]any{"trigger": string(domain.TriggerUser), "override": string(current)},
	}
	return mode.ManualStrategy{}.Execute(ctx, o.Migrator.Migrate, opts, ectx)
}

// Close releases the recovery timers and the stores.
func (o *Orchestrator) Close() error {
	if o.Recovery != nil {
		o.Recovery.Close()
	}
	if o.Monitor != nil && o.Monitor.IsRunning() {
		o.Monitor.Stop()
	}

	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		if err := o.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	o.closers = nil
	return errors.Join(errs...)
}
