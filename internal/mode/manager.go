package mode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/vietddude/migrator/internal/core/clock"
	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/infra/storage"
	"github.com/vietddude/migrator/internal/metrics"
)

// Keys under which the configuration is persisted.
const (
	ConfigurationsKey = "migration_mode_configurations"
	CurrentModeKey    = "migration_current_mode"
)

var (
	ErrUnknownMode  = errors.New("unknown migration mode")
	ErrModeDisabled = errors.New("migration mode is disabled")
	ErrNotPermitted = errors.New("execution not permitted in current mode")
)

// DefaultConfigurations returns the built-in configuration of every mode.
func DefaultConfigurations() map[domain.Mode]domain.ModeConfiguration {
	return map[domain.Mode]domain.ModeConfiguration{
		domain.ModeAuto: {
			Enabled:       true,
			AutoRetry:     true,
			MaxRetries:    3,
			RetryDelay:    5 * time.Second,
			NotifyOnError: true,
		},
		domain.ModeManual: {
			Enabled:           true,
			MaxRetries:        1,
			ShowNotifications: true,
			NotifyOnComplete:  true,
			NotifyOnError:     true,
		},
		domain.ModeHybrid: {
			Enabled:             true,
			AutoRetry:           true,
			MaxRetries:          2,
			RetryDelay:          3 * time.Second,
			RequireConfirmation: true,
			ShowNotifications:   true,
			NotifyOnComplete:    true,
			NotifyOnError:       true,
		},
		domain.ModeScheduled: {
			Enabled:          true,
			AutoRetry:        true,
			MaxRetries:       3,
			RetryDelay:       time.Minute,
			NotifyOnComplete: true,
			NotifyOnError:    true,
			ScheduleTime:     "02:00",
		},
		domain.ModeSilent: {
			Enabled:    true,
			AutoRetry:  true,
			MaxRetries: 5,
			RetryDelay: 10 * time.Second,
		},
	}
}

// Manager holds the strategy registry and the single current mode.
// Configuration changes are written through to the key-value store.
type Manager struct {
	mu         sync.RWMutex
	store      storage.KeyValueStore
	clock      clock.Clock
	strategies map[domain.Mode]Strategy
	configs    map[domain.Mode]domain.ModeConfiguration
	current    domain.Mode
	notifier   Notifier
}

// NewManager creates a manager and loads any persisted configuration.
// initial is used when no current mode has been persisted yet.
func NewManager(ctx context.Context, store storage.KeyValueStore, clk clock.Clock, initial domain.Mode) (*Manager, error) {
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{
		store:      store,
		clock:      clk,
		strategies: make(map[domain.Mode]Strategy),
		configs:    DefaultConfigurations(),
		current:    domain.ModeAuto,
		notifier:   LogNotifier{},
	}
	for _, s := range []Strategy{
		AutoStrategy{},
		ManualStrategy{},
		&HybridStrategy{},
		&ScheduledStrategy{Clock: clk},
		SilentStrategy{},
	} {
		m.strategies[s.Mode()] = s
	}
	if _, ok := m.strategies[initial]; ok {
		m.current = initial
	}

	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	raw, found, err := m.store.Get(ctx, ConfigurationsKey)
	if err != nil {
		return fmt.Errorf("failed to load mode configurations: %w", err)
	}
	if found {
		var stored map[domain.Mode]domain.ModeConfiguration
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			slog.Warn("Ignoring unreadable mode configurations", "error", err)
		} else {
			for mode, cfg := range stored {
				if _, ok := m.strategies[mode]; ok {
					m.configs[mode] = cfg
				}
			}
		}
	}

	cur, found, err := m.store.Get(ctx, CurrentModeKey)
	if err != nil {
		return fmt.Errorf("failed to load current mode: %w", err)
	}
	if found {
		if _, ok := m.strategies[domain.Mode(cur)]; ok {
			m.current = domain.Mode(cur)
		} else {
			slog.Warn("Ignoring unknown persisted mode", "mode", cur)
		}
	}

	slog.Debug("Mode configuration loaded", "mode", m.current)
	return nil
}

// persist writes configs and current to the store. Callers hold the lock and
// commit the new state to the manager only when persist succeeds.
func (m *Manager) persist(ctx context.Context, configs map[domain.Mode]domain.ModeConfiguration, current domain.Mode) error {
	if m.store == nil {
		return nil
	}
	data, err := json.Marshal(configs)
	if err != nil {
		return fmt.Errorf("failed to encode mode configurations: %w", err)
	}
	if err := m.store.Set(ctx, ConfigurationsKey, string(data)); err != nil {
		return fmt.Errorf("failed to save mode configurations: %w", err)
	}
	if err := m.store.Set(ctx, CurrentModeKey, string(current)); err != nil {
		return fmt.Errorf("failed to save current mode: %w", err)
	}
	return nil
}

// Register adds or replaces the strategy for its mode. A mode without a
// configuration gets an enabled zero configuration.
func (m *Manager) Register(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[s.Mode()] = s
	if _, ok := m.configs[s.Mode()]; !ok {
		m.configs[s.Mode()] = domain.ModeConfiguration{Enabled: true}
	}
}

// SetConfirmFunc installs the confirmation callback used by the hybrid mode.
func (m *Manager) SetConfirmFunc(fn ConfirmFunc) {
	m.Register(&HybridStrategy{Confirm: fn})
}

// SetNotifier replaces the notifier used for start/complete/error notices.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// Modes returns the registered modes, sorted.
func (m *Manager) Modes() []domain.Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	modes := make([]domain.Mode, 0, len(m.strategies))
	for mode := range m.strategies {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

// CurrentMode returns the active mode.
func (m *Manager) CurrentMode() domain.Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SetMode switches the active mode. Disabled modes are refused.
func (m *Manager) SetMode(ctx context.Context, mode domain.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.strategies[mode]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	if !m.configs[mode].Enabled {
		return fmt.Errorf("%w: %s", ErrModeDisabled, mode)
	}

	if err := m.persist(ctx, m.configs, mode); err != nil {
		return err
	}
	prev := m.current
	m.current = mode
	slog.Info("Migration mode changed", "from", prev, "to", mode)
	return nil
}

// GetConfiguration returns the configuration of mode, or of the current mode when empty.
func (m *Manager) GetConfiguration(mode domain.Mode) (domain.ModeConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mode == "" {
		mode = m.current
	}
	cfg, ok := m.configs[mode]
	if !ok {
		return domain.ModeConfiguration{}, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	return cfg, nil
}

// Configurations returns a copy of every mode configuration.
func (m *Manager) Configurations() map[domain.Mode]domain.ModeConfiguration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.Mode]domain.ModeConfiguration, len(m.configs))
	for mode, cfg := range m.configs {
		out[mode] = cfg
	}
	return out
}

// UpdateConfiguration applies a partial update to mode and persists it.
func (m *Manager) UpdateConfiguration(ctx context.Context, mode domain.Mode, patch domain.ModeConfigurationPatch) error {
	if patch.ScheduleTime != nil && *patch.ScheduleTime != "" {
		if _, err := time.Parse("15:04", *patch.ScheduleTime); err != nil {
			return fmt.Errorf("invalid schedule time %q: %w", *patch.ScheduleTime, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[mode]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	next := make(map[domain.Mode]domain.ModeConfiguration, len(m.configs))
	for k, v := range m.configs {
		next[k] = v
	}
	next[mode] = patch.Apply(cfg)
	if err := m.persist(ctx, next, m.current); err != nil {
		return err
	}
	m.configs = next
	return nil
}

// Reset restores the default configurations and the auto mode.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	configs := DefaultConfigurations()
	for mode := range m.strategies {
		if _, ok := configs[mode]; !ok {
			configs[mode] = domain.ModeConfiguration{Enabled: true}
		}
	}
	if err := m.persist(ctx, configs, domain.ModeAuto); err != nil {
		return err
	}
	m.configs = configs
	m.current = domain.ModeAuto
	return nil
}

// CanExecute reports whether the current mode permits a run in ectx.
func (m *Manager) CanExecute(ctx context.Context, ectx domain.ExecutionContext) (bool, error) {
	m.mu.RLock()
	mode := m.current
	strategy := m.strategies[mode]
	cfg := m.configs[mode]
	m.mu.RUnlock()

	allowed := false
	if cfg.Enabled && strategy != nil {
		var err error
		allowed, err = strategy.CanExecute(ctx, ectx, cfg)
		if err != nil {
			return false, fmt.Errorf("mode %s: %w", mode, err)
		}
	}

	metrics.ModeExecutionsTotal.WithLabelValues(string(mode), string(ectx.TriggeredBy), strconv.FormatBool(allowed)).Inc()
	slog.Debug("Execution check", "mode", mode, "triggered_by", ectx.TriggeredBy, "allowed", allowed)
	return allowed, nil
}

// Execute runs the migration through the current strategy when permitted,
// retrying per the mode's autoRetry settings.
func (m *Manager) Execute(
	ctx context.Context,
	run RunFunc,
	opts domain.MigrationOptions,
	ectx domain.ExecutionContext,
) ([]domain.MigrationResult, error) {
	ok, err := m.CanExecute(ctx, ectx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotPermitted
	}
	return m.Run(ctx, run, opts, ectx)
}

// Run executes through the current strategy without gating. Callers must
// have checked CanExecute for ectx.
func (m *Manager) Run(
	ctx context.Context,
	run RunFunc,
	opts domain.MigrationOptions,
	ectx domain.ExecutionContext,
) ([]domain.MigrationResult, error) {
	m.mu.RLock()
	mode := m.current
	strategy := m.strategies[mode]
	cfg := m.configs[mode]
	notifier := m.notifier
	m.mu.RUnlock()

	if mode == domain.ModeSilent {
		notifier = nil
	}
	notify := func(n Notification) {
		if notifier != nil {
			n.Mode = mode
			notifier.Notify(ctx, n)
		}
	}

	attempts := 1
	if cfg.AutoRetry && cfg.MaxRetries > 0 {
		attempts += cfg.MaxRetries
	}

	if cfg.ShowNotifications {
		notify(Notification{Kind: NotificationStarted, Message: "Migration started"})
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		results, err := strategy.Execute(ctx, run, opts, ectx)
		if err == nil {
			if cfg.NotifyOnComplete {
				notify(Notification{
					Kind:    NotificationCompleted,
					Message: fmt.Sprintf("Migrated %d records", domain.TotalMigrated(results)),
					Results: results,
				})
			}
			return results, nil
		}

		lastErr = err
		if attempt == attempts {
			break
		}
		slog.Warn("Migration attempt failed, retrying",
			"mode", mode,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", cfg.RetryDelay,
			"error", err,
		)
		if err := m.clock.Sleep(ctx, cfg.RetryDelay); err != nil {
			lastErr = err
			break
		}
	}

	if cfg.NotifyOnError {
		notify(Notification{Kind: NotificationFailed, Message: "Migration failed", Err: lastErr})
	}
	return nil, lastErr
}
