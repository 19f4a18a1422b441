// Package migration copies legacy records to the current schema, unit by unit.
package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/migrator/internal/core/clock"
	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/infra/storage"
	"github.com/vietddude/migrator/internal/metrics"
	"github.com/vietddude/migrator/internal/monitor"
	"github.com/vietddude/migrator/internal/recovery"
)

// CurrentSchemaVersion is the version records are upgraded to.
const CurrentSchemaVersion = 2

var ErrAlreadyRunning = errors.New("migration already running")

// Tracker receives progress of a run. *monitor.Monitor implements it.
type Tracker interface {
	Start(totalItems int)
	UpdateProgress(processed, total int)
	UpdatePhase(name string)
	RecordWarning(message string)
	Stop() monitor.Summary
}

// Transformer upgrades one legacy record.
type Transformer func(rec domain.Record) (domain.Record, error)

// Config holds migration settings.
type Config struct {
	BatchSize     int
	TargetVersion int
}

// Manager runs record migrations. It implements domain.Migrator and
// recovery.Restorer.
type Manager struct {
	cfg       Config
	repo      storage.RecordRepository
	recovery  *recovery.Handler
	tracker   Tracker
	clock     clock.Clock
	transform Transformer

	mu      sync.Mutex
	running bool
	active  *run
}

// NewManager creates a migration manager and registers it as the restorer
// of the handler's snapshots. tracker may be nil.
func NewManager(
	cfg Config,
	repo storage.RecordRepository,
	handler *recovery.Handler,
	tracker Tracker,
	clk clock.Clock,
) *Manager {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.TargetVersion <= 0 {
		cfg.TargetVersion = CurrentSchemaVersion
	}
	if clk == nil {
		clk = clock.New()
	}
	m := &Manager{
		cfg:      cfg,
		repo:     repo,
		recovery: handler,
		tracker:  tracker,
		clock:    clk,
	}
	m.transform = m.upgrade
	handler.Snapshots().SetRestorer(m)
	return m
}

// SetTransformer replaces the default schema upgrade.
func (m *Manager) SetTransformer(fn Transformer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transform = fn
}

// ShouldMigrate reports whether any unit has pending records.
func (m *Manager) ShouldMigrate(ctx context.Context) (bool, error) {
	_, _, total, err := m.pending(ctx)
	if err != nil {
		return false, err
	}
	return total > 0, nil
}

// pending counts unmigrated records per unit.
func (m *Manager) pending(ctx context.Context) ([]string, map[string]int, int, error) {
	units, err := m.repo.Units(ctx)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to list units: %w", err)
	}

	counts := make([]int, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, unit := range units {
		g.Go(func() error {
			n, err := m.repo.CountPending(gctx, unit)
			if err != nil {
				return fmt.Errorf("unit %s: %w", unit, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, 0, err
	}

	byUnit := make(map[string]int, len(units))
	total := 0
	for i, unit := range units {
		byUnit[unit] = counts[i]
		total += counts[i]
	}
	return units, byUnit, total, nil
}

// Migrate migrates every unit with pending records and returns one result
// per unit. Units are processed in the order the repository lists them.
func (m *Manager) Migrate(ctx context.Context, opts domain.MigrationOptions) (results []domain.MigrationResult, err error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	m.running = true
	transform := m.transform
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.active = nil
		m.mu.Unlock()

		if err != nil && opts.OnError != nil {
			opts.OnError(err)
		}
		if err == nil && opts.OnComplete != nil {
			opts.OnComplete(results)
		}
	}()

	units, byUnit, total, err := m.pending(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 && !opts.Force {
		slog.Debug("Nothing to migrate")
		return nil, nil
	}

	slog.Info("Migration started", "mode", opts.Mode, "units", len(units), "pending", total)
	if m.tracker != nil {
		m.tracker.Start(total)
		defer m.tracker.Stop()
	}

	r := &run{
		id:        uuid.New().String(),
		m:         m,
		opts:      opts,
		transform: transform,
		total:     total,
		saved:     make(map[string]struct{}),
	}
	m.mu.Lock()
	m.active = r
	m.mu.Unlock()
	for _, unit := range units {
		if byUnit[unit] == 0 && !opts.Force {
			continue
		}
		res, err := r.unit(ctx, unit)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}

	slog.Info("Migration finished",
		"migrated", domain.TotalMigrated(results),
		"processed", r.processed,
	)
	return results, nil
}

// Restore reverts a unit to a checkpoint by removing the records of the
// checkpoint's batch. While the run that took the checkpoint is active, only
// the records it actually wrote are removed.
func (m *Manager) Restore(ctx context.Context, snap domain.RollbackSnapshot) error {
	var cp domain.Checkpoint
	if err := snap.Decode(&cp); err != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Unit == "" {
		return fmt.Errorf("snapshot %s is not a checkpoint", snap.ID)
	}

	ids := cp.Batch
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil && active.id == cp.RunID {
		ids = active.savedOf(ids)
	}

	n, err := m.repo.Delete(ctx, cp.Unit, ids)
	if err != nil {
		return fmt.Errorf("failed to restore checkpoint: %w", err)
	}
	slog.Info("Restored checkpoint", "unit", cp.Unit, "last_id", cp.LastID, "removed", n)
	return nil
}

// upgrade is the default Transformer.
func (m *Manager) upgrade(rec domain.Record) (domain.Record, error) {
	if len(rec.Payload) == 0 {
		return rec, domain.NewCodedError(recovery.CodeValidationFailed, "record "+rec.ID+": empty payload")
	}
	if !json.Valid(rec.Payload) {
		return rec, domain.NewCodedError(recovery.CodeDataCorruption, "record "+rec.ID+": malformed payload")
	}
	if rec.SchemaVersion > m.cfg.TargetVersion {
		return rec, domain.NewCodedError(recovery.CodeValidationFailed,
			fmt.Sprintf("record %s: invalid schema version %d", rec.ID, rec.SchemaVersion))
	}
	rec.SchemaVersion = m.cfg.TargetVersion
	rec.UpdatedAt = m.clock.Now()
	return rec, nil
}

// run holds the state of one Migrate call.
type run struct {
	id        string
	m         *Manager
	opts      domain.MigrationOptions
	transform Transformer
	total     int
	processed int

	mu    sync.Mutex
	saved map[string]struct{}
}

func (r *run) markSaved(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[id] = struct{}{}
}

// savedOf filters ids down to the records written by this run.
func (r *run) savedOf(ids []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := r.saved[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (r *run) unit(ctx context.Context, unit string) (domain.MigrationResult, error) {
	m := r.m
	res := domain.MigrationResult{Unit: unit}
	start := m.clock.Now()
	defer func() {
		res.Duration = m.clock.Now().Sub(start)
		metrics.MigrationDuration.WithLabelValues(unit).Observe(res.Duration.Seconds())
	}()

	r.phase(unit, "migrate:"+unit)
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch, err := m.repo.FetchPending(ctx, unit, cursor, m.cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("failed to fetch %s records: %w", unit, err)
		}
		if len(batch) == 0 {
			return res, nil
		}

		cp := domain.Checkpoint{
			RunID:    r.id,
			Unit:     unit,
			LastID:   cursor,
			Migrated: res.Migrated,
			Batch:    make([]string, 0, len(batch)),
		}
		for _, rec := range batch {
			cp.Batch = append(cp.Batch, rec.ID)
		}
		if _, err := m.recovery.CreateSnapshot(cp, map[string]any{"unit": unit}); err != nil {
			return res, err
		}

		for _, rec := range batch {
			status, err := r.record(ctx, rec)
			switch status {
			case recordMigrated:
				res.Migrated++
				metrics.RecordsMigrated.WithLabelValues(unit).Inc()
			case recordSkipped:
				res.Skipped++
				metrics.RecordsFailed.WithLabelValues(unit).Inc()
				if m.tracker != nil {
					m.tracker.RecordWarning(fmt.Sprintf("skipped record %s", rec.ID))
				}
			case recordRolledBack:
				res.Failed++
				res.RolledBack = true
				metrics.RecordsFailed.WithLabelValues(unit).Inc()
				res.Migrated = cp.Migrated
				slog.Warn("Unit rolled back to checkpoint", "unit", unit, "last_id", cp.LastID)
				return res, nil
			case recordAborted:
				res.Failed++
				metrics.RecordsFailed.WithLabelValues(unit).Inc()
				return res, err
			}
			cursor = rec.ID
			r.processed++
			r.progress(unit)
		}
	}
}

type recordStatus int

const (
	recordMigrated recordStatus = iota
	recordSkipped
	recordRolledBack
	recordAborted
)

// record migrates rec, re-issuing it while the recovery executor authorizes
// retries.
func (r *run) record(ctx context.Context, rec domain.Record) (recordStatus, error) {
	m := r.m
	var prev *domain.MigrationError
	for {
		err := r.save(ctx, rec)
		if err == nil {
			r.markSaved(rec.ID)
			m.recovery.RecordSuccess()
			return recordMigrated, nil
		}

		out := m.recovery.HandleRetry(ctx, err, prev)
		switch {
		case out.Rejected:
			return recordAborted, fmt.Errorf("%w: %v", recovery.ErrCircuitOpen, err)
		case out.Authorized:
			prev = out.Error
			if ctx.Err() != nil {
				return recordAborted, ctx.Err()
			}
		case out.Strategy == domain.StrategyRollback:
			if !out.RolledBack {
				return recordAborted, fmt.Errorf("rollback failed: %w", out.Error)
			}
			return recordRolledBack, nil
		default:
			return recordSkipped, nil
		}
	}
}

func (r *run) save(ctx context.Context, rec domain.Record) error {
	upgraded, err := r.transform(rec)
	if err != nil {
		return err
	}
	if err := r.m.repo.Save(ctx, upgraded); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return domain.WrapCoded(recovery.CodeDuplicateKey, err)
		}
		return err
	}
	return nil
}

func (r *run) phase(unit, name string) {
	if r.m.tracker != nil {
		r.m.tracker.UpdatePhase(name)
	}
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(domain.Progress{Unit: unit, Processed: r.processed, Total: r.total, Phase: name})
	}
}

func (r *run) progress(unit string) {
	if r.m.tracker != nil {
		r.m.tracker.UpdateProgress(r.processed, r.total)
	}
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(domain.Progress{Unit: unit, Processed: r.processed, Total: r.total})
	}
}

var _ domain.Migrator = (*Manager)(nil)
var _ recovery.Restorer = (*Manager)(nil)
