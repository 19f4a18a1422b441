package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/vietddude/migrator/internal/core/clock"
	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/metrics"
)

// ErrorObserver is notified of every classified failure. The monitor implements it.
type ErrorObserver interface {
	RecordError(message string, critical bool)
}

// ManualNotifier raises a non-blocking request for human intervention.
type ManualNotifier func(ctx context.Context, err *domain.MigrationError)

// Config holds recovery executor settings.
type Config struct {
	Breaker           BreakerConfig
	Backoff           ExponentialBackoff
	DefaultMaxRetries int
	HistoryLimit      int // history is trimmed once it grows past this
	HistoryTrim       int // entries kept after trimming
	MaxSnapshots      int
}

// DefaultConfig returns the default recovery settings.
func DefaultConfig() Config {
	return Config{
		Breaker:           DefaultBreakerConfig(),
		Backoff:           DefaultBackoff(),
		DefaultMaxRetries: DefaultMaxRetries,
		HistoryLimit:      100,
		HistoryTrim:       50,
		MaxSnapshots:      DefaultMaxSnapshots,
	}
}

// Outcome describes what the executor decided for one failure.
type Outcome struct {
	Strategy   domain.RecoveryStrategy
	Error      *domain.MigrationError
	Rejected   bool          // short-circuited by the open circuit
	Authorized bool          // a retry was authorized and counted
	Delay      time.Duration // backoff applied before returning
	RolledBack bool
}

// Handler is the single entry point for migration failures. It classifies,
// records, executes the recovery side effect and feeds the circuit breaker.
type Handler struct {
	cfg        Config
	clock      clock.Clock
	catalog    *Catalog
	classifier *Classifier
	breaker    *CircuitBreaker
	snapshots  *SnapshotStore

	mu       sync.Mutex
	history  []*domain.MigrationError
	observer ErrorObserver
	notify   ManualNotifier
}

// NewHandler creates a recovery executor. A nil catalog selects DefaultCatalog.
func NewHandler(cfg Config, catalog *Catalog, clk clock.Clock) *Handler {
	def := DefaultConfig()
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff.InitialDelay = def.Backoff.InitialDelay
	}
	if cfg.Backoff.MaxDelay <= 0 {
		cfg.Backoff.MaxDelay = def.Backoff.MaxDelay
	}
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = def.DefaultMaxRetries
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.HistoryTrim <= 0 || cfg.HistoryTrim > cfg.HistoryLimit {
		cfg.HistoryTrim = cfg.HistoryLimit / 2
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if clk == nil {
		clk = clock.New()
	}

	breaker := NewCircuitBreaker(cfg.Breaker, clk)
	breaker.SetStateChangeCallback(func(c StateChange) {
		metrics.CircuitState.Set(float64(c.To))
	})

	return &Handler{
		cfg:        cfg,
		clock:      clk,
		catalog:    catalog,
		classifier: NewClassifier(catalog, nil, clk),
		breaker:    breaker,
		snapshots:  NewSnapshotStore(cfg.MaxSnapshots, clk),
		notify:     logManualNotification,
	}
}

// SetObserver registers the component told about every classified failure.
func (h *Handler) SetObserver(o ErrorObserver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = o
}

// SetManualNotifier replaces the default (log-based) manual notification.
func (h *Handler) SetManualNotifier(fn ManualNotifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notify = fn
}

// Catalog returns the error catalog.
func (h *Handler) Catalog() *Catalog { return h.catalog }

// Breaker returns the embedded circuit breaker.
func (h *Handler) Breaker() *CircuitBreaker { return h.breaker }

// Snapshots returns the snapshot store used for rollbacks.
func (h *Handler) Snapshots() *SnapshotStore { return h.snapshots }

// RegisterError adds or overwrites a catalog entry.
func (h *Handler) RegisterError(entry domain.CatalogEntry) {
	h.catalog.Register(entry)
}

// Classify classifies err without recording it.
func (h *Handler) Classify(err error) *domain.MigrationError {
	return h.classifier.Classify(err)
}

// HandleError handles err and returns the chosen strategy. It never fails.
func (h *Handler) HandleError(ctx context.Context, err error) domain.RecoveryStrategy {
	return h.Handle(ctx, err).Strategy
}

// Handle runs the full recovery pipeline for err.
func (h *Handler) Handle(ctx context.Context, err error) Outcome {
	return h.handle(ctx, err, nil)
}

// HandleRetry handles the failure of an operation re-issued after prev,
// so that prev's retry count carries over.
func (h *Handler) HandleRetry(ctx context.Context, err error, prev *domain.MigrationError) Outcome {
	return h.handle(ctx, err, prev)
}

func (h *Handler) handle(ctx context.Context, err error, prev *domain.MigrationError) Outcome {
	if h.breaker.IsOpen() {
		h.breaker.Reject()
		slog.Debug("Circuit open, rejecting error without classification", "error", err)
		return Outcome{Strategy: domain.StrategyNone, Rejected: true}
	}

	me := h.classifier.Classify(err)
	if prev != nil && me != prev {
		me.RetryCount = prev.RetryCount
	}
	if me.Level == domain.LevelCritical && me.Stack == "" {
		me.Stack = string(debug.Stack())
	}

	h.mu.Lock()
	h.appendHistory(me)
	observer := h.observer
	h.mu.Unlock()

	metrics.ErrorsTotal.WithLabelValues(string(me.Level), string(me.Category)).Inc()
	if observer != nil {
		observer.RecordError(me.Error(), me.Level == domain.LevelCritical)
	}

	strategy := defaultStrategyFor(me.Level)
	if entry, ok := h.catalog.Lookup(me.Code); ok {
		strategy = entry.RecoveryStrategy
	}
	me.RecoveryStrategy = strategy

	out := Outcome{Strategy: strategy, Error: me}
	h.execute(ctx, me, &out)

	h.breaker.Record(me.Level.IsFailure())
	metrics.RecoveryActionsTotal.WithLabelValues(string(strategy)).Inc()

	slog.Debug("Handled migration error",
		"code", me.Code,
		"level", me.Level,
		"category", me.Category,
		"strategy", strategy,
		"retry_count", me.RetryCount,
	)
	return out
}

func (h *Handler) execute(ctx context.Context, me *domain.MigrationError, out *Outcome) {
	switch out.Strategy {
	case domain.StrategyRetry:
		out.Authorized = h.authorizeRetry(me)

	case domain.StrategyRetryWithBackoff:
		h.mu.Lock()
		attempt := me.RetryCount
		h.mu.Unlock()
		if !h.authorizeRetry(me) {
			return
		}
		out.Delay = h.cfg.Backoff.GetDelay(attempt)
		if err := h.clock.Sleep(ctx, out.Delay); err != nil {
			slog.Warn("Backoff interrupted", "error", err)
			return
		}
		out.Authorized = true

	case domain.StrategySkip:
		slog.Info("Skipping failed unit", "code", me.Code, "message", me.Message)

	case domain.StrategyRollback:
		out.RolledBack = h.snapshots.Rollback(ctx, "")

	case domain.StrategyManual:
		h.mu.Lock()
		notify := h.notify
		h.mu.Unlock()
		if notify != nil {
			notify(ctx, me)
		}
	}
}

// authorizeRetry counts one attempt, refusing once the budget is spent.
func (h *Handler) authorizeRetry(me *domain.MigrationError) bool {
	limit := h.cfg.DefaultMaxRetries
	if entry, ok := h.catalog.Lookup(me.Code); ok {
		limit = retryBudget(entry.MaxRetries, h.cfg.DefaultMaxRetries)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if me.RetryCount >= limit {
		slog.Warn("Retry budget exhausted, giving up",
			"code", me.Code,
			"retries", me.RetryCount,
			"max_retries", limit,
		)
		return false
	}
	me.RetryCount++
	return true
}

// appendHistory must be called with the lock held.
func (h *Handler) appendHistory(me *domain.MigrationError) {
	h.history = append(h.history, me)
	if len(h.history) > h.cfg.HistoryLimit {
		trimmed := make([]*domain.MigrationError, h.cfg.HistoryTrim)
		copy(trimmed, h.history[len(h.history)-h.cfg.HistoryTrim:])
		h.history = trimmed
	}
}

// Retry runs op until it succeeds or the executor stops authorizing retries.
// Each failure goes through the full recovery pipeline.
func (h *Handler) Retry(ctx context.Context, op func(context.Context) error) error {
	var prev *domain.MigrationError
	for {
		err := op(ctx)
		if err == nil {
			h.RecordSuccess()
			return nil
		}

		out := h.handle(ctx, err, prev)
		if out.Rejected {
			return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if !out.Authorized {
			return out.Error
		}
		prev = out.Error
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// RecordSuccess feeds a successful operation into the circuit breaker.
func (h *Handler) RecordSuccess() {
	h.breaker.RecordSuccess()
}

// CreateSnapshot captures state as a rollback target.
func (h *Handler) CreateSnapshot(state any, metadata map[string]any) (string, error) {
	return h.snapshots.Create(state, metadata)
}

// Rollback restores the snapshot with id, or the latest one when id is empty.
func (h *Handler) Rollback(ctx context.Context, id string) bool {
	return h.snapshots.Rollback(ctx, id)
}

// IsCircuitOpen reports whether failures are currently short-circuited.
func (h *Handler) IsCircuitOpen() bool {
	return h.breaker.IsOpen()
}

// GetErrorHistory returns up to limit of the most recent errors, oldest first.
// limit <= 0 returns the whole history.
func (h *Handler) GetErrorHistory(limit int) []domain.MigrationError {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := 0
	if limit > 0 && limit < len(h.history) {
		start = len(h.history) - limit
	}
	out := make([]domain.MigrationError, 0, len(h.history)-start)
	for _, e := range h.history[start:] {
		out = append(out, *e)
	}
	return out
}

// ClearHistory drops the recorded errors.
func (h *Handler) ClearHistory() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = nil
}

// Statistics aggregates the error history.
type Statistics struct {
	Total        int                          `json:"total"`
	ByLevel      map[domain.ErrorLevel]int    `json:"by_level"`
	ByCategory   map[domain.ErrorCategory]int `json:"by_category"`
	Recent       []domain.MigrationError      `json:"recent"`
	CircuitState CircuitState                 `json:"circuit_state"`
	FailureCount int                          `json:"failure_count"`
	Rejected     int                          `json:"rejected"`
}

// GetErrorStatistics returns counts by level and category plus recent errors.
func (h *Handler) GetErrorStatistics() Statistics {
	stats := Statistics{
		ByLevel:      make(map[domain.ErrorLevel]int),
		ByCategory:   make(map[domain.ErrorCategory]int),
		Recent:       h.GetErrorHistory(10),
		CircuitState: h.breaker.State(),
		FailureCount: h.breaker.Failures(),
		Rejected:     h.breaker.Rejected(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	stats.Total = len(h.history)
	for _, e := range h.history {
		stats.ByLevel[e.Level]++
		stats.ByCategory[e.Category]++
	}
	return stats
}

// Close releases the breaker timer.
func (h *Handler) Close() {
	h.breaker.Close()
}

func logManualNotification(_ context.Context, err *domain.MigrationError) {
	slog.Warn("Manual intervention required",
		"code", err.Code,
		"message", err.Message,
		"category", err.Category,
		"level", err.Level,
	)
}
