package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/migrator/internal/core/clock/clocktest"
	"github.com/vietddude/migrator/internal/core/domain"
)

var epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// =============================================================================
// Mocks
// =============================================================================

type mockObserver struct {
	mu       sync.Mutex
	messages []string
	critical int
}

func (o *mockObserver) RecordError(message string, critical bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, message)
	if critical {
		o.critical++
	}
}

type mockRestorer struct {
	restored []string
	err      error
}

func (r *mockRestorer) Restore(_ context.Context, snap domain.RollbackSnapshot) error {
	if r.err != nil {
		return r.err
	}
	r.restored = append(r.restored, snap.ID)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *clocktest.Fake) {
	t.Helper()
	clk := clocktest.NewFake(epoch)
	h := NewHandler(DefaultConfig(), nil, clk)
	t.Cleanup(h.Close)
	return h, clk
}

// =============================================================================
// Catalog / Classifier Tests
// =============================================================================

func TestCatalog_DefaultEntries(t *testing.T) {
	c := DefaultCatalog()

	entry, ok := c.Lookup(CodeNetworkTimeout)
	require.True(t, ok)
	assert.Equal(t, domain.StrategyRetryWithBackoff, entry.RecoveryStrategy)
	assert.Equal(t, 3, entry.MaxRetries)

	_, ok = c.Lookup("ERR_NOPE")
	assert.False(t, ok)
	_, ok = c.Lookup("")
	assert.False(t, ok)

	entries := c.Entries()
	assert.Len(t, entries, 8)
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1].Code, entries[i].Code)
	}
}

func TestCatalog_RegisterOverwrites(t *testing.T) {
	c := DefaultCatalog()
	c.Register(domain.CatalogEntry{
		Code:             CodeDuplicateKey,
		Level:            domain.LevelWarning,
		Category:         domain.CategoryDataIntegrity,
		RecoveryStrategy: domain.StrategyNone,
	})

	entry, ok := c.Lookup(CodeDuplicateKey)
	require.True(t, ok)
	assert.Equal(t, domain.LevelWarning, entry.Level)
	assert.Equal(t, domain.StrategyNone, entry.RecoveryStrategy)
}

func TestClassifier_Heuristics(t *testing.T) {
	c := NewClassifier(DefaultCatalog(), nil, clocktest.NewFake(epoch))

	tests := []struct {
		name     string
		err      error
		category domain.ErrorCategory
		level    domain.ErrorLevel
	}{
		{"timeout", errors.New("request Timeout after 5s"), domain.CategoryTimeout, domain.LevelError},
		{"deadline", context.DeadlineExceeded, domain.CategoryTimeout, domain.LevelError},
		{"network", errors.New("network unreachable"), domain.CategoryNetwork, domain.LevelError},
		{"fetch", errors.New("failed to fetch"), domain.CategoryNetwork, domain.LevelError},
		{"validation", errors.New("Invalid payload"), domain.CategoryValidation, domain.LevelWarning},
		{"memory", errors.New("JavaScript heap exhausted"), domain.CategoryResource, domain.LevelCritical},
		{"timeout wins over network", errors.New("network timeout"), domain.CategoryTimeout, domain.LevelError},
		{"unknown", errors.New("boom"), domain.CategoryUnknown, domain.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			me := c.Classify(tt.err)
			assert.Equal(t, tt.category, me.Category)
			assert.Equal(t, tt.level, me.Level)
			assert.Equal(t, domain.StrategyNone, me.RecoveryStrategy)
			assert.NotEmpty(t, me.ID)
			assert.Equal(t, epoch, me.Timestamp)
			assert.ErrorIs(t, me, tt.err)
		})
	}
}

func TestClassifier_KnownCode(t *testing.T) {
	c := NewClassifier(DefaultCatalog(), nil, clocktest.NewFake(epoch))

	err := &domain.CodedError{
		Code:    CodePermission,
		Message: "write denied",
		Context: map[string]any{"table": "projects"},
	}
	me := c.Classify(fmt.Errorf("save: %w", err))

	assert.Equal(t, CodePermission, me.Code)
	assert.Equal(t, domain.CategoryPermission, me.Category)
	assert.Equal(t, domain.StrategyManual, me.RecoveryStrategy)
	assert.Equal(t, "projects", me.Context["table"])
}

func TestClassifier_ReturnsExisting(t *testing.T) {
	c := NewClassifier(DefaultCatalog(), nil, nil)
	me := c.Classify(errors.New("boom"))
	me.RetryCount = 2

	again := c.Classify(me)
	assert.Same(t, me, again)
	assert.Equal(t, 2, again.RetryCount)
}

// =============================================================================
// Strategy Tests
// =============================================================================

func TestBackoff_Delay(t *testing.T) {
	strategy := DefaultBackoff()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if d := strategy.GetDelay(tt.attempt); d != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, d)
		}
	}
}

func TestDefaultStrategyFor(t *testing.T) {
	assert.Equal(t, domain.StrategyRollback, defaultStrategyFor(domain.LevelCritical))
	assert.Equal(t, domain.StrategyRetry, defaultStrategyFor(domain.LevelError))
	assert.Equal(t, domain.StrategySkip, defaultStrategyFor(domain.LevelWarning))
	assert.Equal(t, domain.StrategyNone, defaultStrategyFor(domain.LevelInfo))
}

// =============================================================================
// Circuit Breaker Tests
// =============================================================================

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	clk := clocktest.NewFake(epoch)
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, OpenTimeout: time.Minute}, clk)

	var changes []StateChange
	cb.SetStateChangeCallback(func(c StateChange) { changes = append(changes, c) })

	cb.Record(true)
	cb.Record(true)
	assert.Equal(t, CircuitClosed, cb.State())

	cb.Record(true)
	assert.True(t, cb.IsOpen())
	assert.Equal(t, 3, cb.Failures())

	clk.Advance(59 * time.Second)
	assert.True(t, cb.IsOpen())

	clk.Advance(time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	cb.Record(false)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())

	require.Len(t, changes, 3)
	assert.Equal(t, CircuitOpen, changes[0].To)
	assert.Equal(t, CircuitHalfOpen, changes[1].To)
	assert.Equal(t, CircuitClosed, changes[2].To)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clk := clocktest.NewFake(epoch)
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second}, clk)

	cb.Record(true)
	clk.Advance(time.Second)
	require.Equal(t, CircuitHalfOpen, cb.State())

	cb.Record(true)
	assert.True(t, cb.IsOpen())

	clk.Advance(time.Second)
	assert.Equal(t, CircuitHalfOpen, cb.State())
}

func TestCircuitBreaker_WarningDoesNotReset(t *testing.T) {
	cb := NewCircuitBreaker(DefaultBreakerConfig(), clocktest.NewFake(epoch))

	cb.Record(true)
	cb.Record(false)
	assert.Equal(t, 1, cb.Failures())

	cb.RecordSuccess()
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clk := clocktest.NewFake(epoch)
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1}, clk)

	cb.Record(true)
	cb.Reject()
	require.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 0, cb.Rejected())
	assert.Equal(t, 0, clk.Pending())
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", CircuitClosed.String())
	assert.Equal(t, "OPEN", CircuitOpen.String())
	assert.Equal(t, "HALF_OPEN", CircuitHalfOpen.String())
	assert.Equal(t, "UNKNOWN", CircuitState(9).String())
}

// =============================================================================
// Snapshot Tests
// =============================================================================

func TestSnapshotStore_Eviction(t *testing.T) {
	s := NewSnapshotStore(3, clocktest.NewFake(epoch))

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Create(map[string]int{"step": i}, nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	assert.Equal(t, 3, s.Len())
	_, ok := s.Get(ids[0])
	assert.False(t, ok, "oldest snapshot should be evicted")

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, ids[4], latest.ID)

	var state map[string]int
	require.NoError(t, latest.Decode(&state))
	assert.Equal(t, 4, state["step"])
}

func TestSnapshotStore_DeepCopy(t *testing.T) {
	s := NewSnapshotStore(0, nil)
	state := map[string][]string{"done": {"a"}}

	id, err := s.Create(state, map[string]any{"phase": "users"})
	require.NoError(t, err)
	state["done"][0] = "mutated"

	snap, ok := s.Get(id)
	require.True(t, ok)
	var got map[string][]string
	require.NoError(t, snap.Decode(&got))
	assert.Equal(t, "a", got["done"][0])
	assert.Equal(t, "users", snap.Metadata["phase"])
}

func TestSnapshotStore_Rollback(t *testing.T) {
	s := NewSnapshotStore(0, nil)
	ctx := context.Background()

	assert.False(t, s.Rollback(ctx, ""), "no snapshot to roll back to")

	restorer := &mockRestorer{}
	s.SetRestorer(restorer)
	first, _ := s.Create("one", nil)
	second, _ := s.Create("two", nil)

	assert.True(t, s.Rollback(ctx, ""))
	assert.True(t, s.Rollback(ctx, first))
	assert.False(t, s.Rollback(ctx, "missing"))
	assert.Equal(t, []string{second, first}, restorer.restored)

	restorer.err = errors.New("restore failed")
	assert.False(t, s.Rollback(ctx, first))
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestHandler_DuplicateKeySkips(t *testing.T) {
	h, _ := newTestHandler(t)

	strategy := h.HandleError(context.Background(), domain.NewCodedError(CodeDuplicateKey, "dup"))

	assert.Equal(t, domain.StrategySkip, strategy)
	assert.Len(t, h.GetErrorHistory(0), 1)
	assert.Equal(t, 1, h.Breaker().Failures())
}

func TestHandler_CircuitShortCircuits(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.HandleError(ctx, domain.NewCodedError(CodeStorageQuota, "disk full"))
	}
	require.True(t, h.IsCircuitOpen())
	require.Len(t, h.GetErrorHistory(0), 5)

	out := h.Handle(ctx, errors.New("out of memory"))
	assert.Equal(t, domain.StrategyNone, out.Strategy)
	assert.True(t, out.Rejected)
	assert.Nil(t, out.Error)
	assert.Len(t, h.GetErrorHistory(0), 5)
	assert.Equal(t, 1, h.Breaker().Rejected())
}

func TestHandler_RetryBudget(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	me := h.Classify(domain.NewCodedError(CodeTimeout, "slow query"))

	var authorized int
	for i := 0; i < 4; i++ {
		out := h.Handle(ctx, me)
		assert.Equal(t, domain.StrategyRetry, out.Strategy)
		if out.Authorized {
			authorized++
		}
	}
	assert.Equal(t, 2, authorized)
	assert.Equal(t, 2, me.RetryCount)
}

func TestHandler_DefaultRetryBudget(t *testing.T) {
	h, _ := newTestHandler(t)
	h.RegisterError(domain.CatalogEntry{
		Code:             "ERR_CUSTOM",
		Level:            domain.LevelWarning,
		Category:         domain.CategoryUnknown,
		RecoveryStrategy: domain.StrategyRetry,
	})

	me := h.Classify(domain.NewCodedError("ERR_CUSTOM", "flaky"))
	for i := 0; i < 5; i++ {
		h.Handle(context.Background(), me)
	}
	assert.Equal(t, DefaultMaxRetries, me.RetryCount)
	assert.Equal(t, 0, h.Breaker().Failures(), "warnings do not count as failures")
}

func TestHandler_RetryWithBackoffWaits(t *testing.T) {
	h, clk := newTestHandler(t)

	done := make(chan Outcome, 1)
	go func() {
		done <- h.Handle(context.Background(), domain.NewCodedError(CodeNetworkTimeout, "conn reset"))
	}()

	clk.BlockUntil(1)
	select {
	case <-done:
		t.Fatal("handler returned before the backoff elapsed")
	default:
	}

	clk.Advance(time.Second)
	out := <-done
	assert.True(t, out.Authorized)
	assert.Equal(t, time.Second, out.Delay)
	assert.Equal(t, 1, out.Error.RetryCount)
}

func TestHandler_RetryWithBackoffCancelled(t *testing.T) {
	h, clk := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Outcome, 1)
	go func() {
		done <- h.Handle(ctx, domain.NewCodedError(CodeNetworkTimeout, "conn reset"))
	}()

	clk.BlockUntil(1)
	cancel()
	out := <-done
	assert.False(t, out.Authorized)
}

func TestHandler_RollbackUsesLatestSnapshot(t *testing.T) {
	h, _ := newTestHandler(t)
	restorer := &mockRestorer{}
	h.Snapshots().SetRestorer(restorer)

	id, err := h.CreateSnapshot(map[string]int{"migrated": 10}, nil)
	require.NoError(t, err)

	out := h.Handle(context.Background(), domain.NewCodedError(CodeDataCorruption, "checksum mismatch"))
	assert.Equal(t, domain.StrategyRollback, out.Strategy)
	assert.True(t, out.RolledBack)
	assert.Equal(t, []string{id}, restorer.restored)
	assert.NotEmpty(t, out.Error.Stack)
}

func TestHandler_ManualNotifies(t *testing.T) {
	h, _ := newTestHandler(t)

	var notified []string
	h.SetManualNotifier(func(_ context.Context, err *domain.MigrationError) {
		notified = append(notified, err.Code)
	})

	strategy := h.HandleError(context.Background(), domain.NewCodedError(CodePermission, "denied"))
	assert.Equal(t, domain.StrategyManual, strategy)
	assert.Equal(t, []string{CodePermission}, notified)
}

func TestHandler_NotifiesObserver(t *testing.T) {
	h, _ := newTestHandler(t)
	obs := &mockObserver{}
	h.SetObserver(obs)

	h.HandleError(context.Background(), errors.New("invalid field"))
	h.HandleError(context.Background(), errors.New("heap limit reached"))

	assert.Len(t, obs.messages, 2)
	assert.Equal(t, 1, obs.critical)
}

func TestHandler_HistoryTrim(t *testing.T) {
	h, _ := newTestHandler(t)

	for i := 0; i < 101; i++ {
		h.HandleError(context.Background(), domain.NewCodedError(CodeValidationFailed, fmt.Sprintf("row %d", i)))
	}

	history := h.GetErrorHistory(0)
	require.Len(t, history, 50)
	assert.Equal(t, "row 51", history[0].Message)
	assert.Equal(t, "row 100", history[49].Message)

	recent := h.GetErrorHistory(5)
	require.Len(t, recent, 5)
	assert.Equal(t, "row 96", recent[0].Message)
}

func TestHandler_Statistics(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	h.HandleError(ctx, errors.New("invalid row"))
	h.HandleError(ctx, errors.New("invalid column"))
	h.HandleError(ctx, domain.NewCodedError(CodeDuplicateKey, "dup"))

	stats := h.GetErrorStatistics()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByLevel[domain.LevelWarning])
	assert.Equal(t, 1, stats.ByLevel[domain.LevelError])
	assert.Equal(t, 2, stats.ByCategory[domain.CategoryValidation])
	assert.Equal(t, CircuitClosed, stats.CircuitState)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Len(t, stats.Recent, 3)

	h.ClearHistory()
	assert.Empty(t, h.GetErrorHistory(0))
}

func TestHandler_Retry(t *testing.T) {
	h, _ := newTestHandler(t)

	calls := 0
	err := h.Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.NewCodedError(CodeTimeout, "slow")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, h.Breaker().Failures())
}

func TestHandler_RetryExhausted(t *testing.T) {
	h, _ := newTestHandler(t)

	calls := 0
	err := h.Retry(context.Background(), func(context.Context) error {
		calls++
		return domain.NewCodedError(CodeTimeout, "slow")
	})

	var me *domain.MigrationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, CodeTimeout, me.Code)
	assert.Equal(t, 3, calls, "one attempt plus two retries")
}

func TestHandler_RetryCircuitOpen(t *testing.T) {
	h, _ := newTestHandler(t)
	for i := 0; i < 5; i++ {
		h.Breaker().Record(true)
	}

	err := h.Retry(context.Background(), func(context.Context) error {
		return errors.New("boom")
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
