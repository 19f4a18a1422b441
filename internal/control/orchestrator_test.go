package control

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/migrator/internal/core/clock/clocktest"
	"github.com/vietddude/migrator/internal/core/config"
	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/infra/storage/memory"
	"github.com/vietddude/migrator/internal/mode"
)

type fixture struct {
	orch  *Orchestrator
	store *memory.MemoryStorage
	clock *clocktest.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.Server.Port = 0

	store := memory.NewMemoryStorage()
	for _, id := range []string{"p1", "p2", "p3"} {
		store.Seed(domain.Record{
			ID:            id,
			Kind:          "project",
			Payload:       json.RawMessage(`{"name":"` + id + `"}`),
			SchemaVersion: 1,
		})
	}

	clk := clocktest.NewFake(time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC))
	orch, err := New(context.Background(), cfg, Options{
		Clock:   clk,
		Store:   memory.NewKVStore(memory.NewMemoryStorage()),
		Records: memory.NewRecordRepo(store),
	})
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close() })
	return &fixture{orch: orch, store: store, clock: clk}
}

func TestOrchestrator_UserMigrationIsGated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.Equal(t, domain.ModeAuto, f.orch.Modes.CurrentMode())

	_, err := f.orch.Migrate(ctx, false)
	require.ErrorIs(t, err, mode.ErrNotPermitted)

	require.NoError(t, f.orch.Modes.SetMode(ctx, domain.ModeManual))
	results, err := f.orch.Migrate(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 3, domain.TotalMigrated(results))

	rec, ok := f.store.Migrated("p2")
	require.True(t, ok)
	assert.Equal(t, 2, rec.SchemaVersion)

	summary := f.orch.Monitor.GetSummary()
	assert.Equal(t, 3, summary.ItemsProcessed)
	assert.False(t, f.orch.Monitor.IsRunning())
}

func TestOrchestrator_MigrateOverride(t *testing.T) {
	f := newFixture(t)

	results, err := f.orch.MigrateOverride(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 3, domain.TotalMigrated(results))
	assert.Equal(t, domain.ModeAuto, f.orch.Modes.CurrentMode(), "override does not change the mode")
}

func TestOrchestrator_EventTriggersMigration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.orch.Modes.SetMode(ctx, domain.ModeSilent))

	f.orch.Dispatcher.TriggerEvent(ctx, domain.EventPayload{Type: domain.EventTypeContextReady})

	history := f.orch.Dispatcher.GetEventHistory(0)
	require.Len(t, history, 1)
	assert.True(t, history[0].Triggered)
	assert.Equal(t, domain.EventResultSuccess, history[0].Result)

	_, ok := f.store.Migrated("p1")
	assert.True(t, ok)
}

func TestOrchestrator_ErrorsReachMonitor(t *testing.T) {
	f := newFixture(t)
	f.orch.Monitor.Start(10)

	f.orch.Recovery.HandleError(context.Background(), domain.NewCodedError("ERR_DATA_002", "dup"))

	assert.Equal(t, 1, f.orch.Monitor.GetStatus().Errors)
	f.orch.Monitor.Stop()
}

func TestOrchestrator_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orch.Run(ctx) }()

	require.Eventually(t, f.orch.Dispatcher.IsListening, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, f.orch.Dispatcher.IsListening())
}

func TestOpenKeyValue(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StoreConfig
		wantErr bool
	}{
		{"memory", config.StoreConfig{Driver: "memory"}, false},
		{"badger", config.StoreConfig{Driver: "badger", Path: t.TempDir(), Prefix: "test:"}, false},
		{"unknown", config.StoreConfig{Driver: "etcd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv, err := OpenKeyValue(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer kv.Close()

			ctx := context.Background()
			require.NoError(t, kv.Set(ctx, "k", "v"))
			got, ok, err := kv.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", got)
		})
	}
}
