package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/vietddude/migrator/internal/core/clock"
	"github.com/vietddude/migrator/internal/core/domain"
)

// DefaultMaxSnapshots bounds the snapshot ring.
const DefaultMaxSnapshots = 10

// Restorer applies a snapshot. The migration manager implements it.
type Restorer interface {
	Restore(ctx context.Context, snapshot domain.RollbackSnapshot) error
}

// SnapshotStore keeps a bounded list of rollback targets, oldest first.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots []domain.RollbackSnapshot
	max       int
	clock     clock.Clock
	restorer  Restorer
}

// NewSnapshotStore creates a store holding at most max snapshots.
func NewSnapshotStore(max int, clk clock.Clock) *SnapshotStore {
	if max <= 0 {
		max = DefaultMaxSnapshots
	}
	if clk == nil {
		clk = clock.New()
	}
	return &SnapshotStore{max: max, clock: clk}
}

// SetRestorer registers the component that applies snapshots on rollback.
func (s *SnapshotStore) SetRestorer(r Restorer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restorer = r
}

// Create deep-copies state and appends it, evicting the oldest snapshot
// beyond capacity.
func (s *SnapshotStore) Create(state any, metadata map[string]any) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to copy snapshot state: %w", err)
	}

	var meta map[string]any
	if metadata != nil {
		meta = make(map[string]any, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
	}

	snap := domain.RollbackSnapshot{
		ID:        uuid.New().String(),
		Timestamp: s.clock.Now(),
		State:     data,
		Metadata:  meta,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	if len(s.snapshots) > s.max {
		s.snapshots = s.snapshots[len(s.snapshots)-s.max:]
	}
	return snap.ID, nil
}

// Get returns the snapshot with id.
func (s *SnapshotStore) Get(id string) (domain.RollbackSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, snap := range s.snapshots {
		if snap.ID == id {
			return snap, true
		}
	}
	return domain.RollbackSnapshot{}, false
}

// Latest returns the most recently created snapshot.
func (s *SnapshotStore) Latest() (domain.RollbackSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return domain.RollbackSnapshot{}, false
	}
	return s.snapshots[len(s.snapshots)-1], true
}

// List returns all snapshots, oldest first.
func (s *SnapshotStore) List() []domain.RollbackSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RollbackSnapshot, len(s.snapshots))
	copy(out, s.snapshots)
	return out
}

// Len returns the number of stored snapshots.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Rollback targets the snapshot with id, or the newest one when id is empty.
// It returns false without side effects when no snapshot matches.
func (s *SnapshotStore) Rollback(ctx context.Context, id string) bool {
	var (
		snap domain.RollbackSnapshot
		ok   bool
	)
	if id == "" {
		snap, ok = s.Latest()
	} else {
		snap, ok = s.Get(id)
	}
	if !ok {
		slog.Warn("No snapshot available for rollback", "snapshot_id", id)
		return false
	}

	s.mu.RLock()
	restorer := s.restorer
	s.mu.RUnlock()

	if restorer != nil {
		if err := restorer.Restore(ctx, snap); err != nil {
			slog.Error("Rollback failed", "snapshot_id", snap.ID, "error", err)
			return false
		}
	}
	slog.Info("Rolled back to snapshot", "snapshot_id", snap.ID, "taken_at", snap.Timestamp)
	return true
}
