package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vietddude/migrator/internal/core/domain"
	"github.com/vietddude/migrator/internal/infra/storage"
)

type MemoryStorage struct {
	values   map[string]string
	source   map[string]domain.Record
	migrated map[string]domain.Record
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values:   make(map[string]string),
		source:   make(map[string]domain.Record),
		migrated: make(map[string]domain.Record),
	}
}

// Seed adds source records awaiting migration.
func (s *MemoryStorage) Seed(records ...domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.source[rec.ID] = rec
	}
}

// Migrated returns a migrated record by ID.
func (s *MemoryStorage) Migrated(id string) (domain.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.migrated[id]
	return rec, ok
}

// -----------------------------------------------------------------------------
// Key-Value Store
// -----------------------------------------------------------------------------

type KVStore struct {
	store *MemoryStorage
}

func NewKVStore(store *MemoryStorage) *KVStore {
	return &KVStore{store: store}
}

func (kv *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	kv.store.mu.RLock()
	defer kv.store.mu.RUnlock()
	v, ok := kv.store.values[key]
	return v, ok, nil
}

func (kv *KVStore) Set(ctx context.Context, key, value string) error {
	kv.store.mu.Lock()
	defer kv.store.mu.Unlock()
	kv.store.values[key] = value
	return nil
}

// -----------------------------------------------------------------------------
// Record Repository
// -----------------------------------------------------------------------------

type RecordRepo struct {
	store *MemoryStorage
}

func NewRecordRepo(store *MemoryStorage) *RecordRepo {
	return &RecordRepo{store: store}
}

func (r *RecordRepo) Units(ctx context.Context) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rec := range r.store.source {
		seen[rec.Kind] = struct{}{}
	}
	units := make([]string, 0, len(seen))
	for kind := range seen {
		units = append(units, kind)
	}
	sort.Strings(units)
	return units, nil
}

func (r *RecordRepo) CountPending(ctx context.Context, kind string) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	count := 0
	for id, rec := range r.store.source {
		if _, done := r.store.migrated[id]; rec.Kind == kind && !done {
			count++
		}
	}
	return count, nil
}

func (r *RecordRepo) FetchPending(
	ctx context.Context,
	kind string,
	afterID string,
	limit int,
) ([]domain.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var pending []domain.Record
	for id, rec := range r.store.source {
		if _, done := r.store.migrated[id]; rec.Kind == kind && id > afterID && !done {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *RecordRepo) Save(ctx context.Context, rec domain.Record) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.migrated[rec.ID]; exists {
		return fmt.Errorf("record %s: %w", rec.ID, storage.ErrDuplicate)
	}
	r.store.migrated[rec.ID] = rec
	return nil
}

func (r *RecordRepo) Delete(ctx context.Context, kind string, ids []string) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if rec, ok := r.store.migrated[id]; ok && rec.Kind == kind {
			delete(r.store.migrated, id)
			deleted++
		}
	}
	return deleted, nil
}

var (
	_ storage.KeyValueStore    = (*KVStore)(nil)
	_ storage.RecordRepository = (*RecordRepo)(nil)
)
