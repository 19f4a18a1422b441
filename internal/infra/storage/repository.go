package storage

import (
	"context"
	"errors"

	"github.com/vietddude/migrator/internal/core/domain"
)

var (
	// ErrNotFound is returned when a key or record doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when the target already holds a record with the same ID
	ErrDuplicate = errors.New("duplicate record")
)

// KeyValueStore persists small string values such as the mode configuration
type KeyValueStore interface {
	// Get returns the value for key; found is false when the key is absent
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key
	Set(ctx context.Context, key, value string) error
}

// RecordRepository reads source records and writes their migrated form
type RecordRepository interface {
	// Units returns the record kinds present in the source, sorted
	Units(ctx context.Context) ([]string, error)

	// CountPending counts source records of kind not yet present in the target
	CountPending(ctx context.Context, kind string) (int, error)

	// FetchPending returns up to limit pending records of kind with ID > afterID, ordered by ID
	FetchPending(ctx context.Context, kind string, afterID string, limit int) ([]domain.Record, error)

	// Save writes a migrated record, returning ErrDuplicate if its ID already exists
	Save(ctx context.Context, record domain.Record) error

	// Delete removes the migrated records of kind with the given IDs (checkpoint rollback)
	Delete(ctx context.Context, kind string, ids []string) (int, error)
}
