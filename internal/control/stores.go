package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/migrator/internal/core/config"
	redisclient "github.com/vietddude/migrator/internal/infra/redis"
	"github.com/vietddude/migrator/internal/infra/storage"
	badgerstore "github.com/vietddude/migrator/internal/infra/storage/badger"
	"github.com/vietddude/migrator/internal/infra/storage/memory"
	"github.com/vietddude/migrator/internal/infra/storage/postgres"
)

// KeyValue is an opened key-value store with its lifecycle hooks.
type KeyValue struct {
	storage.KeyValueStore
	Close  func() error
	Health func(ctx context.Context) error // nil when there is nothing to check
}

// OpenKeyValue opens the key-value store selected by cfg.Driver.
func OpenKeyValue(cfg config.StoreConfig) (*KeyValue, error) {
	switch cfg.Driver {
	case "memory":
		slog.Info("Using memory key-value store")
		return &KeyValue{
			KeyValueStore: memory.NewKVStore(memory.NewMemoryStorage()),
			Close:         func() error { return nil },
		}, nil

	case "badger":
		store, err := badgerstore.Open(badgerstore.Config{Path: cfg.Path}, cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		slog.Info("Using badger key-value store", "path", cfg.Path)
		return &KeyValue{KeyValueStore: store, Close: store.Close}, nil

	case "redis":
		client, err := redisclient.NewClient(cfg.Redis, cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("Using redis key-value store")
		return &KeyValue{KeyValueStore: client, Close: client.Close, Health: client.Health}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Records is an opened record repository.
type Records struct {
	storage.RecordRepository
	DB *postgres.DB // nil for the memory repository
}

// OpenRecords connects to PostgreSQL and applies the schema when a database
// URL is configured, and falls back to an empty in-memory repository otherwise.
func OpenRecords(ctx context.Context, cfg postgres.Config) (*Records, error) {
	if cfg.URL == "" {
		slog.Info("Using memory record storage")
		return &Records{RecordRepository: memory.NewRecordRepo(memory.NewMemoryStorage())}, nil
	}

	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("Using PostgreSQL record storage")
	return &Records{RecordRepository: postgres.NewRecordRepo(db), DB: db}, nil
}
