// Package badger provides a local persistent KeyValueStore backed by BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	badgerdb "github.com/dgraph-io/badger/v3"

	"github.com/vietddude/migrator/internal/infra/storage"
)

// Config holds BadgerDB settings.
type Config struct {
	Path     string
	InMemory bool
}

// Store implements storage.KeyValueStore on BadgerDB.
type Store struct {
	db     *badgerdb.DB
	prefix string
}

// Open opens (or creates) the database at cfg.Path. Keys are namespaced by prefix.
func Open(cfg Config, prefix string) (*Store, error) {
	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create badger dir: %w", err)
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}
	opts.Logger = slogLogger{}
	opts.BlockCacheSize = 8 << 20
	opts.IndexCacheSize = 8 << 20
	opts.NumMemtables = 2

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db, prefix: prefix}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) key(k string) []byte {
	return []byte(s.prefix + k)
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var val []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("badger get %q: %w", key, err)
	}
	return string(val), true, nil
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(s.key(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("badger set %q: %w", key, err)
	}
	return nil
}

// slogLogger routes badger's logs through slog; info and debug are dropped to debug.
type slogLogger struct{}

func (slogLogger) Errorf(f string, args ...interface{}) {
	slog.Error("badger: " + fmt.Sprintf(f, args...))
}

func (slogLogger) Warningf(f string, args ...interface{}) {
	slog.Warn("badger: " + fmt.Sprintf(f, args...))
}

func (slogLogger) Infof(f string, args ...interface{}) {
	slog.Debug("badger: " + fmt.Sprintf(f, args...))
}

func (slogLogger) Debugf(f string, args ...interface{}) {
	slog.Debug("badger: " + fmt.Sprintf(f, args...))
}

var _ storage.KeyValueStore = (*Store)(nil)
