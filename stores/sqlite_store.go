package stores

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SQLiteStore implements KVStore for SQLite databases
type SQLiteStore struct {
	gormKV
	path string
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(config *StoreConfig) (*SQLiteStore, error) {
	if config.Type != "sqlite" {
		return nil, fmt.Errorf("invalid store type for SQLite store: %s", config.Type)
	}

	kv, err := newGormKV(config)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{
		gormKV: kv,
		path:   config.Connection,
	}

	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	return store, nil
}

// NewSQLiteStoreSimple creates a new SQLite store with just a file path
func NewSQLiteStoreSimple(dbPath string) (*SQLiteStore, error) {
	config := NewStoreConfig("sqlite", dbPath)
	return NewSQLiteStore(config)
}

// Connect establishes a connection to the SQLite database
func (s *SQLiteStore) Connect() error {
	db, err := gorm.Open(sqlite.Open(s.path), s.gormConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to SQLite database: %w", err)
	}

	s.db = db
	return s.migrate()
}
