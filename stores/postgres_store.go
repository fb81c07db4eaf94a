package stores

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresStore implements KVStore for PostgreSQL databases
type PostgresStore struct {
	gormKV
	dsn string
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config *StoreConfig) (*PostgresStore, error) {
	if config.Type != "postgres" {
		return nil, fmt.Errorf("invalid store type for PostgreSQL store: %s", config.Type)
	}

	kv, err := newGormKV(config)
	if err != nil {
		return nil, err
	}
	store := &PostgresStore{
		gormKV: kv,
		dsn:    config.Connection,
	}

	if err := store.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	return store, nil
}

// NewPostgresStoreSimple creates a new PostgreSQL store with just a DSN
func NewPostgresStoreSimple(dsn string) (*PostgresStore, error) {
	config := NewStoreConfig("postgres", dsn)
	return NewPostgresStore(config)
}

// Connect establishes a connection to the PostgreSQL database
func (s *PostgresStore) Connect() error {
	db, err := gorm.Open(postgres.Open(s.dsn), s.gormConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	s.db = db
	return s.migrate()
}
