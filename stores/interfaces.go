package stores

import (
	"context"
	"time"
)

// KVEntry is one row of the durable key/value table.
type KVEntry struct {
	Key       string    `gorm:"column:entry_key;primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"index"`
}

// TableName pins the table name so sqlite and postgres deployments share one schema.
func (KVEntry) TableName() string {
	return "kv_entries"
}

// KVStore is the durable string key/value storage used for drafts and session data.
// Get returns an error matching models.ErrNotFound when the key is absent.
// Remove of a missing key is not an error.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error

	// PruneOlderThan removes entries whose keys start with prefix and that were
	// last written before cutoff. It returns the number of removed entries.
	PruneOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error)

	// Connection management
	Connect() error
	Close() error

	// Health check
	Ping() error
}

// StoreConfig holds configuration for database stores
type StoreConfig struct {
	Type       string            `json:"type"`       // "sqlite", "postgres", "memory"
	Connection string            `json:"connection"` // connection string
	Options    map[string]string `json:"options"`    // additional options
}

// OptionLogLevel sets the GORM log level of database stores: silent, error, warn or info.
const OptionLogLevel = "log_level"

// NewStoreConfig creates a new store configuration
func NewStoreConfig(storeType, connection string) *StoreConfig {
	return &StoreConfig{
		Type:       storeType,
		Connection: connection,
		Options:    make(map[string]string),
	}
}

// WithOption adds an option to the store configuration
func (c *StoreConfig) WithOption(key, value string) *StoreConfig {
	if c.Options == nil {
		c.Options = make(map[string]string)
	}
	c.Options[key] = value
	return c
}
