package stores

import (
	"fmt"
)

// NewStore creates a new key/value store based on the configuration
func NewStore(config *StoreConfig) (KVStore, error) {
	switch config.Type {
	case "sqlite":
		return NewSQLiteStore(config)
	case "postgres":
		return NewPostgresStore(config)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}
