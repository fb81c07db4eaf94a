package stores

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Desarso/finchat/models"
)

type memoryEntry struct {
	value     string
	updatedAt time.Time
}

// MemoryStore implements KVStore in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return "", &StorageError{Op: "get", Key: key, Err: models.ErrNotFound}
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{value: value, updatedAt: s.now()}
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) PruneOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, entry := range s.entries {
		if strings.HasPrefix(key, prefix) && entry.updatedAt.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Connect() error { return nil }
func (s *MemoryStore) Close() error   { return nil }
func (s *MemoryStore) Ping() error    { return nil }
