package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Desarso/finchat/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStoreSimple(filepath.Join(t.TempDir(), "kv.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func exerciseKV(t *testing.T, store KVStore) {
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.True(t, IsNotFound(err), "got %v", err)

	require.NoError(t, store.Set(ctx, "chat_draft", "first"))
	require.NoError(t, store.Set(ctx, "chat_draft", "second"))
	value, err := store.Get(ctx, "chat_draft")
	require.NoError(t, err)
	assert.Equal(t, "second", value)

	require.NoError(t, store.Remove(ctx, "chat_draft"))
	_, err = store.Get(ctx, "chat_draft")
	assert.True(t, IsNotFound(err))

	require.NoError(t, store.Remove(ctx, "chat_draft"), "removing a missing key is not an error")
}

func TestSQLiteStoreKV(t *testing.T) {
	exerciseKV(t, newTestSQLite(t))
}

func TestMemoryStoreKV(t *testing.T) {
	exerciseKV(t, NewMemoryStore())
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.sqlite")
	ctx := context.Background()

	store, err := NewSQLiteStoreSimple(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "chat_draft", "draft text"))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStoreSimple(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, err := reopened.Get(ctx, "chat_draft")
	require.NoError(t, err)
	assert.Equal(t, "draft text", value)
}

func TestPruneOlderThan(t *testing.T) {
	ctx := context.Background()
	for name, store := range map[string]KVStore{"sqlite": newTestSQLite(t), "memory": NewMemoryStore()} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Set(ctx, "chat_draft:a", "x"))
			require.NoError(t, store.Set(ctx, "session:user", "y"))

			removed, err := store.PruneOlderThan(ctx, "chat_draft", time.Now().Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, int64(1), removed)

			_, err = store.Get(ctx, "session:user")
			assert.NoError(t, err)

			removed, err = store.PruneOlderThan(ctx, "", time.Now().Add(-time.Hour))
			require.NoError(t, err)
			assert.Zero(t, removed)
		})
	}
}

func TestNewStoreFactory(t *testing.T) {
	store, err := NewStore(NewStoreConfig("memory", ""))
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = NewStore(NewStoreConfig("sqlite", filepath.Join(t.TempDir(), "f.sqlite")))
	require.NoError(t, err)
	assert.NoError(t, store.Ping())
	store.Close()

	_, err = NewStore(NewStoreConfig("mysql", ""))
	assert.Error(t, err)
}

func TestStoreLogLevelOption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quiet.sqlite")
	store, err := NewStore(NewStoreConfig("sqlite", path).WithOption(OptionLogLevel, "silent"))
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, logger.Silent, store.(*SQLiteStore).logLevel)

	_, err = NewStore(NewStoreConfig("sqlite", path).WithOption(OptionLogLevel, "loud"))
	assert.ErrorContains(t, err, OptionLogLevel)

	level, err := parseLogLevel("")
	require.NoError(t, err)
	assert.Equal(t, logger.Warn, level)
}

func TestStorageErrorWrapsNotFound(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "k")
	var storageErr *models.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "get", storageErr.Op)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGORMTraceStore(t *testing.T) {
	store := newTestSQLite(t)
	traces, err := NewGORMTraceStore(store.DB())
	require.NoError(t, err)

	require.NoError(t, traces.SaveTrace(&TurnTrace{ConversationID: "c1", MessageID: "m1", Event: TraceFailed, Error: "boom", Details: map[string]any{"attempt": 1}}))
	require.NoError(t, traces.SaveTrace(&TurnTrace{ConversationID: "c1", MessageID: "m2", Event: TraceSent}))
	require.NoError(t, traces.SaveTrace(&TurnTrace{ConversationID: "c2", Event: TraceCleared}))

	got, err := traces.GetTracesByConversation("c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, TraceFailed, got[0].Event)
	assert.EqualValues(t, 1, got[0].Details["attempt"])

	byMessage, err := traces.GetTracesByMessage("m2")
	require.NoError(t, err)
	require.Len(t, byMessage, 1)
	assert.Equal(t, TraceSent, byMessage[0].Event)

	require.NoError(t, traces.DeleteTracesByConversation("c1"))
	got, err = traces.GetTracesByConversation("c1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
