package drafts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Desarso/finchat/chat"
	"github.com/Desarso/finchat/conversation"
	"github.com/Desarso/finchat/models"
	"github.com/Desarso/finchat/stores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	stores.MemoryStore
}

var errDisk = errors.New("disk full")

func (f *failingStore) Get(ctx context.Context, key string) (string, error) {
	return "", &stores.StorageError{Op: "get", Key: key, Err: errDisk}
}

func (f *failingStore) Set(ctx context.Context, key, value string) error {
	return &stores.StorageError{Op: "set", Key: key, Err: errDisk}
}

func (f *failingStore) Remove(ctx context.Context, key string) error {
	return &stores.StorageError{Op: "remove", Key: key, Err: errDisk}
}

func (f *failingStore) PruneOlderThan(ctx context.Context, prefix string, cutoff time.Time) (int64, error) {
	return 0, errDisk
}

func TestDraftSurvivesRemount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drafts.sqlite")
	ctx := context.Background()

	store, err := stores.NewSQLiteStoreSimple(path)
	require.NoError(t, err)
	New(store).Save(ctx, "draft text")
	require.NoError(t, store.Close())

	reopened, err := stores.NewSQLiteStoreSimple(path)
	require.NoError(t, err)
	defer reopened.Close()

	d := New(reopened)
	assert.Equal(t, "draft text", d.Load(ctx))

	d.Clear(ctx)
	assert.Equal(t, "", d.Load(ctx))
}

func TestSaveBlankRemovesKey(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()
	d := New(store)

	d.Save(ctx, "something")
	d.Save(ctx, "   ")

	_, err := store.Get(ctx, DefaultKey)
	assert.True(t, stores.IsNotFound(err), "blank drafts are deleted, not stored")
	assert.Equal(t, "", d.Load(ctx))
}

func TestStorageFailuresAreSwallowed(t *testing.T) {
	ctx := context.Background()
	d := New(&failingStore{})

	assert.NotPanics(t, func() {
		d.Save(ctx, "text")
		d.Clear(ctx)
	})
	assert.Equal(t, "", d.Load(ctx))
}

func TestPerConversationKeys(t *testing.T) {
	ctx := context.Background()
	store := stores.NewMemoryStore()
	a := NewWithKey(store, DefaultKey+":a")
	b := NewWithKey(store, DefaultKey+":b")

	a.Save(ctx, "for a")
	assert.Equal(t, "for a", a.Load(ctx))
	assert.Equal(t, "", b.Load(ctx))
}

type echoCompleter struct{}

func (echoCompleter) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	return "noted", nil
}

func TestDraftClearedAfterSuccessfulSend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "drafts.sqlite")

	store, err := stores.NewSQLiteStoreSimple(path)
	require.NoError(t, err)
	New(store).Save(ctx, "draft text")
	require.NoError(t, store.Close())

	// remount
	store, err = stores.NewSQLiteStoreSimple(path)
	require.NoError(t, err)
	defer store.Close()
	d := New(store)
	require.Equal(t, "draft text", d.Load(ctx))

	client := conversation.NewClient(echoCompleter{}, "system", conversation.Options{})
	ctrl := chat.NewController(chat.NewStore(), client, chat.Config{ConversationID: "c", Drafts: d})
	require.Equal(t, chat.OutcomeSent, ctrl.SendMessage(ctx, d.Load(ctx)))

	assert.Equal(t, "", d.Load(ctx))
}
