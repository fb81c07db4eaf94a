// Package drafts persists the unsent chat input so it survives a restart.
// Storage failures are logged and swallowed: the feature degrades to "no draft persisted".
package drafts

import (
	"context"
	"log"
	"strings"

	"github.com/Desarso/finchat/stores"
)

// DefaultKey is the fixed storage key of the chat draft.
const DefaultKey = "chat_draft"

// Drafts loads, saves and clears the draft under one key.
type Drafts struct {
	store stores.KVStore
	key   string
}

// New returns drafts stored under DefaultKey.
func New(store stores.KVStore) *Drafts {
	return NewWithKey(store, DefaultKey)
}

// NewWithKey returns drafts stored under key. Servers hosting several conversations
// use one key per conversation, all starting with DefaultKey so they can be pruned together.
func NewWithKey(store stores.KVStore, key string) *Drafts {
	return &Drafts{store: store, key: key}
}

// Key returns the storage key.
func (d *Drafts) Key() string { return d.key }

// Load returns the persisted draft, or "" when there is none or storage failed.
func (d *Drafts) Load(ctx context.Context) string {
	text, err := d.store.Get(ctx, d.key)
	if err != nil {
		if !stores.IsNotFound(err) {
			log.Printf("[DRAFTS] Failed to load draft %q: %v", d.key, err)
		}
		return ""
	}
	return text
}

// Save writes text, or removes the key when text is blank. Empty strings are never stored.
func (d *Drafts) Save(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		d.Clear(ctx)
		return
	}
	if err := d.store.Set(ctx, d.key, text); err != nil {
		log.Printf("[DRAFTS] Failed to save draft %q: %v", d.key, err)
	}
}

// Clear removes the draft.
func (d *Drafts) Clear(ctx context.Context) {
	if err := d.store.Remove(ctx, d.key); err != nil {
		log.Printf("[DRAFTS] Failed to clear draft %q: %v", d.key, err)
	}
}
