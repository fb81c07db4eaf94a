package sessions

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Desarso/finchat/chat"
	"github.com/Desarso/finchat/drafts"
	"github.com/Desarso/finchat/models"
	"github.com/Desarso/finchat/stores"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	DefaultIdleTTL       = 30 * time.Minute
	DefaultDraftTTL      = 30 * 24 * time.Hour
	DefaultReapSchedule  = "@every 1m"
	DefaultPruneSchedule = "@daily"
)

// RegistryConfig holds everything needed to mount a conversation.
type RegistryConfig struct {
	NewClient ClientFactory
	KV        stores.KVStore
	Traces    stores.TraceStore // optional
	Metrics   *chat.Metrics     // optional

	Greeting string
	Timeout  time.Duration
	Stream   bool

	IdleTTL       time.Duration // unused conversations are unmounted after this long
	DraftTTL      time.Duration // drafts not written for this long are pruned
	ReapSchedule  string        // cron schedule for the idle reaper
	PruneSchedule string        // cron schedule for draft pruning
}

// Registry holds the mounted conversations of a server, one controller each.
type Registry struct {
	cfg    RegistryConfig
	logger *log.Logger
	now    func() time.Time

	mu            sync.RWMutex
	conversations map[string]*Conversation

	cron *cron.Cron
}

// NewRegistry creates a registry. Call Start to run the background jobs.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.NewClient == nil {
		return nil, fmt.Errorf("registry needs a client factory")
	}
	if cfg.KV == nil {
		cfg.KV = stores.NewMemoryStore()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.DraftTTL <= 0 {
		cfg.DraftTTL = DefaultDraftTTL
	}
	if cfg.ReapSchedule == "" {
		cfg.ReapSchedule = DefaultReapSchedule
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = DefaultPruneSchedule
	}

	return &Registry{
		cfg:           cfg,
		logger:        log.New(os.Stdout, "[REGISTRY] ", log.LstdFlags),
		now:           time.Now,
		conversations: make(map[string]*Conversation),
	}, nil
}

// Mount creates a fresh conversation seeded with the greeting. Conversations mounted with the
// same screenKey share one persisted draft, so a screen that is closed and reopened (or a
// restarted server) gets its unsent text back. An empty screenKey keys the draft by the
// conversation id.
func (r *Registry) Mount(screenKey string) *Conversation {
	id := uuid.NewString()
	screenKey = strings.TrimSpace(screenKey)
	if screenKey == "" {
		screenKey = id
	}
	conv := &Conversation{
		ID:        id,
		ScreenKey: screenKey,
		Drafts:    drafts.NewWithKey(r.cfg.KV, drafts.DefaultKey+":"+screenKey),
	}
	conv.Controller = chat.NewController(chat.NewStore(), r.cfg.NewClient(), chat.Config{
		ConversationID: id,
		Greeting:       r.cfg.Greeting,
		Greet:          true,
		Timeout:        r.cfg.Timeout,
		Stream:         r.cfg.Stream,
		Drafts:         conv.Drafts,
		Traces:         r.cfg.Traces,
		Metrics:        r.cfg.Metrics,
	})
	conv.Touch(r.now())

	r.mu.Lock()
	r.conversations[id] = conv
	r.mu.Unlock()

	r.logger.Printf("Mounted conversation %s for screen %s", id, screenKey)
	return conv
}

// Get returns a mounted conversation and marks it used.
func (r *Registry) Get(id string) (*Conversation, bool) {
	r.mu.RLock()
	conv, ok := r.conversations[id]
	r.mu.RUnlock()
	if ok {
		conv.Touch(r.now())
	}
	return conv, ok
}

// Unmount destroys a conversation's in-memory history and its turn traces.
// Its draft stays persisted.
func (r *Registry) Unmount(id string) bool {
	r.mu.Lock()
	conv, ok := r.conversations[id]
	delete(r.conversations, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	conv.Controller.Close()
	if r.cfg.Traces != nil {
		if err := r.cfg.Traces.DeleteTracesByConversation(id); err != nil {
			r.logger.Printf("Warning: failed to delete traces of %s: %v", id, err)
		}
	}
	r.logger.Printf("Unmounted conversation %s", id)
	return true
}

// Len returns the number of mounted conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conversations)
}

// ReapIdle unmounts conversations unused for longer than the idle TTL.
// Conversations with a reply in flight are kept.
func (r *Registry) ReapIdle(now time.Time) int {
	r.mu.RLock()
	var idle []string
	for id, conv := range r.conversations {
		if now.Sub(conv.LastUsed()) > r.cfg.IdleTTL && conv.Controller.State() != chat.StateStreaming {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range idle {
		r.Unmount(id)
	}
	return len(idle)
}

// PruneDrafts removes drafts that were not written within the draft TTL.
func (r *Registry) PruneDrafts(ctx context.Context, now time.Time) (int64, error) {
	return r.cfg.KV.PruneOlderThan(ctx, drafts.DefaultKey, now.Add(-r.cfg.DraftTTL))
}

// Start schedules the idle reaper and the draft pruning job.
func (r *Registry) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(r.cfg.ReapSchedule, func() {
		if n := r.ReapIdle(r.now()); n > 0 {
			r.logger.Printf("Reaped %d idle conversations", n)
		}
	}); err != nil {
		return fmt.Errorf("invalid reap schedule %q: %w", r.cfg.ReapSchedule, err)
	}
	if _, err := c.AddFunc(r.cfg.PruneSchedule, func() {
		n, err := r.PruneDrafts(context.Background(), r.now())
		if err != nil {
			r.logger.Printf("Draft pruning failed: %v", err)
			return
		}
		if n > 0 {
			r.logger.Printf("Pruned %d stale drafts", n)
		}
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", r.cfg.PruneSchedule, err)
	}

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()
	c.Start()
	return nil
}

// Stop halts the background jobs and unmounts every conversation.
func (r *Registry) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	ids := make([]string, 0, len(r.conversations))
	for id := range r.conversations {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, id := range ids {
		r.Unmount(id)
	}
}

// ErrConversationNotFound is returned for an unknown conversation id.
var ErrConversationNotFound = fmt.Errorf("conversation not found: %w", models.ErrNotFound)
