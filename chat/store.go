package chat

import (
	"sync"
	"time"

	"github.com/Desarso/finchat/models"
)

// Listener receives a copy of the message list after every change.
// It runs synchronously on the mutating goroutine and must not call back into the Controller.
type Listener func(messages []models.Message)

// Store is the ordered message list of one conversation.
// Messages are only appended; their text and status can be patched in place.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message
	now      func() time.Time
	newID    func() string

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces NewMessageID.
func WithIDGenerator(newID func() string) StoreOption {
	return func(s *Store) { s.newID = newID }
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		now:       time.Now,
		newID:     NewMessageID,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append assigns a fresh id and timestamp to msg, inserts it at the end and returns the id.
// Timestamps never go backwards, so list order is also timestamp order.
func (s *Store) Append(msg models.Message) string {
	s.mu.Lock()
	msg.ID = s.newID()
	msg.Timestamp = s.nextTimestampLocked()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.notify()
	return msg.ID
}

// Update merges patch into the message with the given id.
func (s *Store) Update(id string, patch models.MessagePatch) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.ErrMessageNotFound
	}
	patch.Apply(&s.messages[idx])
	s.mu.Unlock()

	s.notify()
	return nil
}

// RemoveByID removes exactly one message.
func (s *Store) RemoveByID(id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return models.ErrMessageNotFound
	}
	s.messages = append(s.messages[:idx:idx], s.messages[idx+1:]...)
	s.mu.Unlock()

	s.notify()
	return nil
}

// ResetTo replaces the whole list. Messages without an id or timestamp get fresh ones.
func (s *Store) ResetTo(initial []models.Message) {
	s.mu.Lock()
	s.messages = make([]models.Message, 0, len(initial))
	for _, msg := range initial {
		if msg.ID == "" {
			msg.ID = s.newID()
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = s.nextTimestampLocked()
		}
		s.messages = append(s.messages, msg)
	}
	s.mu.Unlock()

	s.notify()
}

// Get returns the message with the given id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.Message{}, false
	}
	return s.messages[idx], true
}

// Snapshot returns a copy of the list.
func (s *Store) Snapshot() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// CountByStatus returns how many messages currently have the status.
func (s *Store) CountByStatus(status models.Status) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, msg := range s.messages {
		if msg.Status == status {
			n++
		}
	}
	return n
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify() {
	s.listenersMu.Lock()
	if len(s.listeners) == 0 {
		s.listenersMu.Unlock()
		return
	}
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.Unlock()

	snapshot := s.Snapshot()
	for _, l := range listeners {
		l(snapshot)
	}
}

func (s *Store) snapshotLocked() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) indexLocked(id string) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) nextTimestampLocked() time.Time {
	ts := s.now()
	if n := len(s.messages); n > 0 && ts.Before(s.messages[n-1].Timestamp) {
		ts = s.messages[n-1].Timestamp
	}
	return ts
}
