package sessions

import (
	"log"
	"sync"
	"time"

	"github.com/Desarso/finchat/chat"
	"github.com/Desarso/finchat/drafts"
	"github.com/Desarso/finchat/models"
	"github.com/gorilla/websocket"
)

// ClientFactory creates the remote side of a new conversation.
type ClientFactory func() chat.Conversation

// Conversation is one mounted chat screen: its controller and its draft.
type Conversation struct {
	ID         string
	ScreenKey  string // the draft is persisted under this key
	Controller *chat.Controller
	Drafts     *drafts.Drafts

	mu       sync.Mutex
	lastUsed time.Time
}

// Touch marks the conversation as used.
func (c *Conversation) Touch(now time.Time) {
	c.mu.Lock()
	c.lastUsed = now
	c.mu.Unlock()
}

// LastUsed returns the last Touch time.
func (c *Conversation) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// Snapshot builds the response describing the conversation right now.
func (c *Conversation) Snapshot(outcome chat.Outcome, now time.Time) models.ConversationResponse {
	ctrl := c.Controller
	return models.ConversationResponse{
		ConversationID:   c.ID,
		State:            string(ctrl.State()),
		PendingRetryText: ctrl.PendingRetryText(),
		Outcome:          string(outcome),
		Items:            chat.GroupForDisplay(ctrl.Messages(), now),
		GeneratedAt:      now,
	}
}

// WebSocketWriter handles all WebSocket communication
type WebSocketWriter struct {
	Conn   *websocket.Conn
	Logger *log.Logger
	mu     sync.Mutex
}

func (w *WebSocketWriter) WriteResponse(resp interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(resp)
}

func (w *WebSocketWriter) WriteError(message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Conn.WriteJSON(map[string]string{"type": "error", "error": message})
}

// HTTPSession serves the conversation endpoints.
type HTTPSession struct {
	Registry *Registry
	Logger   *log.Logger
	Now      func() time.Time
}

// WebSocketSession pushes the grouped display list of one conversation on every change
// and accepts the same operations as the HTTP surface as client frames.
type WebSocketSession struct {
	Conversation *Conversation
	Writer       *WebSocketWriter
	Logger       *log.Logger
	Now          func() time.Time
}
