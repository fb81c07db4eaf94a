package finchat

import (
	"github.com/Desarso/finchat/chat"
	"github.com/Desarso/finchat/conversation"
	"github.com/Desarso/finchat/sessions"
	"github.com/gorilla/websocket"
)

// Re-export session and chat types so hosts only need the root package
type HTTPSession = sessions.HTTPSession
type WebSocketSession = sessions.WebSocketSession
type WebSocketWriter = sessions.WebSocketWriter
type SessionContext = sessions.SessionContext
type Registry = sessions.Registry
type Controller = chat.Controller
type Outcome = chat.Outcome

// Re-export constructor functions
func NewHTTPSession(registry *Registry) *HTTPSession {
	return sessions.NewHTTPSession(registry)
}

func NewWebSocketSession(conv *sessions.Conversation, conn *websocket.Conn) *WebSocketSession {
	return sessions.NewWebSocketSession(conv, conn)
}

// NewDirectController creates a standalone controller with an in-memory store, for hosts
// that drive a single conversation without the registry (terminals, tests).
func NewDirectController(completer conversation.Completer, cfg *Config) *Controller {
	return chat.NewController(chat.NewStore(), NewConversationClient(completer, cfg), chat.Config{
		ConversationID: "direct",
		Greeting:       cfg.Greeting,
		Greet:          true,
		Timeout:        cfg.Timeout,
		Stream:         cfg.Stream,
	})
}
