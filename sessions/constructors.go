package sessions

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// NewWebSocketSession creates a live view session for one conversation
func NewWebSocketSession(conv *Conversation, conn *websocket.Conn) *WebSocketSession {
	logger := log.New(os.Stdout, fmt.Sprintf("[WS %s] ", conv.ID), log.LstdFlags)
	writer := &WebSocketWriter{
		Conn:   conn,
		Logger: logger,
	}

	return &WebSocketSession{
		Conversation: conv,
		Writer:       writer,
		Logger:       logger,
		Now:          time.Now,
	}
}

// NewHTTPSession creates the HTTP surface over a registry
func NewHTTPSession(registry *Registry) *HTTPSession {
	logger := log.New(os.Stdout, "[HTTP] ", log.LstdFlags)

	return &HTTPSession{
		Registry: registry,
		Logger:   logger,
		Now:      time.Now,
	}
}
