package models

import "time"

// ConversationResponse is returned by the conversation endpoints of the HTTP surface.
// Items is the grouped display list, not the raw message store.
type ConversationResponse struct {
	ConversationID   string        `json:"conversation_id"`
	State            string        `json:"state"`                        // "idle", "streaming", "error"
	PendingRetryText string        `json:"pending_retry_text,omitempty"` // set only while State is "error"
	Outcome          string        `json:"outcome,omitempty"`            // result of the operation that produced this response
	Items            []DisplayItem `json:"items"`
	Draft            string        `json:"draft,omitempty"` // persisted draft, returned when a screen is mounted
	GeneratedAt      time.Time     `json:"generated_at"`
}

// DraftResponse is returned by the draft endpoints.
type DraftResponse struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}
