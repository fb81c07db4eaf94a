package models

// Role tags an entry in the transcript sent to the remote model.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged entry of the running transcript.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is everything a transport needs to produce one assistant reply.
// Turns always start with the system prompt.
type CompletionRequest struct {
	Model       string
	Turns       []Turn
	MaxTokens   int
	Temperature float64
}

// Mount_Request is the optional body of a mount. ScreenKey names the chat screen so its
// draft survives unmounting.
type Mount_Request struct {
	ScreenKey string `json:"screen_key"`
}

// Send_Request is the body accepted by the HTTP surface when the user submits text.
type Send_Request struct {
	Text string `json:"text"`
}

// Draft_Request is the body accepted when the input box changes.
type Draft_Request struct {
	Text string `json:"text"`
}

// Client_Frame is one operation sent by the live view over the websocket.
// Type is one of "send", "retry", "retry_bubble", "cancel", "reset_error", "clear", "draft".
type Client_Frame struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}
