package models

import "time"

// Sender identifies who authored a chat message. It never changes after creation.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Status is the lifecycle state of a single message.
// The zero value means settled: nothing in flight and nothing failed.
type Status string

const (
	StatusNone      Status = ""
	StatusSending   Status = "sending"
	StatusStreaming Status = "streaming"
	StatusSent      Status = "sent"
	StatusError     Status = "error"
)

// IsSettled reports whether the message needs no further work.
func (s Status) IsSettled() bool {
	return s == StatusNone || s == StatusSent
}

// Message is one bubble in the conversation view.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status,omitempty"`
}

// MessagePatch carries the mutable fields of a message. Nil fields are left untouched.
type MessagePatch struct {
	Text   *string
	Status *Status
}

// PatchText returns a patch that only replaces the text.
func PatchText(text string) MessagePatch {
	return MessagePatch{Text: &text}
}

// PatchStatus returns a patch that only replaces the status.
func PatchStatus(status Status) MessagePatch {
	return MessagePatch{Status: &status}
}

// PatchTextStatus returns a patch that replaces both text and status.
func PatchTextStatus(text string, status Status) MessagePatch {
	return MessagePatch{Text: &text, Status: &status}
}

// Apply merges the patch into msg.
func (p MessagePatch) Apply(msg *Message) {
	if p.Text != nil {
		msg.Text = *p.Text
	}
	if p.Status != nil {
		msg.Status = *p.Status
	}
}
