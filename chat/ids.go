package chat

import "github.com/google/uuid"

// NewMessageID returns a time-ordered unique id (UUIDv7: millisecond timestamp plus random bits).
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
