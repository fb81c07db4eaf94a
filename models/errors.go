package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyMessage rejects text that is empty after trimming.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrMessageNotFound is returned when a message id is not in the store.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotFound is returned by key/value stores on a missing key.
	ErrNotFound = errors.New("key not found")
)

// RemoteChatError is any failure of the chat completion call.
type RemoteChatError struct {
	StatusCode int // 0 for transport-level failures
	Message    string
	Err        error
}

func (e *RemoteChatError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chat completion failed (status %d): %s", e.StatusCode, e.Message)
	}
	return "chat completion failed: " + e.Message
}

func (e *RemoteChatError) Unwrap() error {
	return e.Err
}

// TimeoutError reports that the chat completion call exceeded its deadline.
type TimeoutError struct {
	After time.Duration
	Err   error
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("chat completion timed out after %s", e.After)
	}
	return "chat completion timed out"
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// StorageError wraps a failure of the durable key/value store.
type StorageError struct {
	Op  string // "get", "set", "remove", "prune"
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
