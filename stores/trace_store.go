package stores

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Turn trace events recorded by the conversation controller.
const (
	TraceSent      = "sent"
	TraceFailed    = "failed"
	TraceCancelled = "cancelled"
	TraceRetried   = "retried"
	TraceCleared   = "cleared"
)

// TurnTrace represents a single turn event stored in the database
// Indexed by conversation_id and message_id for efficient retrieval
type TurnTrace struct {
	ID             uint           `gorm:"primarykey" json:"-"`
	CreatedAt      time.Time      `json:"-"`
	ConversationID string         `gorm:"index:idx_turn_conv;not null" json:"conversation_id"`
	MessageID      string         `gorm:"index:idx_turn_msg" json:"message_id,omitempty"`
	Event          string         `gorm:"not null" json:"event"` // sent, failed, cancelled, retried, cleared
	Error          string         `gorm:"type:text" json:"error,omitempty"`
	DetailsJSON    string         `gorm:"type:text" json:"-"`         // Stored as JSON string
	Details        map[string]any `gorm:"-" json:"details,omitempty"` // Not stored, computed from DetailsJSON
	Timestamp      int64          `gorm:"not null" json:"timestamp"`
	DurationMS     int64          `json:"duration_ms,omitempty"`
}

// BeforeSave marshals Details to DetailsJSON
func (t *TurnTrace) BeforeSave(tx *gorm.DB) error {
	if t.Details != nil {
		data, err := json.Marshal(t.Details)
		if err != nil {
			return err
		}
		t.DetailsJSON = string(data)
	}
	return nil
}

// AfterFind unmarshals DetailsJSON to Details
func (t *TurnTrace) AfterFind(tx *gorm.DB) error {
	if t.DetailsJSON != "" {
		return json.Unmarshal([]byte(t.DetailsJSON), &t.Details)
	}
	return nil
}

// TraceStore interface for turn trace persistence operations
type TraceStore interface {
	// SaveTrace saves a single trace event
	SaveTrace(trace *TurnTrace) error

	// GetTracesByConversation retrieves all traces for a conversation
	GetTracesByConversation(conversationID string) ([]*TurnTrace, error)

	// GetTracesByMessage retrieves all traces for a specific assistant message
	GetTracesByMessage(messageID string) ([]*TurnTrace, error)

	// DeleteTracesByConversation removes all traces for a conversation
	DeleteTracesByConversation(conversationID string) error
}

// GORMTraceStore implements TraceStore for SQLite/PostgreSQL via GORM
type GORMTraceStore struct {
	db *gorm.DB
}

// NewGORMTraceStore creates a trace store from an existing GORM database connection
func NewGORMTraceStore(db *gorm.DB) (*GORMTraceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	// Auto-migrate the trace table
	if err := db.AutoMigrate(&TurnTrace{}); err != nil {
		return nil, fmt.Errorf("failed to migrate turn_traces table: %w", err)
	}

	return &GORMTraceStore{db: db}, nil
}

// SaveTrace saves a single trace event
func (s *GORMTraceStore) SaveTrace(trace *TurnTrace) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	if trace.Timestamp == 0 {
		trace.Timestamp = time.Now().UnixMilli()
	}
	return s.db.Create(trace).Error
}

// GetTracesByConversation retrieves all traces for a conversation, ordered by timestamp
func (s *GORMTraceStore) GetTracesByConversation(conversationID string) ([]*TurnTrace, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var traces []*TurnTrace
	err := s.db.Where("conversation_id = ?", conversationID).
		Order("timestamp ASC, id ASC").
		Find(&traces).Error

	return traces, err
}

// GetTracesByMessage retrieves all traces for a specific assistant message
func (s *GORMTraceStore) GetTracesByMessage(messageID string) ([]*TurnTrace, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var traces []*TurnTrace
	err := s.db.Where("message_id = ?", messageID).
		Order("timestamp ASC, id ASC").
		Find(&traces).Error

	return traces, err
}

// DeleteTracesByConversation removes all traces for a conversation
func (s *GORMTraceStore) DeleteTracesByConversation(conversationID string) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Where("conversation_id = ?", conversationID).Delete(&TurnTrace{}).Error
}
