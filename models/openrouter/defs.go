package openrouter

import "github.com/Desarso/finchat/models"

// OpenRouter API Request/Response types (OpenAI-compatible format)

// Request types

type OpenRouterRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type Message struct {
	Role    string      `json:"role"`              // "system", "user", "assistant"
	Content interface{} `json:"content,omitempty"` // string, or []ContentPart from some providers
}

type ContentPart struct {
	Type string `json:"type"` // "text"
	Text string `json:"text,omitempty"`
}

// Response types

type OpenRouterResponse struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"` // "chat.completion"
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []Choice         `json:"choices"`
	Usage   *Usage           `json:"usage,omitempty"`
	Error   *OpenRouterError `json:"error,omitempty"`
}

type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`       // For non-streaming
	Delta        *Message `json:"delta,omitempty"`         // For streaming
	FinishReason *string  `json:"finish_reason,omitempty"` // "stop", "length", etc.
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Streaming response (Server-Sent Events format)
type StreamResponse struct {
	ID      string           `json:"id"`
	Object  string           `json:"object"` // "chat.completion.chunk"
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []Choice         `json:"choices"`
	Error   *OpenRouterError `json:"error,omitempty"`
}

// Error response
type ErrorResponse struct {
	Error OpenRouterError `json:"error"`
}

type OpenRouterError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Param   interface{} `json:"param,omitempty"`
	Code    interface{} `json:"code,omitempty"` // string on OpenAI, number on OpenRouter
}

// ConvertTurns maps transcript turns to the wire message format.
func ConvertTurns(turns []models.Turn) []Message {
	messages := make([]Message, len(turns))
	for i, turn := range turns {
		messages[i] = Message{
			Role:    string(turn.Role),
			Content: turn.Content,
		}
	}
	return messages
}

// contentText extracts plain text from a message content field.
func contentText(content interface{}) string {
	switch c := content.(type) {
	case string:
		return c
	case []interface{}:
		text := ""
		for _, raw := range c {
			part, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if t, ok := part["text"].(string); ok {
				text += t
			}
		}
		return text
	default:
		return ""
	}
}
