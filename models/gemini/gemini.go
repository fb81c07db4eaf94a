package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Desarso/finchat/models"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

// Gemini_Model completes transcripts through the Gemini API.
type Gemini_Model struct {
	Model  string
	client *genai.Client
}

// New creates a Gemini completer. An empty apiKey lets the SDK read GEMINI_API_KEY / GOOGLE_API_KEY.
func New(ctx context.Context, apiKey, model string) (*Gemini_Model, error) {
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Gemini_Model{Model: model, client: client}, nil
}

// Complete sends the transcript and returns the reply text.
func (g *Gemini_Model) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	system, contents := buildContents(req.Turns)
	result, err := g.client.Models.GenerateContent(ctx, g.model(req), contents, generationConfig(system, req))
	if err != nil {
		return "", classify(ctx, err)
	}
	text := responseText(result)
	if strings.TrimSpace(text) == "" {
		return "", &models.RemoteChatError{Message: "response has empty content"}
	}
	return text, nil
}

// CompleteStream streams the reply, calling onDelta for every text chunk.
func (g *Gemini_Model) CompleteStream(ctx context.Context, req models.CompletionRequest, onDelta func(string)) (string, error) {
	system, contents := buildContents(req.Turns)

	var full strings.Builder
	for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.model(req), contents, generationConfig(system, req)) {
		if err != nil {
			return "", classify(ctx, err)
		}
		text := responseText(chunk)
		if text == "" {
			continue
		}
		full.WriteString(text)
		if onDelta != nil {
			onDelta(text)
		}
	}
	if strings.TrimSpace(full.String()) == "" {
		return "", &models.RemoteChatError{Message: "stream ended without content"}
	}
	return full.String(), nil
}

func (g *Gemini_Model) model(req models.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return g.Model
}

// buildContents splits the transcript into the system instruction and the chat contents.
// Gemini calls the assistant role "model".
func buildContents(turns []models.Turn) (*genai.Content, []*genai.Content) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case models.RoleSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: turn.Content})
		case models.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: turn.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: turn.Content}}})
		}
	}
	return system, contents
}

func generationConfig(system *genai.Content, req models.CompletionRequest) *genai.GenerateContentConfig {
	temperature := float32(req.Temperature)
	return &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       &temperature,
		MaxOutputTokens:   int32(req.MaxTokens),
	}
}

func responseText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return ""
	}
	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			text.WriteString(part.Text)
		}
	}
	return text.String()
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &models.TimeoutError{Err: err}
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &models.RemoteChatError{StatusCode: apiErr.Code, Message: apiErr.Message, Err: err}
	}
	return &models.RemoteChatError{Message: err.Error(), Err: err}
}
