package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/Desarso/finchat/models"
)

// Client performs chat completions against OpenRouter or any OpenAI-compatible endpoint.
// It is stateless: the transcript is owned by the caller.
type Client struct {
	Model      string       // Model identifier (e.g., "openai/gpt-4o", "anthropic/claude-3-opus")
	SiteURL    string       // Optional: Your site URL for OpenRouter rankings
	SiteName   string       // Optional: Your site name for OpenRouter rankings
	BaseURL    string       // Optional: Custom API base URL (defaults to OpenRouter)
	APIKey     string       // Optional: explicit key, takes precedence over APIKeyEnv
	APIKeyEnv  string       // Optional: Environment variable name for API key (defaults to OPENROUTER_API_KEY)
	HTTPClient *http.Client // Optional: defaults to http.DefaultClient
}

// Complete sends the transcript and returns the assistant reply text.
func (o *Client) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	body, err := o.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", o.transportError(ctx, fmt.Errorf("failed to read response body: %w", err))
	}

	var response OpenRouterResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return "", &models.RemoteChatError{Message: "malformed response body", Err: err}
	}
	if response.Error != nil && response.Error.Message != "" {
		return "", &models.RemoteChatError{Message: response.Error.Message}
	}
	if len(response.Choices) == 0 || response.Choices[0].Message == nil {
		return "", &models.RemoteChatError{Message: "response has no choices"}
	}

	text := contentText(response.Choices[0].Message.Content)
	if strings.TrimSpace(text) == "" {
		return "", &models.RemoteChatError{Message: "response has empty content"}
	}
	return text, nil
}

// CompleteStream requests a streamed completion and calls onDelta for every text chunk.
// It returns the concatenated reply once the stream ends.
func (o *Client) CompleteStream(ctx context.Context, req models.CompletionRequest, onDelta func(string)) (string, error) {
	body, err := o.post(ctx, req, true)
	if err != nil {
		return "", err
	}
	defer body.Close()

	var full strings.Builder
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", o.transportError(ctx, fmt.Errorf("error reading stream: %w", err))
		}

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "data: ") {
			data := strings.TrimPrefix(trimmed, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk StreamResponse
			if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr != nil {
				log.Printf("Warning: Failed to unmarshal stream chunk: %v, data: %s", jsonErr, data)
			} else {
				if chunk.Error != nil {
					return "", &models.RemoteChatError{Message: chunk.Error.Message}
				}
				for _, choice := range chunk.Choices {
					if choice.Delta == nil {
						continue
					}
					if text := contentText(choice.Delta.Content); text != "" {
						full.WriteString(text)
						if onDelta != nil {
							onDelta(text)
						}
					}
				}
			}
		}

		if err == io.EOF {
			break
		}
	}

	if ctx.Err() != nil {
		return "", o.transportError(ctx, ctx.Err())
	}
	if strings.TrimSpace(full.String()) == "" {
		return "", &models.RemoteChatError{Message: "stream ended without content"}
	}
	return full.String(), nil
}

// post issues the request and returns the body of a 2xx response.
func (o *Client) post(ctx context.Context, req models.CompletionRequest, stream bool) (io.ReadCloser, error) {
	jsonBytes, err := json.Marshal(o.createRequest(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	// Use custom base URL if provided, otherwise use OpenRouter
	baseURL := o.BaseURL
	if baseURL == "" {
		baseURL = OpenRouterBaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	o.setHeaders(httpReq)

	client := o.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, o.transportError(ctx, fmt.Errorf("HTTP request failed: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &models.RemoteChatError{StatusCode: resp.StatusCode, Message: errResp.Error.Message}
		}
		return nil, &models.RemoteChatError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("status %d, body: %s", resp.StatusCode, string(body))}
	}

	return resp.Body, nil
}

// createRequest builds the request body. max_tokens and temperature are always sent.
func (o *Client) createRequest(req models.CompletionRequest, stream bool) OpenRouterRequest {
	model := req.Model
	if model == "" {
		model = o.Model
	}
	if model == "" {
		model = DefaultModel
	}

	maxTokens := req.MaxTokens
	temperature := req.Temperature
	return OpenRouterRequest{
		Model:       model,
		Messages:    ConvertTurns(req.Turns),
		Stream:      stream,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}
}

// setHeaders sets the required headers for OpenRouter API requests
func (o *Client) setHeaders(req *http.Request) {
	apiKey := o.APIKey
	if apiKey == "" {
		// Use custom API key environment variable if provided, otherwise use OPENROUTER_API_KEY
		apiKeyEnv := o.APIKeyEnv
		if apiKeyEnv == "" {
			apiKeyEnv = "OPENROUTER_API_KEY"
		}
		apiKey = os.Getenv(apiKeyEnv)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	// Optional headers for OpenRouter
	if o.SiteURL != "" {
		req.Header.Set("HTTP-Referer", o.SiteURL)
	}
	if o.SiteName != "" {
		req.Header.Set("X-Title", o.SiteName)
	}
}

// transportError classifies a failure that happened before a complete response arrived.
func (o *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &models.TimeoutError{Err: err}
	}
	return &models.RemoteChatError{Message: err.Error(), Err: err}
}
