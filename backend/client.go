// Package backend is a thin JSON client for the finance REST API (accounts, transactions,
// categories, currencies). The chat subsystem does not depend on it.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Resource paths of the finance API.
const (
	Accounts     = "/accounts"
	Transactions = "/transactions"
	Categories   = "/categories"
	Currencies   = "/currencies"
)

// TokenSource supplies the bearer token; sessions.SessionContext implements it.
type TokenSource interface {
	AuthToken(ctx context.Context) (string, error)
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend request failed (status %d): %s", e.StatusCode, e.Message)
}

// Client performs authenticated JSON requests against BaseURL.
type Client struct {
	BaseURL    string
	Tokens     TokenSource  // Optional: requests are sent without Authorization when nil
	HTTPClient *http.Client // Optional: defaults to a client with a 30s timeout
}

// New creates a client for baseURL.
func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Tokens:     tokens,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Get decodes the response of GET path into out.
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the response into out (which may be nil).
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Put sends body as JSON and decodes the response into out (which may be nil).
func (c *Client) Put(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

// Delete issues DELETE path.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil)
}

// Do performs one request. A nil body sends no payload; a nil out discards the response.
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Tokens != nil {
		token, err := c.Tokens.AuthToken(ctx)
		if err != nil {
			return fmt.Errorf("failed to read auth token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage prefers {"message": ...} or {"error": ...} over the raw body.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
