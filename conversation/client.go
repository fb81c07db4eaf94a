// Package conversation holds the running role-tagged transcript of one chat and performs
// remote completion calls with the whole transcript as context.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/Desarso/finchat/models"
	"github.com/google/uuid"
)

// Completer turns a transcript into one assistant reply.
type Completer interface {
	Complete(ctx context.Context, req models.CompletionRequest) (string, error)
}

// StreamCompleter is a Completer that can also deliver the reply incrementally.
type StreamCompleter interface {
	Completer
	CompleteStream(ctx context.Context, req models.CompletionRequest, onDelta func(string)) (string, error)
}

// Options are the generation parameters sent with every request.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

type entry struct {
	turn     models.Turn
	exchange string
}

// Client owns the transcript of a single conversation.
// At most one Send runs at a time; a second caller waits for the first to finish.
type Client struct {
	completer    Completer
	systemPrompt string
	opts         Options

	inflight chan struct{}

	mu      sync.Mutex
	entries []entry
}

// NewClient creates a client whose transcript starts with systemPrompt.
func NewClient(completer Completer, systemPrompt string, opts Options) *Client {
	return &Client{
		completer:    completer,
		systemPrompt: systemPrompt,
		opts:         opts,
		inflight:     make(chan struct{}, 1),
	}
}

// Send appends the user text, calls the remote model with the full transcript and
// records the reply. On failure the user entry is rolled back.
func (c *Client) Send(ctx context.Context, text string) (models.Reply, error) {
	return c.send(ctx, text, nil)
}

// SendStream is Send with incremental delivery. Completers that cannot stream
// deliver the whole reply as a single delta.
func (c *Client) SendStream(ctx context.Context, text string, onDelta func(string)) (models.Reply, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	return c.send(ctx, text, onDelta)
}

func (c *Client) send(ctx context.Context, text string, onDelta func(string)) (models.Reply, error) {
	if strings.TrimSpace(text) == "" {
		return models.Reply{}, models.ErrEmptyMessage
	}

	select {
	case c.inflight <- struct{}{}:
	case <-ctx.Done():
		return models.Reply{}, wrapRemote(ctx, ctx.Err())
	}
	defer func() { <-c.inflight }()

	exchange := uuid.NewString()
	c.mu.Lock()
	c.entries = append(c.entries, entry{turn: models.Turn{Role: models.RoleUser, Content: text}, exchange: exchange})
	req := models.CompletionRequest{
		Model:       c.opts.Model,
		Turns:       SanitizeTranscript(c.turnsLocked()),
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	}
	c.mu.Unlock()

	var (
		reply string
		err   error
	)
	switch sc, ok := c.completer.(StreamCompleter); {
	case onDelta != nil && ok:
		reply, err = sc.CompleteStream(ctx, req, onDelta)
	default:
		reply, err = c.completer.Complete(ctx, req)
		if err == nil && onDelta != nil {
			onDelta(reply)
		}
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && strings.TrimSpace(reply) == "" {
		err = &models.RemoteChatError{Message: "empty reply"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.removeExchangeLocked(exchange)
		return models.Reply{}, wrapRemote(ctx, err)
	}
	c.entries = append(c.entries, entry{turn: models.Turn{Role: models.RoleAssistant, Content: reply}, exchange: exchange})
	return models.Reply{Text: reply, ExchangeID: exchange}, nil
}

// Discard removes every transcript entry of an exchange. It reports whether anything was removed.
func (c *Client) Discard(exchangeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeExchangeLocked(exchangeID)
}

// Clear resets the transcript back to just the system prompt.
func (c *Client) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// History returns the user and assistant turns. The system prompt is not part of it.
func (c *Client) History() []models.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := make([]models.Turn, len(c.entries))
	for i, e := range c.entries {
		history[i] = e.turn
	}
	return history
}

func (c *Client) turnsLocked() []models.Turn {
	turns := make([]models.Turn, 0, len(c.entries)+1)
	turns = append(turns, models.Turn{Role: models.RoleSystem, Content: c.systemPrompt})
	for _, e := range c.entries {
		turns = append(turns, e.turn)
	}
	return turns
}

func (c *Client) removeExchangeLocked(exchange string) bool {
	kept := c.entries[:0]
	removed := false
	for _, e := range c.entries {
		if e.exchange == exchange {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept
	return removed
}

func wrapRemote(ctx context.Context, err error) error {
	var remote *models.RemoteChatError
	var timeout *models.TimeoutError
	if errors.As(err, &remote) || errors.As(err, &timeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &models.TimeoutError{Err: err}
	}
	return &models.RemoteChatError{Message: err.Error(), Err: err}
}
