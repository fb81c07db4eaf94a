// Package chat holds the message store, the conversation controller state machine and the
// display grouping of one chat screen.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Desarso/finchat/models"
	"github.com/Desarso/finchat/stores"
)

// State is the coarse conversation status.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateError     State = "error"
)

// Outcome reports what a controller operation did. Remote failures are reported here
// instead of being returned as errors.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeIgnored   Outcome = "ignored" // empty text, nothing to retry, unknown bubble
	OutcomeBusy      Outcome = "busy"    // a reply is already streaming
)

const (
	// FailureNotice replaces the placeholder text of a failed reply.
	FailureNotice = "Sorry, an error occurred. Please try again."
	// DefaultGreeting is the single message of a fresh conversation.
	DefaultGreeting = "Hi! I'm your finance assistant. Ask me about budgeting, saving or your spending."
	// DefaultTimeout bounds one remote call.
	DefaultTimeout = 30 * time.Second
)

// Conversation is the remote side of the controller; conversation.Client implements it.
type Conversation interface {
	Send(ctx context.Context, text string) (models.Reply, error)
	SendStream(ctx context.Context, text string, onDelta func(string)) (models.Reply, error)
	Discard(exchangeID string) bool
	Clear()
}

// DraftClearer removes the persisted input draft after a successful send.
type DraftClearer interface {
	Clear(ctx context.Context)
}

// Config holds the optional collaborators and settings of a Controller.
type Config struct {
	ConversationID string
	Greeting       string        // defaults to DefaultGreeting
	Greet          bool          // seed an empty store with the greeting on construction
	Timeout        time.Duration // defaults to DefaultTimeout; negative disables it
	Stream         bool          // write reply deltas into the placeholder while it streams
	Drafts         DraftClearer
	Traces         stores.TraceStore
	Metrics        *Metrics
	Logger         *log.Logger
}

// Controller binds user intent to store mutations and remote calls for one conversation.
type Controller struct {
	id           string
	store        *Store
	conversation Conversation
	greeting     string
	timeout      time.Duration
	stream       bool
	drafts       DraftClearer
	traces       stores.TraceStore
	metrics      *Metrics
	logger       *log.Logger

	mu               sync.Mutex
	state            State
	pendingRetryText string
	errorMessageID   string // assistant bubble of the most recent failure
	lastErr          error

	// generation changes whenever the in-flight turn is abandoned; a reply that
	// comes back under an older generation is discarded.
	generation    uint64
	placeholderID string
	cancelTurn    context.CancelFunc
}

// NewController creates a controller over store.
func NewController(store *Store, conversation Conversation, cfg Config) *Controller {
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, fmt.Sprintf("[CHAT %s] ", cfg.ConversationID), log.LstdFlags)
	}

	c := &Controller{
		id:           cfg.ConversationID,
		store:        store,
		conversation: conversation,
		greeting:     cfg.Greeting,
		timeout:      cfg.Timeout,
		stream:       cfg.Stream,
		drafts:       cfg.Drafts,
		traces:       cfg.Traces,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		state:        StateIdle,
	}
	if cfg.Greet && store.Len() == 0 {
		store.ResetTo([]models.Message{c.greetingMessage()})
	}
	return c
}

// ID returns the conversation id.
func (c *Controller) ID() string { return c.id }

// Store returns the message store the controller writes to.
func (c *Controller) Store() *Store { return c.store }

// SendMessage submits text and blocks until the reply settles, fails or the turn is cancelled.
// Whitespace-only text is ignored without any state change. A second call while a reply is
// streaming is rejected with OutcomeBusy. Sending from the error state clears the error.
func (c *Controller) SendMessage(ctx context.Context, text string) Outcome {
	if strings.TrimSpace(text) == "" {
		return OutcomeIgnored
	}

	c.mu.Lock()
	if c.state == StateStreaming {
		c.mu.Unlock()
		return OutcomeBusy
	}
	return c.sendLocked(ctx, text)
}

// Retry resubmits the text of the most recent failure. The stale error bubble is removed first.
func (c *Controller) Retry(ctx context.Context) Outcome {
	c.mu.Lock()
	if c.state != StateError || c.pendingRetryText == "" {
		c.mu.Unlock()
		return OutcomeIgnored
	}

	text := c.pendingRetryText
	failedID := c.errorMessageID
	if failedID != "" {
		c.store.RemoveByID(failedID)
	}
	c.pendingRetryText = ""
	c.errorMessageID = ""
	c.metrics.IncRetry("last")
	c.recordTrace(stores.TraceRetried, failedID, nil, 0)

	return c.sendLocked(ctx, text)
}

// RetryBubble resubmits the user text that preceded the error bubble with the given id.
// The error bubble is removed first.
func (c *Controller) RetryBubble(ctx context.Context, messageID string) Outcome {
	c.mu.Lock()
	if c.state == StateStreaming {
		c.mu.Unlock()
		return OutcomeBusy
	}

	text, ok := c.retryTextFor(messageID)
	if !ok {
		c.mu.Unlock()
		return OutcomeIgnored
	}

	c.store.RemoveByID(messageID)
	if messageID == c.errorMessageID {
		c.pendingRetryText = ""
		c.errorMessageID = ""
	}
	c.metrics.IncRetry("bubble")
	c.recordTrace(stores.TraceRetried, messageID, nil, 0)

	return c.sendLocked(ctx, text)
}

// ResetError leaves the error state without resubmitting. It reports whether anything changed.
func (c *Controller) ResetError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateError {
		return false
	}
	c.state = StateIdle
	c.pendingRetryText = ""
	c.errorMessageID = ""
	return true
}

// Cancel abandons the streaming reply: the placeholder is removed and the state returns to idle.
// The request context is cancelled, and a reply that still arrives is dropped.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStreaming {
		return false
	}

	placeholderID := c.placeholderID
	c.abandonTurnLocked()
	c.store.RemoveByID(placeholderID)
	c.state = StateIdle
	c.recordTrace(stores.TraceCancelled, placeholderID, nil, 0)
	c.logger.Printf("Cancelled in-flight reply %s", placeholderID)
	return true
}

// ClearHistory resets the store to a fresh greeting, clears the transcript and any retry state.
func (c *Controller) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abandonTurnLocked()
	c.store.ResetTo([]models.Message{c.greetingMessage()})
	c.conversation.Clear()
	c.state = StateIdle
	c.pendingRetryText = ""
	c.errorMessageID = ""
	c.lastErr = nil
	c.recordTrace(stores.TraceCleared, "", nil, 0)
}

// Close abandons any in-flight turn. The controller must not be used afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStreaming {
		c.store.RemoveByID(c.placeholderID)
		c.abandonTurnLocked()
		c.state = StateIdle
	}
}

// State returns the conversation status.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PendingRetryText returns the text Retry would resubmit, or "".
func (c *Controller) PendingRetryText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingRetryText
}

// LastError returns the most recent remote failure, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Messages returns a copy of the message list.
func (c *Controller) Messages() []models.Message {
	return c.store.Snapshot()
}

// sendLocked runs one turn. It must be called with c.mu held and releases it.
func (c *Controller) sendLocked(ctx context.Context, text string) Outcome {
	c.state = StateStreaming
	c.pendingRetryText = ""
	c.errorMessageID = ""
	c.lastErr = nil
	c.generation++
	gen := c.generation

	c.store.Append(models.Message{Text: text, Sender: models.SenderUser})
	placeholderID := c.store.Append(models.Message{Sender: models.SenderAssistant, Status: models.StatusStreaming})
	c.placeholderID = placeholderID

	turnCtx, cancel := c.turnContext(ctx)
	c.cancelTurn = cancel
	c.mu.Unlock()

	c.metrics.IncInflight()
	defer c.metrics.DecInflight()

	start := time.Now()
	var (
		reply models.Reply
		err   error
	)
	if c.stream {
		var partial strings.Builder
		reply, err = c.conversation.SendStream(turnCtx, text, func(delta string) {
			partial.WriteString(delta)
			c.applyDelta(gen, placeholderID, partial.String())
		})
	} else {
		reply, err = c.conversation.Send(turnCtx, text)
	}
	cancel()
	elapsed := time.Since(start)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		if err == nil {
			c.conversation.Discard(reply.ExchangeID)
		}
		c.metrics.ObserveTurn(OutcomeCancelled, elapsed)
		return OutcomeCancelled
	}
	c.placeholderID = ""
	c.cancelTurn = nil

	if err != nil {
		var timeout *models.TimeoutError
		if errors.As(err, &timeout) && timeout.After == 0 && c.timeout > 0 {
			timeout.After = c.timeout
		}
		c.store.Update(placeholderID, models.PatchTextStatus(FailureNotice, models.StatusError))
		c.state = StateError
		c.pendingRetryText = text
		c.errorMessageID = placeholderID
		c.lastErr = err
		c.recordTrace(stores.TraceFailed, placeholderID, err, elapsed)
		c.mu.Unlock()

		c.logger.Printf("Reply failed after %s: %v", elapsed.Round(time.Millisecond), err)
		c.metrics.ObserveTurn(OutcomeFailed, elapsed)
		return OutcomeFailed
	}

	c.store.Update(placeholderID, models.PatchTextStatus(reply.Text, models.StatusSent))
	c.state = StateIdle
	c.recordTrace(stores.TraceSent, placeholderID, nil, elapsed)
	c.mu.Unlock()

	if c.drafts != nil {
		c.drafts.Clear(ctx)
	}
	c.metrics.ObserveTurn(OutcomeSent, elapsed)
	return OutcomeSent
}

func (c *Controller) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// applyDelta writes partial reply text into the placeholder unless the turn was abandoned.
func (c *Controller) applyDelta(gen uint64, placeholderID, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.store.Update(placeholderID, models.PatchText(text))
}

// abandonTurnLocked invalidates the in-flight turn, if any.
func (c *Controller) abandonTurnLocked() {
	c.generation++
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
	c.placeholderID = ""
}

// retryTextFor finds the user text immediately preceding an error bubble.
func (c *Controller) retryTextFor(messageID string) (string, bool) {
	messages := c.store.Snapshot()
	for i, msg := range messages {
		if msg.ID != messageID {
			continue
		}
		if msg.Status != models.StatusError {
			return "", false
		}
		for j := i - 1; j >= 0; j-- {
			if messages[j].Sender == models.SenderUser {
				return messages[j].Text, true
			}
		}
		return "", false
	}
	return "", false
}

func (c *Controller) greetingMessage() models.Message {
	return models.Message{Text: c.greeting, Sender: models.SenderAssistant}
}

func (c *Controller) recordTrace(event, messageID string, err error, elapsed time.Duration) {
	if c.traces == nil {
		return
	}
	trace := &stores.TurnTrace{
		ConversationID: c.id,
		MessageID:      messageID,
		Event:          event,
		Timestamp:      time.Now().UnixMilli(),
		DurationMS:     elapsed.Milliseconds(),
	}
	if err != nil {
		trace.Error = err.Error()
	}
	if saveErr := c.traces.SaveTrace(trace); saveErr != nil {
		c.logger.Printf("Warning: failed to save %s trace: %v", event, saveErr)
	}
}
