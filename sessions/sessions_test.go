package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Desarso/finchat/chat"
	"github.com/Desarso/finchat/conversation"
	"github.com/Desarso/finchat/drafts"
	"github.com/Desarso/finchat/models"
	"github.com/Desarso/finchat/stores"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCompleter struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
}

func (s *scriptedCompleter) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	if idx < len(s.replies) {
		return s.replies[idx], nil
	}
	return "ok", nil
}

func newTestRegistry(t *testing.T, completer conversation.Completer, kv stores.KVStore) *Registry {
	t.Helper()
	registry, err := NewRegistry(RegistryConfig{
		NewClient: func() chat.Conversation {
			return conversation.NewClient(completer, "You are a finance assistant.", conversation.Options{MaxTokens: 1000, Temperature: 0.7})
		},
		KV:       kv,
		Greeting: "Hello!",
		Metrics:  chat.MustNewMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	t.Cleanup(registry.Stop)
	return registry
}

func TestRegistryMountGetUnmount(t *testing.T) {
	registry := newTestRegistry(t, &scriptedCompleter{}, nil)

	conv := registry.Mount("")
	require.NotEmpty(t, conv.ID)
	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, []string{"Hello!"}, messageTexts(conv.Controller.Messages()))

	got, ok := registry.Get(conv.ID)
	require.True(t, ok)
	assert.Same(t, conv, got)

	assert.True(t, registry.Unmount(conv.ID))
	assert.False(t, registry.Unmount(conv.ID))
	_, ok = registry.Get(conv.ID)
	assert.False(t, ok)
}

func TestRegistryReapIdle(t *testing.T) {
	registry := newTestRegistry(t, &scriptedCompleter{}, nil)
	stale := registry.Mount("")
	fresh := registry.Mount("")

	now := time.Now()
	stale.Touch(now.Add(-2 * DefaultIdleTTL))
	fresh.Touch(now)

	assert.Equal(t, 1, registry.ReapIdle(now))
	_, ok := registry.Get(fresh.ID)
	assert.True(t, ok)
	_, ok = registry.Get(stale.ID)
	assert.False(t, ok)
}

func TestRegistryPruneDrafts(t *testing.T) {
	kv := stores.NewMemoryStore()
	registry := newTestRegistry(t, &scriptedCompleter{}, kv)
	ctx := context.Background()

	conv := registry.Mount("")
	conv.Drafts.Save(ctx, "half-written")
	require.NoError(t, kv.Set(ctx, KeyAuthToken, "token"))

	removed, err := registry.PruneDrafts(ctx, time.Now().Add(DefaultDraftTTL+time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, "", conv.Drafts.Load(ctx))

	token, err := kv.Get(ctx, KeyAuthToken)
	require.NoError(t, err)
	assert.Equal(t, "token", token)
}

type recordingTraces struct {
	mu      sync.Mutex
	saved   []*stores.TurnTrace
	deleted []string
}

func (r *recordingTraces) SaveTrace(trace *stores.TurnTrace) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, trace)
	return nil
}

func (r *recordingTraces) GetTracesByConversation(conversationID string) ([]*stores.TurnTrace, error) {
	return nil, nil
}

func (r *recordingTraces) GetTracesByMessage(messageID string) ([]*stores.TurnTrace, error) {
	return nil, nil
}

func (r *recordingTraces) DeleteTracesByConversation(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, conversationID)
	return nil
}

func TestRegistryUnmountDeletesTraces(t *testing.T) {
	traces := &recordingTraces{}
	registry, err := NewRegistry(RegistryConfig{
		NewClient: func() chat.Conversation { return conversation.NewClient(&scriptedCompleter{}, "p", conversation.Options{}) },
		Traces:    traces,
	})
	require.NoError(t, err)

	conv := registry.Mount("")
	assert.Equal(t, chat.OutcomeSent, conv.Controller.SendMessage(context.Background(), "Hello"))
	require.NotEmpty(t, traces.saved)

	require.True(t, registry.Unmount(conv.ID))
	assert.Equal(t, []string{conv.ID}, traces.deleted)
}

func TestRegistryScreenKeySharesDraft(t *testing.T) {
	registry := newTestRegistry(t, &scriptedCompleter{}, stores.NewMemoryStore())
	ctx := context.Background()

	first := registry.Mount("budget")
	first.Drafts.Save(ctx, "draft text")
	registry.Unmount(first.ID)

	second := registry.Mount("budget")
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "budget", second.ScreenKey)
	assert.Equal(t, "draft text", second.Drafts.Load(ctx))

	other := registry.Mount("")
	assert.Equal(t, other.ID, other.ScreenKey)
	assert.Equal(t, "", other.Drafts.Load(ctx))
}

func TestRegistryStartRejectsBadSchedule(t *testing.T) {
	registry, err := NewRegistry(RegistryConfig{
		NewClient:    func() chat.Conversation { return conversation.NewClient(&scriptedCompleter{}, "p", conversation.Options{}) },
		ReapSchedule: "not a schedule",
	})
	require.NoError(t, err)
	assert.Error(t, registry.Start())
}

// countingKV counts durable reads so cache hits can be observed.
type countingKV struct {
	*stores.MemoryStore
	mu   sync.Mutex
	gets int
}

func (c *countingKV) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.MemoryStore.Get(ctx, key)
}

func TestSessionContextCachesAndInvalidatesOnLogout(t *testing.T) {
	ctx := context.Background()
	kv := &countingKV{MemoryStore: stores.NewMemoryStore()}
	session, err := NewSessionContext(kv, 0)
	require.NoError(t, err)

	token, err := session.AuthToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", token)

	require.NoError(t, session.SetAuthToken(ctx, "abc"))
	require.NoError(t, session.SetUser(ctx, UserProfile{ID: "u1", Email: "a@b.c", Name: "Ada"}))
	require.NoError(t, session.SetBiometricEnabled(ctx, true))

	before := kv.gets
	token, err = session.AuthToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
	assert.Equal(t, before, kv.gets, "written values are served from the cache")

	user, err := session.User(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "Ada", user.Name)

	require.NoError(t, session.Logout(ctx))

	token, err = session.AuthToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", token)
	user, err = session.User(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)

	enabled, err := session.BiometricEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled, "the biometric flag survives logout")
}

func TestSessionContextReadsDurableStoreAfterInvalidate(t *testing.T) {
	ctx := context.Background()
	kv := stores.NewMemoryStore()
	session, err := NewSessionContext(kv, 4)
	require.NoError(t, err)

	require.NoError(t, session.SetAuthToken(ctx, "old"))
	require.NoError(t, kv.Set(ctx, KeyAuthToken, "rotated elsewhere"))

	token, _ := session.AuthToken(ctx)
	assert.Equal(t, "old", token)

	session.Invalidate()
	token, _ = session.AuthToken(ctx)
	assert.Equal(t, "rotated elsewhere", token)
}

func TestSessionContextNeedsStore(t *testing.T) {
	_, err := NewSessionContext(nil, 1)
	assert.Error(t, err)
}

func messageTexts(messages []models.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Text
	}
	return out
}

func itemTexts(items []models.DisplayItem) []string {
	var out []string
	for _, item := range items {
		if item.Kind == models.DisplayMessage {
			out = append(out, item.Message.Text)
		}
	}
	return out
}

func newTestRouter(t *testing.T, registry *Registry) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHTTPSession(registry).RegisterRoutes(router, prometheus.NewRegistry())
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, models.ConversationResponse) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp models.ConversationResponse
	if rec.Body.Len() > 0 {
		json.Unmarshal(rec.Body.Bytes(), &resp)
	}
	return rec, resp
}

func TestHTTPConversationFlow(t *testing.T) {
	registry := newTestRegistry(t, &scriptedCompleter{
		errs:    []error{errors.New("connection reset")},
		replies: []string{"", "Hi there"},
	}, nil)
	router := newTestRouter(t, registry)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/conversations", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	id := resp.ConversationID
	require.NotEmpty(t, id)
	assert.Equal(t, []string{"Hello!"}, itemTexts(resp.Items))
	base := "/api/v1/conversations/" + id

	rec, resp = doJSON(t, router, http.MethodPost, base+"/messages", `{"text":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(chat.OutcomeFailed), resp.Outcome)
	assert.Equal(t, string(chat.StateError), resp.State)
	assert.Equal(t, "Hello", resp.PendingRetryText)
	assert.Equal(t, []string{"Hello!", "Hello", chat.FailureNotice}, itemTexts(resp.Items))

	rec, resp = doJSON(t, router, http.MethodPost, base+"/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(chat.OutcomeSent), resp.Outcome)
	assert.Equal(t, string(chat.StateIdle), resp.State)
	assert.Equal(t, []string{"Hello!", "Hello", "Hello", "Hi there"}, itemTexts(resp.Items))

	rec, resp = doJSON(t, router, http.MethodPost, base+"/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Hello!"}, itemTexts(resp.Items))

	rec, _ = doJSON(t, router, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = doJSON(t, router, http.MethodGet, base+"/messages", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPEmptyMessageIsIgnored(t *testing.T) {
	registry := newTestRegistry(t, &scriptedCompleter{}, nil)
	router := newTestRouter(t, registry)
	conv := registry.Mount("")

	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", `{"text":"   "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(chat.OutcomeIgnored), resp.Outcome)
	assert.Len(t, conv.Controller.Messages(), 1)
}

func TestHTTPRetryBubble(t *testing.T) {
	registry := newTestRegistry(t, &scriptedCompleter{errs: []error{errors.New("boom")}, replies: []string{"", "fixed"}}, nil)
	router := newTestRouter(t, registry)
	conv := registry.Mount("")
	conv.Controller.SendMessage(context.Background(), "Hello")
	messages := conv.Controller.Messages()
	errorID := messages[len(messages)-1].ID

	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages/"+errorID+"/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(chat.OutcomeSent), resp.Outcome)
	assert.Equal(t, []string{"Hello!", "Hello", "Hello", "fixed"}, itemTexts(resp.Items))
}

func TestHTTPDraftEndpoints(t *testing.T) {
	registry := newTestRegistry(t, &scriptedCompleter{}, stores.NewMemoryStore())
	router := newTestRouter(t, registry)
	conv := registry.Mount("")
	base := "/api/v1/conversations/" + conv.ID + "/draft"

	rec, _ := doJSON(t, router, http.MethodPut, base, `{"text":"draft text"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var draft models.DraftResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	assert.Equal(t, "draft text", draft.Text)

	rec, _ = doJSON(t, router, http.MethodGet, base, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	assert.Equal(t, "draft text", draft.Text)

	doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", `{"text":"draft text"}`)
	assert.Equal(t, "", conv.Drafts.Load(context.Background()), "a successful send clears the draft")

	rec, _ = doJSON(t, router, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, strings.HasPrefix(conv.Drafts.Key(), drafts.DefaultKey))
}

func TestHTTPDraftSurvivesRemount(t *testing.T) {
	registry := newTestRegistry(t, &scriptedCompleter{replies: []string{"Sure."}}, stores.NewMemoryStore())
	router := newTestRouter(t, registry)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/conversations", `{"screen_key":"chat"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, resp.Draft)
	first := resp.ConversationID

	rec, _ = doJSON(t, router, http.MethodPut, "/api/v1/conversations/"+first+"/draft", `{"text":"draft text"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, router, http.MethodDelete, "/api/v1/conversations/"+first, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, resp = doJSON(t, router, http.MethodPost, "/api/v1/conversations", `{"screen_key":"chat"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := resp.ConversationID
	assert.NotEqual(t, first, second)
	assert.Equal(t, "draft text", resp.Draft, "the mount response carries the persisted draft")

	var draft models.DraftResponse
	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/conversations/"+second+"/draft", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	assert.Equal(t, "draft text", draft.Text)

	rec, resp = doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+second+"/messages", `{"text":"draft text"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(chat.OutcomeSent), resp.Outcome)

	rec, _ = doJSON(t, router, http.MethodGet, "/api/v1/conversations/"+second+"/draft", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	assert.Equal(t, "", draft.Text, "a successful send clears the draft")
}

type gatedCompleter struct {
	started chan struct{}
	gate    chan struct{}
}

func (g *gatedCompleter) Complete(ctx context.Context, req models.CompletionRequest) (string, error) {
	g.started <- struct{}{}
	select {
	case <-g.gate:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestHTTPSendWhileStreamingIsConflict(t *testing.T) {
	completer := &gatedCompleter{started: make(chan struct{}, 1), gate: make(chan struct{})}
	registry := newTestRegistry(t, completer, nil)
	router := newTestRouter(t, registry)
	conv := registry.Mount("")

	done := make(chan chat.Outcome, 1)
	go func() { done <- conv.Controller.SendMessage(context.Background(), "Hello") }()
	<-completer.started

	rec, resp := doJSON(t, router, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", `{"text":"Again"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(chat.OutcomeBusy), resp.Outcome)
	assert.Equal(t, string(chat.StateStreaming), resp.State)

	close(completer.gate)
	assert.Equal(t, chat.OutcomeSent, <-done)
}

func TestHTTPMountRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(t, newTestRegistry(t, &scriptedCompleter{}, nil))
	rec, _ := doJSON(t, router, http.MethodPost, "/api/v1/conversations", `{"screen_key":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPDraftLeavesErrorState(t *testing.T) {
	registry := newTestRegistry(t, &scriptedCompleter{errs: []error{errors.New("boom")}}, nil)
	router := newTestRouter(t, registry)
	conv := registry.Mount("")
	conv.Controller.SendMessage(context.Background(), "Hello")
	require.Equal(t, chat.StateError, conv.Controller.State())

	doJSON(t, router, http.MethodPut, "/api/v1/conversations/"+conv.ID+"/draft", `{"text":"n"}`)
	assert.Equal(t, chat.StateIdle, conv.Controller.State())
}

func TestHTTPMetricsEndpoint(t *testing.T) {
	registry := newTestRegistry(t, &scriptedCompleter{}, nil)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	promRegistry := prometheus.NewRegistry()
	metrics := chat.MustNewMetrics(promRegistry)
	metrics.ObserveTurn(chat.OutcomeSent, time.Second)
	NewHTTPSession(registry).RegisterRoutes(router, promRegistry)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "finchat_chat_turns_total")
}

func TestWebSocketPushesDisplayList(t *testing.T) {
	registry := newTestRegistry(t, &scriptedCompleter{replies: []string{"Save 20%."}}, nil)
	conv := registry.Mount("")
	server := httptest.NewServer(newTestRouter(t, registry))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/conversations/" + conv.ID + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first models.ConversationResponse
	require.NoError(t, ws.ReadJSON(&first))
	assert.Equal(t, []string{"Hello!"}, itemTexts(first.Items))

	require.NoError(t, ws.WriteJSON(models.Client_Frame{Type: "send", Text: "Tip?"}))

	// Pushes arrive for every change; wait for the one carrying the outcome.
	for {
		var resp models.ConversationResponse
		require.NoError(t, ws.ReadJSON(&resp))
		if resp.Outcome == "" {
			continue
		}
		assert.Equal(t, string(chat.OutcomeSent), resp.Outcome)
		assert.Equal(t, []string{"Hello!", "Tip?", "Save 20%."}, itemTexts(resp.Items))
		break
	}
}
