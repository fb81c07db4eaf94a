package finchat

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/Desarso/finchat/backend"
	"github.com/Desarso/finchat/chat"
	"github.com/Desarso/finchat/conversation"
	"github.com/Desarso/finchat/models/gemini"
	"github.com/Desarso/finchat/models/openrouter"
	"github.com/Desarso/finchat/sessions"
	"github.com/Desarso/finchat/stores"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

// Assistant wires storage, the remote model and the conversation registry together.
type Assistant struct {
	Config    *Config
	Completer conversation.Completer
	KV        stores.KVStore
	Traces    stores.TraceStore
	Session   *sessions.SessionContext
	Backend   *backend.Client // nil unless Config.BackendURL is set
	Registry  *sessions.Registry
	Metrics   *chat.Metrics
	Gatherer  prometheus.Gatherer

	logger *log.Logger
}

var _ backend.TokenSource = (*sessions.SessionContext)(nil)

// gormBacked is implemented by the sqlite and postgres stores.
type gormBacked interface {
	DB() *gorm.DB
}

// NewCompleter builds the remote model client named by cfg.Provider.
func NewCompleter(ctx context.Context, cfg *Config) (conversation.Completer, error) {
	if strings.EqualFold(cfg.Provider, "gemini") {
		model, err := gemini.New(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return model, nil
	}

	client, err := openrouter.NewFromProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.Model != "" {
		client.Model = cfg.Model
	}
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	client.APIKey = cfg.APIKey
	return client, nil
}

// NewConversationClient creates the transcript holder for one conversation.
func NewConversationClient(completer conversation.Completer, cfg *Config) *conversation.Client {
	return conversation.NewClient(completer, SystemPrompt, conversation.Options{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	})
}

// NewAssistant opens the configured store and builds everything a server needs.
// Metrics are registered with reg, or with the default Prometheus registry when reg is nil.
func NewAssistant(ctx context.Context, cfg *Config, reg *prometheus.Registry) (*Assistant, error) {
	logger := log.New(os.Stdout, "[FINCHAT] ", log.LstdFlags)

	completer, err := NewCompleter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create completer: %w", err)
	}

	kv, err := stores.NewStore(cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var traces stores.TraceStore
	if backed, ok := kv.(gormBacked); ok {
		gormTraces, err := stores.NewGORMTraceStore(backed.DB())
		if err != nil {
			logger.Printf("Warning: turn traces disabled: %v", err)
		} else {
			traces = gormTraces
		}
	}

	var (
		metrics  *chat.Metrics
		gatherer prometheus.Gatherer
	)
	if reg != nil {
		metrics = chat.MustNewMetrics(reg)
		gatherer = reg
	} else {
		metrics = chat.DefaultMetrics()
		gatherer = prometheus.DefaultGatherer
	}

	session, err := sessions.NewSessionContext(kv, 0)
	if err != nil {
		kv.Close()
		return nil, err
	}

	registry, err := sessions.NewRegistry(sessions.RegistryConfig{
		NewClient: func() chat.Conversation { return NewConversationClient(completer, cfg) },
		KV:        kv,
		Traces:    traces,
		Metrics:   metrics,
		Greeting:  cfg.Greeting,
		Timeout:   cfg.Timeout,
		Stream:    cfg.Stream,
		IdleTTL:   cfg.IdleTTL,
		DraftTTL:  cfg.DraftTTL,
	})
	if err != nil {
		kv.Close()
		return nil, err
	}

	var api *backend.Client
	if cfg.BackendURL != "" {
		api = backend.New(cfg.BackendURL, session)
	}

	logger.Printf("Using provider %s with %s store", cfg.Provider, cfg.StoreType)
	return &Assistant{
		Config:    cfg,
		Completer: completer,
		KV:        kv,
		Traces:    traces,
		Session:   session,
		Backend:   api,
		Registry:  registry,
		Metrics:   metrics,
		Gatherer:  gatherer,
		logger:    logger,
	}, nil
}

// Router returns a gin engine serving the conversation API and /metrics.
func (a *Assistant) Router() *gin.Engine {
	router := gin.Default()
	sessions.NewHTTPSession(a.Registry).RegisterRoutes(router, a.Gatherer)
	return router
}

// Run starts the background jobs and serves HTTP on cfg.Addr until the server fails.
func (a *Assistant) Run() error {
	if err := a.Registry.Start(); err != nil {
		return err
	}
	defer a.Registry.Stop()

	a.logger.Printf("Listening on %s", a.Config.Addr)
	return a.Router().Run(a.Config.Addr)
}

// Close stops the registry and closes the store.
func (a *Assistant) Close() error {
	a.Registry.Stop()
	return a.KV.Close()
}
