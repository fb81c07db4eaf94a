package finchat

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Desarso/finchat/chat"
	"github.com/Desarso/finchat/sessions"
	"github.com/Desarso/finchat/stores"
	"github.com/joho/godotenv"
)

// SystemPrompt scopes the assistant to personal finance. It is fixed for every conversation.
const SystemPrompt = "You are a helpful personal finance assistant inside a budgeting app. " +
	"Answer questions about budgeting, saving, spending, debt and general money management. " +
	"Keep answers short and practical. Politely decline questions unrelated to personal finance, " +
	"and never claim to give licensed financial, legal or tax advice."

// Config holds configuration for the assistant
type Config struct {
	Provider    string // openrouter, openai, groq, cerebras or gemini
	Model       string
	BaseURL     string
	APIKey      string // falls back to the provider's own environment variable
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Stream      bool

	StoreType     string // sqlite, postgres or memory
	StoreDSN      string
	StoreLogLevel string // silent, error, warn or info

	Addr       string
	BackendURL string // finance backend; empty disables the backend client
	IdleTTL    time.Duration
	DraftTTL   time.Duration
	Greeting   string
}

// NewConfig creates a configuration with default values
func NewConfig() *Config {
	return &Config{
		Provider:    "openrouter",
		MaxTokens:   1000,
		Temperature: 0.7,
		Timeout:     chat.DefaultTimeout,
		StoreType:   "sqlite",
		StoreDSN:    "finchat.sqlite",
		Addr:        ":8080",
		IdleTTL:     sessions.DefaultIdleTTL,
		DraftTTL:    sessions.DefaultDraftTTL,
		Greeting:    chat.DefaultGreeting,
	}
}

// LoadConfig reads .env (if present) and FINCHAT_* environment variables over the defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("[CONFIG] No .env file loaded: %v", err)
	}

	cfg := NewConfig()
	cfg.Provider = envString("FINCHAT_PROVIDER", cfg.Provider)
	cfg.Model = envString("FINCHAT_MODEL", cfg.Model)
	cfg.BaseURL = envString("FINCHAT_BASE_URL", cfg.BaseURL)
	cfg.APIKey = envString("FINCHAT_API_KEY", cfg.APIKey)
	cfg.StoreType = envString("FINCHAT_STORE", cfg.StoreType)
	cfg.StoreDSN = envString("FINCHAT_STORE_DSN", cfg.StoreDSN)
	cfg.StoreLogLevel = envString("FINCHAT_STORE_LOG_LEVEL", cfg.StoreLogLevel)
	cfg.Addr = envString("FINCHAT_ADDR", cfg.Addr)
	cfg.BackendURL = envString("FINCHAT_BACKEND_URL", cfg.BackendURL)
	cfg.Greeting = envString("FINCHAT_GREETING", cfg.Greeting)

	var err error
	if cfg.MaxTokens, err = envInt("FINCHAT_MAX_TOKENS", cfg.MaxTokens); err != nil {
		return nil, err
	}
	if cfg.Temperature, err = envFloat("FINCHAT_TEMPERATURE", cfg.Temperature); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = envDuration("FINCHAT_TIMEOUT", cfg.Timeout); err != nil {
		return nil, err
	}
	if cfg.IdleTTL, err = envDuration("FINCHAT_IDLE_TTL", cfg.IdleTTL); err != nil {
		return nil, err
	}
	if cfg.DraftTTL, err = envDuration("FINCHAT_DRAFT_TTL", cfg.DraftTTL); err != nil {
		return nil, err
	}
	if cfg.Stream, err = envBool("FINCHAT_STREAM", cfg.Stream); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WithProvider sets the completion provider
func (c *Config) WithProvider(provider string) *Config {
	c.Provider = provider
	return c
}

// WithModel sets the model name for the configuration
func (c *Config) WithModel(model string) *Config {
	c.Model = model
	return c
}

// WithTimeout sets the remote call timeout
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithStream enables incremental replies
func (c *Config) WithStream(stream bool) *Config {
	c.Stream = stream
	return c
}

// WithSQLiteStore sets a SQLite store with the specified database path
func (c *Config) WithSQLiteStore(dbPath string) *Config {
	c.StoreType = "sqlite"
	c.StoreDSN = dbPath
	return c
}

// WithPostgresStore sets a PostgreSQL store with the specified connection parameters
func (c *Config) WithPostgresStore(host, user, password, dbname string, port int) *Config {
	c.StoreType = "postgres"
	c.StoreDSN = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)
	return c
}

// WithMemoryStore keeps drafts and session data in memory only
func (c *Config) WithMemoryStore() *Config {
	c.StoreType = "memory"
	c.StoreDSN = ""
	return c
}

// StoreConfig converts the store settings for stores.NewStore
func (c *Config) StoreConfig() *stores.StoreConfig {
	config := stores.NewStoreConfig(c.StoreType, c.StoreDSN)
	if c.StoreLogLevel != "" {
		config.WithOption(stores.OptionLogLevel, c.StoreLogLevel)
	}
	return config
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return value, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return value, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return value, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return value, nil
}
