package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Desarso/finchat/stores"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Durable keys owned by SessionContext.
const (
	KeyAuthToken        = "session:auth_token"
	KeyUser             = "session:user"
	KeyBiometricEnabled = "session:biometric_enabled"
)

const defaultSessionCacheSize = 64

// UserProfile is the logged-in user as returned by the backend.
type UserProfile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Currency string `json:"currency,omitempty"`
}

// SessionContext is the explicit session passed to handlers and backend clients.
// The durable store is the source of truth; an LRU cache sits on top and is
// dropped on Logout.
type SessionContext struct {
	store stores.KVStore
	cache *lru.Cache[string, string]
}

// NewSessionContext creates a session over store. cacheSize <= 0 uses a small default.
func NewSessionContext(store stores.KVStore, cacheSize int) (*SessionContext, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is nil")
	}
	if cacheSize <= 0 {
		cacheSize = defaultSessionCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	return &SessionContext{store: store, cache: cache}, nil
}

// AuthToken returns the bearer token, or "" when logged out.
func (s *SessionContext) AuthToken(ctx context.Context) (string, error) {
	return s.get(ctx, KeyAuthToken)
}

// SetAuthToken persists the bearer token.
func (s *SessionContext) SetAuthToken(ctx context.Context, token string) error {
	return s.set(ctx, KeyAuthToken, token)
}

// User returns the logged-in user, or nil when logged out.
func (s *SessionContext) User(ctx context.Context) (*UserProfile, error) {
	raw, err := s.get(ctx, KeyUser)
	if err != nil || raw == "" {
		return nil, err
	}
	var user UserProfile
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("failed to decode stored user: %w", err)
	}
	return &user, nil
}

// SetUser persists the logged-in user.
func (s *SessionContext) SetUser(ctx context.Context, user UserProfile) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	return s.set(ctx, KeyUser, string(raw))
}

// BiometricEnabled reports the biometric login flag. A missing flag is false.
func (s *SessionContext) BiometricEnabled(ctx context.Context) (bool, error) {
	raw, err := s.get(ctx, KeyBiometricEnabled)
	if err != nil || raw == "" {
		return false, err
	}
	return strconv.ParseBool(raw)
}

// SetBiometricEnabled persists the biometric login flag.
func (s *SessionContext) SetBiometricEnabled(ctx context.Context, enabled bool) error {
	return s.set(ctx, KeyBiometricEnabled, strconv.FormatBool(enabled))
}

// Logout removes the token and user from durable storage and drops the cache.
// The biometric flag is a device preference and survives.
func (s *SessionContext) Logout(ctx context.Context) error {
	defer s.cache.Purge()
	for _, key := range []string{KeyAuthToken, KeyUser} {
		if err := s.store.Remove(ctx, key); err != nil {
			return fmt.Errorf("failed to log out: %w", err)
		}
	}
	return nil
}

// Invalidate drops cached values so the next read goes to durable storage.
func (s *SessionContext) Invalidate() {
	s.cache.Purge()
}

func (s *SessionContext) get(ctx context.Context, key string) (string, error) {
	if value, ok := s.cache.Get(key); ok {
		return value, nil
	}
	value, err := s.store.Get(ctx, key)
	if err != nil {
		if stores.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	s.cache.Add(key, value)
	return value, nil
}

func (s *SessionContext) set(ctx context.Context, key, value string) error {
	if err := s.store.Set(ctx, key, value); err != nil {
		s.cache.Remove(key)
		return err
	}
	s.cache.Add(key, value)
	return nil
}
