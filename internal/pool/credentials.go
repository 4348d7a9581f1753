// Package pool owns the account pool: selection, health, and the pieces of
// runtime state an account accrues between requests.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaycc/cloudcode-gateway/internal/auth"
	"github.com/relaycc/cloudcode-gateway/internal/utils"
	"github.com/relaycc/cloudcode-gateway/pkg/redis"
)

// CachedToken holds an access token cached in memory.
type CachedToken struct {
	Token     string
	ExpiresAt time.Time
}

// Credentials resolves access tokens for accounts. It caches tokens in
// memory and, when a Redis-backed account store is configured, mirrors
// them there so a freshly started replica doesn't have to mint a brand
// new token for every account before serving its first request. Token
// caching is not rate-limit state and is fine to persist.
type Credentials struct {
	mu           sync.RWMutex
	accountStore *redis.AccountStore
	tokenCache   map[string]*CachedToken
}

// NewCredentials creates a credentials resolver. accountStore may be nil.
func NewCredentials(accountStore *redis.AccountStore) *Credentials {
	return &Credentials{
		accountStore: accountStore,
		tokenCache:   make(map[string]*CachedToken),
	}
}

// GetAccessToken returns a usable access token for acc, refreshing it if
// the cached copy is missing or stale.
func (c *Credentials) GetAccessToken(ctx context.Context, acc *redis.Account) (string, error) {
	if acc == nil {
		return "", fmt.Errorf("account is nil")
	}

	c.mu.RLock()
	cached, ok := c.tokenCache[acc.Email]
	c.mu.RUnlock()

	if ok && cached.ExpiresAt.After(time.Now()) {
		return cached.Token, nil
	}

	if c.accountStore != nil && c.accountStore.IsAvailable() {
		cachedToken, err := c.accountStore.GetCachedToken(ctx, acc.Email)
		if err == nil && cachedToken != nil && cachedToken.AccessToken != "" {
			if time.Since(cachedToken.ExtractedAt) < 5*time.Minute {
				c.cacheToken(acc.Email, cachedToken.AccessToken, 5*time.Minute)
				return cachedToken.AccessToken, nil
			}
		}
	}

	token, err := c.getFreshToken(ctx, acc)
	if err != nil {
		return "", err
	}

	c.cacheToken(acc.Email, token, 5*time.Minute)

	if c.accountStore != nil && c.accountStore.IsAvailable() {
		if err := c.accountStore.SetCachedToken(ctx, acc.Email, token, 5*time.Minute); err != nil {
			utils.Debug("failed to mirror access token for %s to redis: %v", acc.Email, err)
		}
	}

	return token, nil
}

func (c *Credentials) getFreshToken(ctx context.Context, acc *redis.Account) (string, error) {
	switch acc.Source {
	case "oauth":
		if acc.RefreshToken == "" {
			return "", fmt.Errorf("no refresh token for account %s", acc.Email)
		}
		result, err := auth.RefreshAccessToken(ctx, acc.RefreshToken)
		if err != nil {
			return "", fmt.Errorf("refresh token for %s: %w", acc.Email, err)
		}
		return result.AccessToken, nil

	case "manual":
		if acc.APIKey == "" {
			return "", fmt.Errorf("no API key for manual account %s", acc.Email)
		}
		return acc.APIKey, nil

	default:
		return "", fmt.Errorf("unsupported account source %q for %s", acc.Source, acc.Email)
	}
}

func (c *Credentials) cacheToken(email, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenCache[email] = &CachedToken{
		Token:     token,
		ExpiresAt: time.Now().Add(ttl),
	}
}

// ClearCache drops every cached token.
func (c *Credentials) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenCache = make(map[string]*CachedToken)
}

// ClearCacheForAccount drops the cached token for a single account, both
// in memory and, if configured, in Redis.
func (c *Credentials) ClearCacheForAccount(ctx context.Context, email string) {
	c.mu.Lock()
	delete(c.tokenCache, email)
	c.mu.Unlock()

	if c.accountStore != nil && c.accountStore.IsAvailable() {
		_ = c.accountStore.ClearTokenCache(ctx, email)
	}
}

// ClearProjectCacheForAccount drops the cached project id for a single
// account. Project ids are normally discovered once and persisted on the
// account itself, but the store also mirrors the lookup so a cache flush
// forces rediscovery on the next request.
func (c *Credentials) ClearProjectCacheForAccount(ctx context.Context, email string) {
	if c.accountStore != nil && c.accountStore.IsAvailable() {
		_ = c.accountStore.ClearProjectCache(ctx, email)
	}
}
