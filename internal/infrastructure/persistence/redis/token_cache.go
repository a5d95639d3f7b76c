package redis

import (
	"context"
	"errors"
	"time"

	"github.com/mahan-lms/lms-assistant/internal/infrastructure/external/lms"
)

// TokenCache stores LMS access tokens in Redis. Entries expire with the Redis
// TTL, so a Get never returns a token past its refresh point.
type TokenCache struct {
	cache *Cache
}

var _ lms.TokenCache = (*TokenCache)(nil)

// NewTokenCache creates a token cache on top of c.
func NewTokenCache(c *Cache) *TokenCache {
	return &TokenCache{cache: c}
}

// Get returns the cached token for key.
func (t *TokenCache) Get(ctx context.Context, key string) (lms.AccessToken, bool, error) {
	var token lms.AccessToken
	err := t.cache.Get(ctx, TokenKey(key), &token)
	switch {
	case errors.Is(err, ErrCacheMiss):
		return lms.AccessToken{}, false, nil
	case errors.Is(err, ErrCacheSerialization):
		// A value we cannot read is as good as absent; drop it.
		_ = t.cache.Delete(ctx, TokenKey(key))
		return lms.AccessToken{}, false, nil
	case err != nil:
		return lms.AccessToken{}, false, err
	}
	if token.Token == "" {
		return lms.AccessToken{}, false, nil
	}
	return token, true, nil
}

// Set stores token for ttl. A non-positive ttl stores nothing.
func (t *TokenCache) Set(ctx context.Context, key string, token lms.AccessToken, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	token.Cached = false
	return t.cache.Set(ctx, TokenKey(key), token, ttl)
}

// Delete removes the token for key.
func (t *TokenCache) Delete(ctx context.Context, key string) error {
	return t.cache.Delete(ctx, TokenKey(key))
}
