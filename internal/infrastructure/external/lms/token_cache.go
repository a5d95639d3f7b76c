package lms

import (
	"context"
	"sync"
	"time"

	"github.com/mahan-lms/lms-assistant/pkg/timeutil"
)

// TokenCache stores access tokens keyed by Credentials.CacheKey.
// Implementations must treat a missing or expired entry as a miss.
type TokenCache interface {
	Get(ctx context.Context, key string) (AccessToken, bool, error)
	Set(ctx context.Context, key string, token AccessToken, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryTokenCache is an in-process TokenCache.
type MemoryTokenCache struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	entries map[string]memoryEntry
}

type memoryEntry struct {
	token     AccessToken
	expiresAt time.Time
}

// NewMemoryTokenCache creates an empty cache. A nil clock uses the wall clock.
func NewMemoryTokenCache(clock timeutil.Clock) *MemoryTokenCache {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &MemoryTokenCache{clock: clock, entries: make(map[string]memoryEntry)}
}

func (c *MemoryTokenCache) Get(_ context.Context, key string) (AccessToken, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return AccessToken{}, false, nil
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return AccessToken{}, false, nil
	}
	return e.token, true, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, key string, token AccessToken, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{token: token, expiresAt: c.clock.Now().Add(ttl)}
	return nil
}

func (c *MemoryTokenCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryTokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
