package lms

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - Token Bucket implementation
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter implements the Token Bucket algorithm to control request rate.
// The router may fan several operations out at once; the bucket keeps the
// combined rate within what the LMS tolerates.
type RateLimiter struct {
	mu sync.Mutex

	maxTokens   float64       // Maximum tokens in the bucket
	refillRate  float64       // Tokens added per second
	baseRate    float64       // Configured refill rate
	tokens      float64       // Current token count
	lastRefill  time.Time     // Last time tokens were added
	blockedTill time.Time     // Set by a 429 Retry-After
	slowTill    time.Time     // refillRate stays reduced until then
	waitTimeout time.Duration // Maximum time to wait for a token
	now         func() time.Time
}

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the maximum sustained request rate
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests that can be made in a burst
	BurstSize int

	// WaitTimeout is the maximum time to wait for a token
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns defaults sized for interactive use.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		WaitTimeout:       10 * time.Second,
	}
}

// NewRateLimiter creates a new RateLimiter with the given configuration.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = DefaultRateLimiterConfig().RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	now := time.Now()
	return &RateLimiter{
		maxTokens:   float64(config.BurstSize),
		refillRate:  config.RequestsPerSecond,
		baseRate:    config.RequestsPerSecond,
		tokens:      float64(config.BurstSize), // Start with full bucket
		lastRefill:  now,
		waitTimeout: config.WaitTimeout,
		now:         time.Now,
	}
}

// Penalty applied by RecordRateLimitHit.
const (
	rateLimitSlowdown = 0.8
	rateLimitFloor    = 0.1 // of baseRate
	rateLimitRecovery = 30 * time.Second
)

// RateLimitError is returned when no token became available in time.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// Allow blocks until a token is available, the wait timeout passes, or ctx is done.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	deadline := rl.now().Add(rl.waitTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		waitTime, ok := rl.tryAcquire()
		if ok {
			return nil
		}

		if rl.now().Add(waitTime).After(deadline) {
			return &RateLimitError{RetryAfter: waitTime}
		}

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAllow attempts to get permission for a request without blocking.
func (rl *RateLimiter) TryAllow() bool {
	_, ok := rl.tryAcquire()
	return ok
}

// tryAcquire returns (waitTime, success). If success is false, waitTime
// indicates how long to wait before retrying.
func (rl *RateLimiter) tryAcquire() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.blockedTill) {
		return rl.blockedTill.Sub(now), false
	}

	rl.refillTokens(now)
	if rl.refillRate < rl.baseRate && !now.Before(rl.slowTill) {
		rl.refillRate = rl.baseRate
	}

	if rl.tokens < 1.0 {
		tokensNeeded := 1.0 - rl.tokens
		return time.Duration(tokensNeeded / rl.refillRate * float64(time.Second)), false
	}

	rl.tokens--
	return 0, true
}

// refillTokens adds tokens based on time elapsed since last refill.
// Must be called with lock held.
func (rl *RateLimiter) refillTokens(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// RecordRateLimitHit records that the LMS answered 429. The bucket is drained,
// no request is let through before retryAfter, and the refill rate drops by a
// fifth until the LMS has been quiet for rateLimitRecovery past the block.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = 0
	rl.refillRate = max(rl.refillRate*rateLimitSlowdown, rl.baseRate*rateLimitFloor)
	if retryAfter > 0 {
		rl.blockedTill = now.Add(retryAfter)
	}
	rl.slowTill = now.Add(max(retryAfter, 0) + rateLimitRecovery)
}

// RateLimiterStatus is a snapshot of the limiter.
type RateLimiterStatus struct {
	AvailableTokens float64   `json:"available_tokens"`
	MaxTokens       float64   `json:"max_tokens"`
	RefillRate      float64   `json:"refill_rate"`
	BlockedUntil    time.Time `json:"blocked_until"`
}

// Status returns the current status of the rate limiter.
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillTokens(rl.now())

	return RateLimiterStatus{
		AvailableTokens: rl.tokens,
		MaxTokens:       rl.maxTokens,
		RefillRate:      rl.refillRate,
		BlockedUntil:    rl.blockedTill,
	}
}
