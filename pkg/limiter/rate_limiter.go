package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds per-source rate limit settings
type RateLimitConfig struct {
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
}

// DefaultRateLimitConfig allows 10 fetches per second per source
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RatePerSecond: 10, Burst: 1}
}

// RateLimiter manages one token bucket per data source
type RateLimiter struct {
	config    RateLimitConfig
	overrides map[string]RateLimitConfig
	limiters  map[string]*rate.Limiter
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		config:    config,
		overrides: make(map[string]RateLimitConfig),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// SetLimit overrides the limit of one source
func (rl *RateLimiter) SetLimit(source string, config RateLimitConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.overrides[source] = config
	delete(rl.limiters, source)
}

// GetLimiter returns or creates the limiter for a source. A non-positive
// rate means unlimited.
func (rl *RateLimiter) GetLimiter(source string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.limiters[source]; exists {
		return limiter
	}

	config := rl.config
	if override, ok := rl.overrides[source]; ok {
		config = override
	}

	limit := rate.Inf
	if config.RatePerSecond > 0 {
		limit = rate.Limit(config.RatePerSecond)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}

	limiter := rate.NewLimiter(limit, burst)
	rl.limiters[source] = limiter
	return limiter
}

// Wait waits for the rate limiter to allow a fetch
func (rl *RateLimiter) Wait(ctx context.Context, source string) error {
	if err := rl.GetLimiter(source).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	return nil
}

// Allow checks if a fetch is allowed without waiting
func (rl *RateLimiter) Allow(source string) bool {
	return rl.GetLimiter(source).Allow()
}

// AllowN checks if n fetches are allowed without waiting
func (rl *RateLimiter) AllowN(source string, n int) bool {
	return rl.GetLimiter(source).AllowN(time.Now(), n)
}

// GetStats returns rate limiter statistics for a source
func (rl *RateLimiter) GetStats(source string) map[string]interface{} {
	limiter := rl.GetLimiter(source)

	return map[string]interface{}{
		"source": source,
		"limit":  float64(limiter.Limit()),
		"burst":  limiter.Burst(),
		"tokens": limiter.Tokens(),
	}
}

// Reset resets the rate limiter for a source
func (rl *RateLimiter) Reset(source string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.limiters, source)
}

// ResetAll resets all rate limiters
func (rl *RateLimiter) ResetAll() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.limiters = make(map[string]*rate.Limiter)
}
