package limiter

import (
	"context"
	"fmt"
)

// ProtectionConfig bundles the settings of every protection mechanism
type ProtectionConfig struct {
	Retry          *RetryConfig
	RateLimit      RateLimitConfig
	CircuitBreaker *CircuitBreakerConfig
	OnStateChange  StateChangeFunc
}

// DefaultProtectionConfig returns the default protection settings
func DefaultProtectionConfig() ProtectionConfig {
	return ProtectionConfig{
		Retry:          DefaultRetryConfig(),
		RateLimit:      DefaultRateLimitConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
	}
}

// ProtectionManager integrates rate limiting, retries, and circuit breaker
// around external data source fetches.
type ProtectionManager struct {
	rateLimiter    *RateLimiter
	retryManager   *RetryManager
	circuitBreaker *CircuitBreakerManager
}

// NewProtectionManager creates a new protection manager
func NewProtectionManager(config ProtectionConfig) *ProtectionManager {
	return &ProtectionManager{
		rateLimiter:    NewRateLimiter(config.RateLimit),
		retryManager:   NewRetryManager(config.Retry),
		circuitBreaker: NewCircuitBreakerManager(config.CircuitBreaker, config.OnStateChange),
	}
}

// ExecuteWithProtection runs fn for a source: breaker check, rate limit wait,
// then retries inside a single breaker call.
func (pm *ProtectionManager) ExecuteWithProtection(
	ctx context.Context,
	source string,
	fn func(ctx context.Context) (interface{}, error),
) (interface{}, error) {
	if pm.circuitBreaker.IsOpen(source) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, source)
	}

	if err := pm.rateLimiter.Wait(ctx, source); err != nil {
		return nil, fmt.Errorf("rate limiting failed: %w", err)
	}

	result, err := pm.circuitBreaker.Execute(source, func() (interface{}, error) {
		return pm.retryManager.Execute(ctx, fn)
	})
	if err != nil {
		return nil, fmt.Errorf("protected execution failed: %w", err)
	}

	return result, nil
}

// RateLimiter exposes the per-source rate limiter
func (pm *ProtectionManager) RateLimiter() *RateLimiter {
	return pm.rateLimiter
}

// GetStats returns statistics for all protection mechanisms of a source
func (pm *ProtectionManager) GetStats(source string) map[string]interface{} {
	retry := pm.retryManager.Config()

	return map[string]interface{}{
		"source":          source,
		"rate_limiter":    pm.rateLimiter.GetStats(source),
		"circuit_breaker": pm.circuitBreaker.GetStats(source),
		"retry_config": map[string]interface{}{
			"max_retries":      retry.MaxRetries,
			"base_delay":       retry.BaseDelay.String(),
			"max_delay":        retry.MaxDelay.String(),
			"backoff_factor":   retry.BackoffFactor,
			"jitter":           retry.Jitter,
			"retryable_errors": retry.RetryableErrors,
		},
	}
}

// IsAvailable reports whether a source's breaker is not open
func (pm *ProtectionManager) IsAvailable(source string) bool {
	return !pm.circuitBreaker.IsOpen(source)
}

// ResetSource resets all protection mechanisms for a source
func (pm *ProtectionManager) ResetSource(source string) {
	pm.rateLimiter.Reset(source)
	pm.circuitBreaker.Reset(source)
}

// ResetAll resets all protection mechanisms
func (pm *ProtectionManager) ResetAll() {
	pm.rateLimiter.ResetAll()
	pm.circuitBreaker.ResetAll()
}
