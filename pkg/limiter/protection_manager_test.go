package limiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestProtectionManagerRetriesThenSucceeds(t *testing.T) {
	config := DefaultProtectionConfig()
	config.Retry.BaseDelay = time.Millisecond
	config.RateLimit = RateLimitConfig{}
	pm := NewProtectionManager(config)

	attempts := 0
	result, err := pm.ExecuteWithProtection(context.Background(), "billing", func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts == 1 {
			return nil, NewHTTPError(503, "unavailable", "")
		}
		return []string{"row"}, nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if rows, ok := result.([]string); !ok || len(rows) != 1 {
		t.Errorf("Expected one row, got %v", result)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	if !pm.IsAvailable("billing") {
		t.Error("Expected billing to stay available")
	}
}

func TestProtectionManagerOpensBreaker(t *testing.T) {
	config := DefaultProtectionConfig()
	config.Retry.MaxRetries = 0
	config.RateLimit = RateLimitConfig{}
	pm := NewProtectionManager(config)

	failing := func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("connection refused")
	}
	for i := 0; i < 5; i++ {
		if _, err := pm.ExecuteWithProtection(context.Background(), "billing", failing); err == nil {
			t.Fatal("Expected failure")
		}
	}

	called := false
	_, err := pm.ExecuteWithProtection(context.Background(), "billing", func(ctx context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Expected open breaker to short-circuit the call")
	}

	pm.ResetSource("billing")
	if !pm.IsAvailable("billing") {
		t.Error("Expected billing to be available after reset")
	}
}

func TestProtectionManagerRateLimitCancelled(t *testing.T) {
	config := DefaultProtectionConfig()
	config.RateLimit = RateLimitConfig{RatePerSecond: 0.001, Burst: 1}
	pm := NewProtectionManager(config)

	noop := func(ctx context.Context) (interface{}, error) { return nil, nil }
	if _, err := pm.ExecuteWithProtection(context.Background(), "ops", noop); err != nil {
		t.Fatalf("Expected burst token to be available, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pm.ExecuteWithProtection(ctx, "ops", noop); err == nil {
		t.Error("Expected rate limit wait to fail once the bucket is empty")
	}
}
