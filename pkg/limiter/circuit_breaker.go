package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when a source's breaker rejects a call
var ErrCircuitOpen = errors.New("limiter: circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests  uint32        `json:"max_requests"`
	Interval     time.Duration `json:"interval"`
	Timeout      time.Duration `json:"timeout"`
	MinRequests  uint32        `json:"min_requests"`
	FailureRatio float64       `json:"failure_ratio"`
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		MaxRequests:  3,
		Interval:     10 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.5,
	}
}

// StateChangeFunc observes breaker transitions
type StateChangeFunc func(source string, from, to gobreaker.State)

// CircuitBreakerManager manages one circuit breaker per data source
type CircuitBreakerManager struct {
	config        *CircuitBreakerConfig
	onStateChange StateChangeFunc
	breakers      map[string]*gobreaker.CircuitBreaker
	mu            sync.Mutex
}

// NewCircuitBreakerManager creates a new circuit breaker manager
func NewCircuitBreakerManager(config *CircuitBreakerConfig, onStateChange StateChangeFunc) *CircuitBreakerManager {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreakerManager{
		config:        config,
		onStateChange: onStateChange,
		breakers:      make(map[string]*gobreaker.CircuitBreaker),
	}
}

// GetBreaker returns or creates the breaker for a source
func (cbm *CircuitBreakerManager) GetBreaker(source string) *gobreaker.CircuitBreaker {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	if breaker, exists := cbm.breakers[source]; exists {
		return breaker
	}

	minRequests := cbm.config.MinRequests
	failureRatio := cbm.config.FailureRatio
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        source,
		MaxRequests: cbm.config.MaxRequests,
		Interval:    cbm.config.Interval,
		Timeout:     cbm.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= minRequests && float64(counts.TotalFailures)/float64(counts.Requests) >= failureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if cbm.onStateChange != nil {
				cbm.onStateChange(name, from, to)
			}
		},
		// cancellation by the caller says nothing about the source's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	cbm.breakers[source] = breaker
	return breaker
}

// Execute executes a function through the source's circuit breaker
func (cbm *CircuitBreakerManager) Execute(source string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbm.GetBreaker(source).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, source)
	}
	return result, err
}

// GetState returns the current state of a source's breaker
func (cbm *CircuitBreakerManager) GetState(source string) gobreaker.State {
	return cbm.GetBreaker(source).State()
}

// GetStats returns circuit breaker statistics for a source
func (cbm *CircuitBreakerManager) GetStats(source string) map[string]interface{} {
	breaker := cbm.GetBreaker(source)
	counts := breaker.Counts()

	return map[string]interface{}{
		"source":               source,
		"state":                breaker.State().String(),
		"requests":             counts.Requests,
		"total_success":        counts.TotalSuccesses,
		"total_failures":       counts.TotalFailures,
		"consecutive_success":  counts.ConsecutiveSuccesses,
		"consecutive_failures": counts.ConsecutiveFailures,
	}
}

// Reset drops the breaker for a source
func (cbm *CircuitBreakerManager) Reset(source string) {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	delete(cbm.breakers, source)
}

// ResetAll drops all breakers
func (cbm *CircuitBreakerManager) ResetAll() {
	cbm.mu.Lock()
	defer cbm.mu.Unlock()

	cbm.breakers = make(map[string]*gobreaker.CircuitBreaker)
}

// IsOpen checks if the breaker is open for a source
func (cbm *CircuitBreakerManager) IsOpen(source string) bool {
	return cbm.GetState(source) == gobreaker.StateOpen
}

// IsHalfOpen checks if the breaker is half-open for a source
func (cbm *CircuitBreakerManager) IsHalfOpen(source string) bool {
	return cbm.GetState(source) == gobreaker.StateHalfOpen
}

// IsClosed checks if the breaker is closed for a source
func (cbm *CircuitBreakerManager) IsClosed(source string) bool {
	return cbm.GetState(source) == gobreaker.StateClosed
}
