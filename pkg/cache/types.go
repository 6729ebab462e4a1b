package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"
)

// CacheKey represents a cache key
type CacheKey string

// CacheEntry represents a cached fetch result
type CacheEntry struct {
	Value        interface{} `json:"value"`
	Records      int         `json:"records"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	AccessCount  int         `json:"access_count"`
	LastAccessed time.Time   `json:"last_accessed"`
}

// IsExpired checks if the cache entry is expired
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Touch updates the access time and count
func (e *CacheEntry) Touch() {
	e.LastAccessed = time.Now()
	e.AccessCount++
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	MaxSize         int           `json:"max_size"`         // Maximum number of entries
	DefaultTTL      time.Duration `json:"default_ttl"`      // Default TTL for entries
	CleanupInterval time.Duration `json:"cleanup_interval"` // How often to clean expired entries
}

// DefaultCacheConfig returns a default cache configuration
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		MaxSize:         256,
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 1 * time.Minute,
	}
}

// FetchRequest identifies one data source read
type FetchRequest struct {
	Kind   string `json:"kind"` // "operations" or "billing"
	Source string `json:"source"`
	Period string `json:"period"`

	// Cache options
	Cache bool          `json:"cache,omitempty"`
	TTL   time.Duration `json:"ttl,omitempty"`
}

// GenerateKey generates a cache key for a fetch request
func GenerateKey(req FetchRequest) (CacheKey, error) {
	// cache options are not part of the identity
	normalized := struct {
		Kind   string `json:"kind"`
		Source string `json:"source"`
		Period string `json:"period"`
	}{
		Kind:   req.Kind,
		Source: req.Source,
		Period: req.Period,
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	hash := sha256.Sum256(data)
	return CacheKey(fmt.Sprintf("%x", hash)), nil
}

// CacheStats represents cache statistics
type CacheStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
}

// CalculateHitRate calculates the hit rate
func (s *CacheStats) CalculateHitRate() {
	total := s.Hits + s.Misses
	if total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	} else {
		s.HitRate = 0.0
	}
}
