package cache

import (
	"context"
	"fmt"
)

// CacheManager manages caching and deduplication of data source fetches
type CacheManager struct {
	cache        *LRUCache
	deduplicator *Deduplicator
	config       *CacheConfig
}

// NewCacheManager creates a new cache manager
func NewCacheManager(config *CacheConfig) (*CacheManager, error) {
	if config == nil {
		config = DefaultCacheConfig()
	}

	cache, err := NewLRUCache(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &CacheManager{
		cache:        cache,
		deduplicator: NewDeduplicator(),
		config:       config,
	}, nil
}

// ExecuteWithCache runs fn deduplicated by request identity, and through the
// cache when req.Cache is set.
func (cm *CacheManager) ExecuteWithCache(ctx context.Context, req FetchRequest, fn FetchFunc) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	key, err := GenerateKey(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to generate cache key: %w", err)
	}

	if !req.Cache {
		return cm.deduplicator.Execute(key, fn)
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = cm.config.DefaultTTL
	}

	return cm.deduplicator.ExecuteWithCache(key, cm.cache, ttl, fn)
}

// Invalidate drops the cached result of a request
func (cm *CacheManager) Invalidate(req FetchRequest) error {
	key, err := GenerateKey(req)
	if err != nil {
		return fmt.Errorf("failed to generate cache key: %w", err)
	}

	cm.cache.Delete(key)
	return nil
}

// IsCached checks if a request has a live cached result
func (cm *CacheManager) IsCached(req FetchRequest) bool {
	key, err := GenerateKey(req)
	if err != nil {
		return false
	}

	_, exists := cm.cache.Get(key)
	return exists
}

// Clear removes all values from the cache
func (cm *CacheManager) Clear() {
	cm.cache.Clear()
	cm.deduplicator.Reset()
}

// Stats returns comprehensive cache statistics
func (cm *CacheManager) Stats() map[string]interface{} {
	cacheStats := cm.cache.Stats()

	var totalRequests, totalDeduplicated, totalCacheHits int64
	for _, stats := range cm.deduplicator.GetAllStats() {
		totalRequests += stats.Requests
		totalDeduplicated += stats.Deduplicated
		totalCacheHits += stats.CacheHits
	}

	var dedupRate, cacheHitRate float64
	if totalRequests > 0 {
		dedupRate = float64(totalDeduplicated) / float64(totalRequests)
		cacheHitRate = float64(totalCacheHits) / float64(totalRequests)
	}

	return map[string]interface{}{
		"cache": map[string]interface{}{
			"hits":        cacheStats.Hits,
			"misses":      cacheStats.Misses,
			"size":        cacheStats.Size,
			"max_size":    cacheStats.MaxSize,
			"hit_rate":    cacheStats.HitRate,
			"evictions":   cacheStats.Evictions,
			"expirations": cacheStats.Expirations,
		},
		"deduplication": map[string]interface{}{
			"total_requests":     totalRequests,
			"total_deduplicated": totalDeduplicated,
			"total_cache_hits":   totalCacheHits,
			"dedup_rate":         dedupRate,
			"cache_hit_rate":     cacheHitRate,
		},
		"config": map[string]interface{}{
			"max_size":         cm.config.MaxSize,
			"default_ttl":      cm.config.DefaultTTL.String(),
			"cleanup_interval": cm.config.CleanupInterval.String(),
		},
	}
}

// Close closes the cache manager and cleans up resources
func (cm *CacheManager) Close() {
	cm.cache.Close()
}

// Len returns the current cache size
func (cm *CacheManager) Len() int {
	return cm.cache.Len()
}
