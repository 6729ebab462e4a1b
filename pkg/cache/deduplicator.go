package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Deduplicator collapses concurrent identical fetches into one call
type Deduplicator struct {
	group singleflight.Group
	mu    sync.RWMutex
	stats map[CacheKey]*DedupStats
}

// DedupStats represents deduplication statistics
type DedupStats struct {
	Requests     int64 `json:"requests"`
	Deduplicated int64 `json:"deduplicated"`
	CacheHits    int64 `json:"cache_hits"`
}

// Result is the outcome of a deduplicated fetch
type Result struct {
	Value   interface{}
	Records int
	Cached  bool
	Shared  bool
}

// FetchFunc performs the underlying fetch and reports its record count
type FetchFunc func() (interface{}, int, error)

type fetched struct {
	value   interface{}
	records int
}

// NewDeduplicator creates a new deduplicator
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		stats: make(map[CacheKey]*DedupStats),
	}
}

// Execute runs fn once per key among concurrent callers
func (d *Deduplicator) Execute(key CacheKey, fn FetchFunc) (Result, error) {
	return d.ExecuteWithCache(key, nil, 0, fn)
}

// ExecuteWithCache serves key from cache when present, otherwise runs fn
// once among concurrent callers and caches a successful result.
func (d *Deduplicator) ExecuteWithCache(key CacheKey, cache *LRUCache, ttl time.Duration, fn FetchFunc) (Result, error) {
	if cache != nil {
		if entry, exists := cache.Get(key); exists {
			d.updateStats(key, false, true)
			return Result{Value: entry.Value, Records: entry.Records, Cached: true}, nil
		}
	}

	result, err, shared := d.group.Do(string(key), func() (interface{}, error) {
		value, records, err := fn()
		if err != nil {
			return nil, err
		}
		if cache != nil {
			cache.Set(key, value, records, ttl)
		}
		return fetched{value: value, records: records}, nil
	})

	d.updateStats(key, shared, false)
	if err != nil {
		return Result{}, err
	}

	f := result.(fetched)
	return Result{Value: f.value, Records: f.records, Shared: shared}, nil
}

// updateStats updates deduplication statistics
func (d *Deduplicator) updateStats(key CacheKey, deduplicated, cacheHit bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats, exists := d.stats[key]
	if !exists {
		stats = &DedupStats{}
		d.stats[key] = stats
	}

	stats.Requests++
	if deduplicated {
		stats.Deduplicated++
	}
	if cacheHit {
		stats.CacheHits++
	}
}

// GetStats returns deduplication statistics for a key
func (d *Deduplicator) GetStats(key CacheKey) DedupStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if stats, exists := d.stats[key]; exists {
		return *stats
	}
	return DedupStats{}
}

// GetAllStats returns all deduplication statistics
func (d *Deduplicator) GetAllStats() map[CacheKey]DedupStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make(map[CacheKey]DedupStats, len(d.stats))
	for key, stats := range d.stats {
		result[key] = *stats
	}
	return result
}

// Reset resets all statistics
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats = make(map[CacheKey]*DedupStats)
}
