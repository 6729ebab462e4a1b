package datasource

import (
	"context"
	"time"

	"github.com/snow-ghost/costrecon/pkg/billing"
	"github.com/snow-ghost/costrecon/pkg/cache"
)

// HitRecorder observes cache lookups
type HitRecorder interface {
	RecordCacheMetrics(hit bool)
}

// CachedOperations caches fetches of closed periods and collapses concurrent
// identical fetches. Open periods are never cached since they still change.
type CachedOperations struct {
	source   OperationSource
	cache    *cache.CacheManager
	ttl      time.Duration
	recorder HitRecorder
	now      func() time.Time
}

// NewCachedOperations wraps source. recorder may be nil.
func NewCachedOperations(source OperationSource, manager *cache.CacheManager, ttl time.Duration, recorder HitRecorder) *CachedOperations {
	return &CachedOperations{source: source, cache: manager, ttl: ttl, recorder: recorder, now: time.Now}
}

// Name returns the wrapped source's name
func (c *CachedOperations) Name() string { return c.source.Name() }

// FetchOperations serves closed periods from cache
func (c *CachedOperations) FetchOperations(ctx context.Context, period billing.Period) ([]billing.Operation, error) {
	req := cache.FetchRequest{
		Kind:   KindOperations,
		Source: c.source.Name(),
		Period: period.Key,
		Cache:  period.IsClosed(c.now()),
		TTL:    c.ttl,
	}

	result, err := c.cache.ExecuteWithCache(ctx, req, func() (interface{}, int, error) {
		operations, err := c.source.FetchOperations(ctx, period)
		return operations, len(operations), err
	})
	if err != nil {
		return nil, err
	}
	recordHit(c.recorder, req, result)
	return result.Value.([]billing.Operation), nil
}

// CachedBilling caches fetches of closed periods and collapses concurrent
// identical fetches.
type CachedBilling struct {
	source   BillingSource
	cache    *cache.CacheManager
	ttl      time.Duration
	recorder HitRecorder
	now      func() time.Time
}

// NewCachedBilling wraps source. recorder may be nil.
func NewCachedBilling(source BillingSource, manager *cache.CacheManager, ttl time.Duration, recorder HitRecorder) *CachedBilling {
	return &CachedBilling{source: source, cache: manager, ttl: ttl, recorder: recorder, now: time.Now}
}

// Name returns the wrapped source's name
func (c *CachedBilling) Name() string { return c.source.Name() }

// FetchBillingRecords serves closed periods from cache
func (c *CachedBilling) FetchBillingRecords(ctx context.Context, period billing.Period) ([]billing.Record, error) {
	req := cache.FetchRequest{
		Kind:   KindBilling,
		Source: c.source.Name(),
		Period: period.Key,
		Cache:  period.IsClosed(c.now()),
		TTL:    c.ttl,
	}

	result, err := c.cache.ExecuteWithCache(ctx, req, func() (interface{}, int, error) {
		records, err := c.source.FetchBillingRecords(ctx, period)
		return records, len(records), err
	})
	if err != nil {
		return nil, err
	}
	recordHit(c.recorder, req, result)
	return result.Value.([]billing.Record), nil
}

func recordHit(recorder HitRecorder, req cache.FetchRequest, result cache.Result) {
	if recorder == nil || !req.Cache {
		return
	}
	recorder.RecordCacheMetrics(result.Cached)
}
