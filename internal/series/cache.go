package series

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/yourusername/clever-backtest/internal/models"
)

// CachedSource memoizes loaded series so concurrent runs over the same
// universe share one immutable copy.
type CachedSource struct {
	source    Source
	cache     *cache.Cache
	ttl       time.Duration
	hitCount  atomic.Uint64
	missCount atomic.Uint64
	onLookup  func(hit bool)
}

// NewCachedSource wraps source with a TTL cache
func NewCachedSource(source Source, ttl time.Duration) *CachedSource {
	return &CachedSource{
		source: source,
		cache:  cache.New(ttl, ttl*2),
		ttl:    ttl,
	}
}

// OnLookup registers a callback invoked on every hit or miss
func (c *CachedSource) OnLookup(fn func(hit bool)) *CachedSource {
	c.onLookup = fn
	return c
}

func (c *CachedSource) record(hit bool) {
	if c.onLookup != nil {
		c.onLookup(hit)
	}
}

func cacheKey(securityID string, start, end time.Time) string {
	return fmt.Sprintf("%s:%s:%s", models.NormalizeSecurityID(securityID),
		start.Format(models.DateLayout), end.Format(models.DateLayout))
}

// Load returns a cached series or loads and caches it
func (c *CachedSource) Load(ctx context.Context, securityID string, start, end time.Time) (*Series, error) {
	key := cacheKey(securityID, start, end)
	if cached, found := c.cache.Get(key); found {
		if s, ok := cached.(*Series); ok {
			c.hitCount.Add(1)
			c.record(true)
			return s, nil
		}
	}
	c.missCount.Add(1)
	c.record(false)

	s, err := c.source.Load(ctx, securityID, start, end)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, s, c.ttl)
	return s, nil
}

// Invalidate drops every cached series
func (c *CachedSource) Invalidate() {
	c.cache.Flush()
}

// Stats returns cache hit and miss counts
func (c *CachedSource) Stats() (hits, misses uint64) {
	return c.hitCount.Load(), c.missCount.Load()
}
