// Package cache provides a TTL response cache with LRU eviction and
// singleflight fetch coalescing, used to keep repeated identical reads from
// consuming provider quota.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vitalsync/vitalsync/internal/metrics"
)

// Cache is a bounded TTL cache. Concurrent fetches for the same key are
// coalesced into one upstream call; everyone waiting shares its result.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List
	capacity int

	group   singleflight.Group
	metrics *metrics.Metrics
	now     func() time.Time
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics attaches metrics recording.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache holding at most capacity entries.
func New(capacity int, opts ...Option) *Cache {
	c := &Cache{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns the cached value for key, or runs fetch once (shared
// across concurrent callers) and caches the result for ttl. Fetch errors are
// never cached.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if val, ok := c.get(key); ok {
		c.recordOp("hit")
		return val, nil
	}
	c.recordOp("miss")

	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A fetch that finished while this caller queued already filled
		// the entry.
		if cached, ok := c.get(key); ok {
			return cached, nil
		}
		fetched, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.put(key, fetched, ttl)
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

// Invalidate removes a key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
}

// InvalidatePrefix removes every key with the given prefix. Used when a
// principal disconnects.
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doomed []*list.Element
	for key, el := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			doomed = append(doomed, el)
		}
	}
	for _, el := range doomed {
		c.remove(el)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.remove(el)
		return nil, false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

func (c *Cache) put(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.expiresAt = c.now().Add(ttl)
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest)
		c.recordOp("evict")
	}

	el := c.order.PushFront(&entry{key: key, value: value, expiresAt: c.now().Add(ttl)})
	c.entries[key] = el
}

// remove deletes an element. Caller holds the lock.
func (c *Cache) remove(el *list.Element) {
	ent := el.Value.(*entry)
	delete(c.entries, ent.key)
	c.order.Remove(el)
}

func (c *Cache) recordOp(result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheOp(result)
	}
}
