// Package cache provides a small TTL cache for request-path reads that
// would otherwise scan the peer registry on every dashboard poll. Entries
// are kept past their TTL so a degraded registry backend serves the last
// known peer listing instead of blanking it.
package cache

import (
	"context"
	"sync"
	"time"
)

// staleRetention is how many TTLs after being stored an entry survives
// before the janitor removes it. Within this window an expired entry can still
// be served when its loader fails.
const staleRetention = 10

type entry struct {
	value    interface{}
	storedAt time.Time
	ttl      time.Duration
}

func (e entry) fresh(now time.Time) bool {
	return now.Sub(e.storedAt) < e.ttl
}

func (e entry) evictable(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl*staleRetention
}

// Loader fetches a fresh value on cache miss.
type Loader func(ctx context.Context) (interface{}, error)

// Cache is a TTL cache with stale-on-error reads.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration

	stopJanitor chan struct{}
	stopOnce    sync.Once
}

// New creates a cache and starts its janitor.
func New(defaultTTL time.Duration) *Cache {
	c := &Cache{
		entries:     make(map[string]entry),
		defaultTTL:  defaultTTL,
		stopJanitor: make(chan struct{}),
	}

	go c.runJanitor()

	return c
}

// Get returns the value for key if it is still fresh.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !e.fresh(time.Now()) {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, storedAt: time.Now(), ttl: ttl}
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries, fresh or stale.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GetOrLoad returns the cached value for key when fresh, otherwise runs
// loader and caches its result. When the loader fails and a stale value
// is still retained, the stale value is served and the error suppressed:
// a degraded registry should not blank the peer listing it backs.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader Loader) (interface{}, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err := loader(ctx)
	if err != nil {
		c.mu.RLock()
		stale, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return stale.value, nil
		}
		return nil, err
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.SetWithTTL(key, value, ttl)
	return value, nil
}

// runJanitor evicts entries that are past their stale-retention window.
func (c *Cache) runJanitor() {
	interval := c.defaultTTL
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopJanitor:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if e.evictable(now) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Stop ends the janitor. Safe to call more than once.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stopJanitor) })
}
