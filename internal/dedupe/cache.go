// ABOUTME: Thread-safe TTL cache for idempotency keys on reservation requests
// ABOUTME: Remembers the outcome of a keyed request so retries are recognised

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/coven-actuator/internal/clock"
)

// cacheEntry stores the timestamp, remembered value and list element for a key.
type cacheEntry struct {
	timestamp time.Time
	value     string
	element   *list.Element
}

// Cache is a TTL-based, size-limited set of seen keys, each optionally
// carrying a value such as the reservation created for it. Uses a doubly
// linked list in insertion order for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	clock   clock.Clock
	done    chan struct{}
	closed  bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source used for expiry.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine removes expired entries every minute until Close.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		clock:   clock.Real(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanup()
	return c
}

// Check returns true if the key has been seen and is not expired.
func (c *Cache) Check(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Get returns the value remembered for a live key.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	if !ok || c.clock.Now().Sub(entry.timestamp) >= c.ttl {
		return "", false
	}
	return entry.value, true
}

// CheckAndMark atomically checks if a key has been seen and marks it if not.
// Returns true if the key was already seen (duplicate), false if it's new and now marked.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if ok && c.clock.Now().Sub(entry.timestamp) < c.ttl {
		return true
	}
	c.markLocked(key, "")
	return false
}

// Mark records that a key has been seen.
func (c *Cache) Mark(key string) {
	c.Set(key, "")
}

// Set records a key with a value, refreshing its TTL. If the cache is at
// capacity the oldest entry is evicted.
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, value)
}

// Forget removes a key so the next request with it is treated as new.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key, value string) {
	now := c.clock.Now()

	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		entry.value = value
		c.order.MoveToBack(entry.element)
		return
	}

	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		timestamp: now,
		value:     value,
		element:   elem,
	}
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
