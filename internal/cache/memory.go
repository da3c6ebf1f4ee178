package cache

import (
	"context"
	"sync"
	"time"
)

// Store is a byte-oriented cache with per-entry expiration
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// CacheEntry represents a cached item with expiration
type CacheEntry struct {
	Value      []byte
	Expiration time.Time
}

// IsExpired checks if the cache entry has expired
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(e.Expiration)
}

// MemoryCache implements Store in process memory
type MemoryCache struct {
	items map[string]*CacheEntry
	mutex sync.RWMutex
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryCache creates a new memory cache and starts its cleanup loop
func NewMemoryCache(cleanupInterval time.Duration) *MemoryCache {
	cache := &MemoryCache{
		items: make(map[string]*CacheEntry),
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go cache.cleanupExpired(cleanupInterval)
	}

	return cache
}

// Set stores a value in the cache
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	c.items[key] = &CacheEntry{
		Value:      stored,
		Expiration: c.now().Add(ttl),
	}
	return nil
}

// Get retrieves a value from the cache
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.items[key]
	if !exists || entry.IsExpired(c.now()) {
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.items, key)
	return nil
}

// Clear removes all items from the cache
func (c *MemoryCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.items = make(map[string]*CacheEntry)
}

// Size returns the number of items in the cache
func (c *MemoryCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.items)
}

// Close stops the cleanup loop
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

// removeExpired drops every expired entry
func (c *MemoryCache) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, entry := range c.items {
		if entry.IsExpired(now) {
			delete(c.items, key)
		}
	}
}

// cleanupExpired removes expired entries periodically
func (c *MemoryCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}
