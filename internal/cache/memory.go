package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryProvider is an in-process Provider with per-entry TTLs and an explicit Clear.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryProvider creates an empty cache. A nil clock uses time.Now.
func NewMemoryProvider(clock func() time.Time) *MemoryProvider {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryProvider{data: make(map[string]entry), now: clock}
}

// Get retrieves a cached value if present and not expired.
func (c *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.lookup(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a value; a non-positive ttl never expires.
func (c *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value, ttl)
	return nil
}

// SetNX stores the value only if the key is absent or expired.
func (c *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lookup(key); ok {
		return false, nil
	}
	c.store(key, value, ttl)
	return true, nil
}

// Del removes an entry.
func (c *MemoryProvider) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Clear drops every entry.
func (c *MemoryProvider) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]entry)
}

// Len reports the number of live entries.
func (c *MemoryProvider) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.data {
		if _, ok := c.lookup(key); ok {
			n++
		}
	}
	return n
}

// Close is a no-op.
func (c *MemoryProvider) Close() error { return nil }

// lookup must be called with mu held; expired entries are evicted.
func (c *MemoryProvider) lookup(key string) (entry, bool) {
	it, ok := c.data[key]
	if !ok {
		return entry{}, false
	}
	if !it.expiresAt.IsZero() && !c.now().Before(it.expiresAt) {
		delete(c.data, key)
		return entry{}, false
	}
	return it, true
}

func (c *MemoryProvider) store(key string, value []byte, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	c.data[key] = entry{value: append([]byte(nil), value...), expiresAt: expires}
}
