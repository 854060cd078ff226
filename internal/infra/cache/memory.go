package cache

import (
	"context"
	"sync"
	"time"
)

type item struct {
	value   []byte
	expires time.Time
}

// MemoryCache процессный кэш на случай, когда Redis не настроен.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]item
	now   func() time.Time
}

// NewMemory создаёт пустой кэш.
func NewMemory() *MemoryCache {
	return &MemoryCache{items: map[string]item{}, now: time.Now}
}

func (c *MemoryCache) lookup(key string) (item, bool) {
	it, ok := c.items[key]
	if !ok {
		return item{}, false
	}
	if !it.expires.IsZero() && !c.now().Before(it.expires) {
		delete(c.items, key)
		return item{}, false
	}
	return it, true
}

// Set задаёт значение; ttl <= 0 означает без срока.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it := item{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expires = c.now().Add(ttl)
	}
	c.items[key] = it
	return nil
}

// Get возвращает значение и признак его наличия.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}
