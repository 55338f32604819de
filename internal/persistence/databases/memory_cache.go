package databases

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-memory Cache with TTL and pub/sub.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memCacheEntry
	subs    map[string][]chan []byte
}

type memCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memCacheEntry),
		subs:    make(map[string][]chan []byte),
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memCacheEntry{value: append([]byte(nil), value...), expiresAt: expires}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	subs := append([]chan []byte(nil), c.subs[topic]...)
	c.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- append([]byte(nil), payload...):
		default:
			// Slow subscriber; delivery is at-least-once via the durable log.
		}
	}
	return nil
}

func (c *MemoryCache) Subscribe(ctx context.Context, topic string) (<-chan []byte, func()) {
	ch := make(chan []byte, 16)
	c.mu.Lock()
	c.subs[topic] = append(c.subs[topic], ch)
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			subs := c.subs[topic]
			for i, s := range subs {
				if s == ch {
					c.subs[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
