// Package cache memoizes rendered root-comment listings. Freshness wins
// over hit rate: every successful write wipes the whole cache.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/quibble-app/quibble/internal/store"
)

type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	payload   []byte
	expiresAt time.Time
}

func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Key is the deterministic cache key for one page of the root listing.
func Key(page int, order store.Order) string {
	return fmt.Sprintf("roots:p%d:%s", page, order)
}

func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.payload, true
}

func (c *Cache) Set(key string, payload []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{payload: payload, expiresAt: time.Now().Add(ttl)}
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len reports live entries, counting ones that have expired but not yet
// been evicted by a Get.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
