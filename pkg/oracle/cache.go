package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/gregtusar/assetrouter/pkg/models"
)

// Cache stores computed quotes until their TTL elapses. Entries are replaced
// whole, never edited in place.
type Cache interface {
	Get(ctx context.Context, key string) (models.RateQuote, bool, error)
	Put(ctx context.Context, key string, quote models.RateQuote, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type memoryEntry struct {
	quote     models.RateQuote
	expiresAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return NewMemoryCacheWithClock(time.Now)
}

func NewMemoryCacheWithClock(now func() time.Time) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (models.RateQuote, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return models.RateQuote{}, false, nil
	}

	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have refreshed it.
		if cur, ok := c.entries[key]; ok && !c.now().Before(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return models.RateQuote{}, false, nil
	}
	return e.quote, true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, quote models.RateQuote, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{quote: quote, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
