package cache

import (
	"context"
	"sync"
	"time"

	"github.com/mallshop/mall-backend/internal/models"
)

type cachedProduct struct {
	product models.Product
	expires time.Time
}

// MemoryCache is a process local ProductCache with a fixed TTL
type MemoryCache struct {
	mu    sync.RWMutex
	items map[int64]cachedProduct
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		items: make(map[int64]cachedProduct),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, id int64) (*models.Product, error) {
	c.mu.RLock()
	cached, exists := c.items[id]
	c.mu.RUnlock()

	if !exists {
		return nil, ErrCacheMiss
	}
	if !c.now().Before(cached.expires) {
		c.mu.Lock()
		// a concurrent Set may have refreshed it
		if current, ok := c.items[id]; ok && current.expires.Equal(cached.expires) {
			delete(c.items, id)
		}
		c.mu.Unlock()
		return nil, ErrCacheMiss
	}
	p := cached.product
	return &p, nil
}

func (c *MemoryCache) Set(_ context.Context, product *models.Product) error {
	c.mu.Lock()
	c.items[product.ID] = cachedProduct{
		product: *product,
		expires: c.now().Add(c.ttl),
	}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, id int64) error {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
	return nil
}
