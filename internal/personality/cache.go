package personality

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/bowerhall/kindred/internal/store"
)

const defaultCacheTTL = 10 * time.Minute

type Loader interface {
	GetPersonality(ctx context.Context, ownerID string) (*store.Personality, error)
}

// Cache keeps recently used personality models in memory. Entries are
// dropped on rebuild and expire after the TTL. A nil *Cache reads straight
// from the loader.
type Cache struct {
	rc     *ristretto.Cache
	loader Loader
	ttl    time.Duration

	mu          sync.Mutex
	generations map[string]uint64
}

// entry is only served while its generation is the owner's current one, so a
// load that raced an Invalidate cannot bring the old model back.
type entry struct {
	p          *store.Personality
	generation uint64
}

func NewCache(loader Loader, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("personality cache: %w", err)
	}

	return &Cache{rc: rc, loader: loader, ttl: ttl, generations: make(map[string]uint64)}, nil
}

// Get returns the owner's model, loading it on a miss. The result is shared
// and must not be modified.
func (c *Cache) Get(ctx context.Context, ownerID string) (*store.Personality, error) {
	if c == nil {
		return nil, fmt.Errorf("personality cache not configured")
	}

	gen := c.generation(ownerID)
	if v, ok := c.rc.Get(ownerID); ok {
		if e, ok := v.(entry); ok && e.generation == gen {
			return e.p, nil
		}
	}

	p, err := c.loader.GetPersonality(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if c.generation(ownerID) == gen {
		c.rc.SetWithTTL(ownerID, entry{p: p, generation: gen}, 1, c.ttl)
	}
	return p, nil
}

func (c *Cache) generation(ownerID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[ownerID]
}

func (c *Cache) Invalidate(ownerID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.generations[ownerID]++
	c.mu.Unlock()
	c.rc.Del(ownerID)
}

// Wait blocks until pending writes are visible.
func (c *Cache) Wait() {
	if c != nil {
		c.rc.Wait()
	}
}

func (c *Cache) Close() {
	if c != nil {
		c.rc.Close()
	}
}
