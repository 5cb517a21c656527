package tree

import (
	"sync"

	"reqtrace/internal/item"
	"reqtrace/internal/types"
)

// cache memoizes UID lookups. Every mutating operation reports the
// affected UID through the document observer, which lands here; stale
// entries therefore never outlive the change that made them stale.
type cache struct {
	mu    sync.Mutex
	items map[string]*item.Item

	hits   int
	misses int
}

func newCache() *cache {
	return &cache{items: map[string]*item.Item{}}
}

func (c *cache) get(uid types.UID) (*item.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[uid.Short()]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return it, ok
}

func (c *cache) put(it *item.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[it.UID().Short()] = it
}

// invalidate drops the entry for one UID.
func (c *cache) invalidate(uid types.UID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, uid.Short())
}

// invalidatePrefix drops every entry under one document prefix.
func (c *cache) invalidatePrefix(prefix types.Prefix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, it := range c.items {
		if it.UID().Prefix().Equal(prefix) {
			delete(c.items, key)
		}
	}
}

// stats reports lookup hit and miss counts.
func (c *cache) stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
