package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// lru is the memory tier: a doubly linked list ordered by recency with a
// map index, bounded by entry count and total payload bytes. Stored
// slices are owned by the cache and must be treated as read-only.
type lru struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	size       int64
	items      map[string]*list.Element
	evictList  *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type lruEntry struct {
	id      string
	rom     string
	payload []byte
}

func newLRU(maxEntries int, maxBytes int64) *lru {
	return &lru{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
	}
}

func (c *lru) get(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[id]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*lruEntry).payload, true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *lru) set(id, rom string, payload []byte) {
	// Anything bigger than the whole budget is not worth caching.
	if int64(len(payload)) > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[id]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*lruEntry)
		c.size += int64(len(payload)) - int64(len(e.payload))
		e.payload = payload
		c.evict()
		return
	}

	ent := &lruEntry{id: id, rom: rom, payload: payload}
	c.items[id] = c.evictList.PushFront(ent)
	c.size += int64(len(payload))
	c.evict()
}

func (c *lru) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[id]; ok {
		c.removeElement(ent)
	}
}

// invalidate drops every entry belonging to the given ROM hash.
func (c *lru) invalidate(rom string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var drop []*list.Element
	for _, ent := range c.items {
		if ent.Value.(*lruEntry).rom == rom {
			drop = append(drop, ent)
		}
	}
	for _, ent := range drop {
		c.removeElement(ent)
	}
}

func (c *lru) evict() {
	for (c.size > c.maxBytes || c.evictList.Len() > c.maxEntries) && c.evictList.Len() > 0 {
		c.removeElement(c.evictList.Back())
	}
}

func (c *lru) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	ent := e.Value.(*lruEntry)
	delete(c.items, ent.id)
	c.size -= int64(len(ent.payload))
}

func (c *lru) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	c.size = 0
}

func (c *lru) stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
