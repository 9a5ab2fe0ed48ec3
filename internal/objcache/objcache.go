// Package objcache is a bounded LRU cache of Git objects keyed by oid,
// holding full uncompressed payloads and evicting by memory accounting
// rather than entry count: container/list for the recency order plus a
// map for O(1) lookup.
package objcache

import (
	"container/list"

	"github.com/eduardosm/svn2git/internal/gitobj"
)

// DefaultCeiling is the memory budget used when the caller passes none.
const DefaultCeiling = 384 * 1024 * 1024

type entry struct {
	oid     gitobj.Oid
	payload []byte
}

// Cache is a bounded-memory LRU of Git object payloads.
type Cache struct {
	ceiling int64
	used    int64

	order *list.List // front = most recently used
	index map[gitobj.Oid]*list.Element
}

// New returns an empty Cache with the given memory ceiling in bytes.
func New(ceilingBytes int64) *Cache {
	if ceilingBytes <= 0 {
		ceilingBytes = DefaultCeiling
	}
	return &Cache{
		ceiling: ceilingBytes,
		order:   list.New(),
		index:   make(map[gitobj.Oid]*list.Element),
	}
}

// Get returns the cached payload for oid, promoting it to most-recently-used.
func (c *Cache) Get(oid gitobj.Oid) ([]byte, bool) {
	el, ok := c.index[oid]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).payload, true
}

// Put inserts or refreshes oid's payload, evicting least-recently-used
// entries until the cache fits within its ceiling. A single payload
// larger than the ceiling is simply not cached (Stage 2 always has the
// Mirror as its source of truth; the cache is a pure optimization).
func (c *Cache) Put(oid gitobj.Oid, payload []byte) {
	if int64(len(payload)) > c.ceiling {
		return
	}
	if el, ok := c.index[oid]; ok {
		old := el.Value.(*entry)
		c.used += int64(len(payload)) - int64(len(old.payload))
		old.payload = payload
		c.order.MoveToFront(el)
		c.evict()
		return
	}
	el := c.order.PushFront(&entry{oid: oid, payload: payload})
	c.index[oid] = el
	c.used += int64(len(payload))
	c.evict()
}

func (c *Cache) evict() {
	for c.used > c.ceiling {
		back := c.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		c.used -= int64(len(e.payload))
		c.order.Remove(back)
		delete(c.index, e.oid)
	}
}

// Len reports the number of cached objects.
func (c *Cache) Len() int { return len(c.index) }

// Used reports the current memory usage in bytes.
func (c *Cache) Used() int64 { return c.used }
