// Package tilecache keeps the latest rendered tile per chunk.
package tilecache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"
)

type Key struct {
	X, Z int32
}

// Entry is immutable once stored; Put swaps in a new pointer.
type Entry struct {
	Key         Key
	Body        []byte
	ContentType string
	Version     uint64
	ETag        string
	RenderedAt  time.Time
}

// Cache never evicts. Readers see either the previous or the new entry for a key.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*Entry
	version uint64
	bytes   int64

	now func() time.Time
}

func New() *Cache {
	return &Cache{entries: map[Key]*Entry{}, now: time.Now}
}

// Put stores body for k and returns the new entry. body must not be modified afterwards.
func (c *Cache) Put(k Key, body []byte, contentType string) *Entry {
	sum := sha256.Sum256(body)
	e := &Entry{
		Key:         k,
		Body:        body,
		ContentType: contentType,
		ETag:        `"` + hex.EncodeToString(sum[:8]) + `"`,
		RenderedAt:  c.now(),
	}

	c.mu.Lock()
	c.version++
	e.Version = c.version
	if old, ok := c.entries[k]; ok {
		c.bytes -= int64(len(old.Body))
	}
	c.bytes += int64(len(body))
	c.entries[k] = e
	c.mu.Unlock()
	return e
}

func (c *Cache) Get(k Key) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[k]
	return e, ok
}

// Keys returns cached keys ordered by x then z.
func (c *Cache) Keys() []Key {
	c.mu.RLock()
	out := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out
}

// Entries returns the current entries in Keys order.
func (c *Cache) Entries() []*Entry {
	keys := c.Keys()
	out := make([]*Entry, 0, len(keys))
	c.mu.RLock()
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			out = append(out, e)
		}
	}
	c.mu.RUnlock()
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) Bytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bytes
}
