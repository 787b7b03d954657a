// Package fanout pushes tile change notifications to connected viewers.
package fanout

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/tilecache"
	"voxelstream.ai/internal/transport/tiles"
)

const DefaultQueue = 256

type Subscriber struct {
	ID string
	// C receives the backfill first, then incremental updates. It is closed by Leave.
	C <-chan observerproto.ChunkUpdateMsg

	ch      chan observerproto.ChunkUpdateMsg
	dropped atomic.Uint64
}

func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

type Stats struct {
	Subscribers int
	Published   uint64
	Delivered   uint64
	Dropped     uint64
}

type Hub struct {
	cache *tilecache.Cache
	queue int

	mu   sync.Mutex
	subs map[string]*Subscriber

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New returns a hub that backfills joiners from cache. queue is the per-subscriber
// buffer for incremental notifications.
func New(cache *tilecache.Cache, queue int) *Hub {
	if queue <= 0 {
		queue = DefaultQueue
	}
	return &Hub{cache: cache, queue: queue, subs: map[string]*Subscriber{}}
}

// Join registers a subscriber whose channel already holds one notification per cached
// tile. The snapshot and registration happen under the hub lock, so a tile stored through
// Commit reaches the subscriber exactly once: in the backfill or incrementally.
func (h *Hub) Join() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	var backfill []*tilecache.Entry
	if h.cache != nil {
		backfill = h.cache.Entries()
	}
	ch := make(chan observerproto.ChunkUpdateMsg, len(backfill)+h.queue)
	for _, e := range backfill {
		ch <- observerproto.NewChunkUpdate(e.Key.X, e.Key.Z, tiles.URL(e.Key.X, e.Key.Z, e.Version))
	}
	s := &Subscriber{ID: uuid.NewString(), C: ch, ch: ch}
	h.subs[s.ID] = s
	return s
}

func (h *Hub) Leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Commit stores a rendered tile in the cache and publishes its URL under the hub lock.
func (h *Hub) Commit(k tilecache.Key, body []byte, contentType string) *tilecache.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.cache.Put(k, body, contentType)
	h.publishLocked(observerproto.NewChunkUpdate(k.X, k.Z, tiles.URL(k.X, k.Z, e.Version)))
	return e
}

// Publish notifies every subscriber without blocking. A subscriber with a full buffer
// misses this notification.
func (h *Hub) Publish(x, z int32, url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publishLocked(observerproto.NewChunkUpdate(x, z, url))
}

func (h *Hub) publishLocked(msg observerproto.ChunkUpdateMsg) {
	h.published.Add(1)
	for _, s := range h.subs {
		select {
		case s.ch <- msg:
			h.delivered.Add(1)
		default:
			s.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers: h.Len(),
		Published:   h.published.Load(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
	}
}
