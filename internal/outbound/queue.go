// Package outbound holds sampled chunk updates until the scheduler ships them.
package outbound

import (
	"sort"
	"sync"
	"time"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sampler"
)

// DefaultMaxSize matches the stock maxQueueSize knob.
const DefaultMaxSize = 50

type Key struct {
	X, Z int32
}

// Entry is a snapshot of one queued update. Seq identifies the sample; a later sample of
// the same chunk replaces the entry with a larger Seq.
type Entry struct {
	Key      Key
	Update   *protocol.ChunkUpdate
	Priority float64
	Enqueued time.Time
	Seq      uint64
}

type Stats struct {
	Len     int
	Dropped uint64
	Sent    uint64
	Cleared uint64
}

// Queue is a bounded keyed queue. At capacity new keys are dropped while existing keys
// are still overwritten with their newer sample.
type Queue struct {
	mu      sync.Mutex
	max     int
	seq     uint64
	entries map[Key]*Entry

	dropped uint64
	sent    uint64
	cleared uint64

	now func() time.Time
}

func NewQueue(max int) *Queue {
	if max <= 0 {
		max = DefaultMaxSize
	}
	return &Queue{
		max:     max,
		entries: map[Key]*Entry{},
		now:     time.Now,
	}
}

// Put stores u under its chunk key. It reports false when the update was dropped because
// the queue is full.
func (q *Queue) Put(u *protocol.ChunkUpdate, priority float64) bool {
	if u == nil {
		return false
	}
	k := Key{X: u.X, Z: u.Z}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[k]; !ok && len(q.entries) >= q.max {
		q.dropped++
		return false
	}
	q.seq++
	q.entries[k] = &Entry{
		Key:      k,
		Update:   u,
		Priority: priority,
		Enqueued: q.now(),
		Seq:      q.seq,
	}
	return true
}

// Reprioritize recomputes every priority for a new observer position.
func (q *Queue) Reprioritize(pos protocol.Position) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k, e := range q.entries {
		e.Priority = sampler.Priority(int(k.X), int(k.Z), pos)
	}
}

// Lowest returns copies of up to n entries with the lowest priority, nearest first. Ties
// break on enqueue order.
func (q *Queue) Lowest(n int) []Entry {
	q.mu.Lock()
	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Seq < out[j].Seq
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// RemoveSent deletes the entries that were shipped. An entry re-sampled while the send was
// in flight carries a newer Seq and stays queued.
func (q *Queue) RemoveSent(sent []Entry) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for _, s := range sent {
		if e, ok := q.entries[s.Key]; ok && e.Seq == s.Seq {
			delete(q.entries, s.Key)
			removed++
		}
	}
	q.sent += uint64(removed)
	return removed
}

func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	q.entries = map[Key]*Entry{}
	q.cleared += uint64(n)
	return n
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) Has(k Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[k]
	return ok
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Len:     len(q.entries),
		Dropped: q.dropped,
		Sent:    q.sent,
		Cleared: q.cleared,
	}
}
