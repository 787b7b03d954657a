// Package streamer turns world events on the client side into queued chunk samples.
package streamer

import (
	"context"
	"log"
	"sync"

	"voxelstream.ai/internal/outbound"
	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sampler"
)

// Event is one of ChunkLoaded or ObserverMoved.
type Event interface {
	isEvent()
}

type ChunkLoaded struct {
	CX, CZ int
}

type ObserverMoved struct {
	Pos protocol.Position
}

func (ChunkLoaded) isEvent()   {}
func (ObserverMoved) isEvent() {}

type Handler func(ctx context.Context, ev Event)

type Config struct {
	// EventBuffer sizes the event channel; Emit blocks when it is full.
	EventBuffer int
}

type Stats struct {
	Loaded  uint64
	Moved   uint64
	Sampled uint64
	Skipped uint64
	Dropped uint64
}

// Manager consumes events on a single goroutine. Built-in handling samples loaded chunks
// into the queue and reprioritizes it on movement; extra handlers run after that.
type Manager struct {
	s   *sampler.Sampler
	q   *outbound.Queue
	log *log.Logger

	events chan Event

	mu       sync.RWMutex
	pos      protocol.Position
	handlers []Handler
	stats    Stats
}

func New(s *sampler.Sampler, q *outbound.Queue, cfg Config, logger *log.Logger) *Manager {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	return &Manager{
		s:      s,
		q:      q,
		log:    logger,
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Handle registers h for every event. Register before Run.
func (m *Manager) Handle(h Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, h)
	m.mu.Unlock()
}

// Emit queues ev for the event loop. It returns false if ctx ends first.
func (m *Manager) Emit(ctx context.Context, ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.Dispatch(ctx, ev)
		}
	}
}

// Dispatch handles ev synchronously on the caller's goroutine.
func (m *Manager) Dispatch(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case ChunkLoaded:
		m.onChunkLoaded(e)
	case ObserverMoved:
		m.onObserverMoved(e)
	}

	m.mu.RLock()
	hs := append([]Handler(nil), m.handlers...)
	m.mu.RUnlock()
	for _, h := range hs {
		h(ctx, ev)
	}
}

func (m *Manager) onChunkLoaded(e ChunkLoaded) {
	pos := m.Position()
	m.mu.Lock()
	m.stats.Loaded++
	m.mu.Unlock()

	u, ok := m.s.Sample(e.CX, e.CZ, pos.Y)
	if !ok {
		m.mu.Lock()
		m.stats.Skipped++
		m.mu.Unlock()
		return
	}
	accepted := m.q.Put(u, sampler.Priority(e.CX, e.CZ, pos))

	m.mu.Lock()
	m.stats.Sampled++
	if !accepted {
		m.stats.Dropped++
	}
	m.mu.Unlock()
}

func (m *Manager) onObserverMoved(e ObserverMoved) {
	m.mu.Lock()
	m.pos = e.Pos
	m.stats.Moved++
	m.mu.Unlock()
	m.q.Reprioritize(e.Pos)
}

// Position is the last observer position seen by the event loop.
func (m *Manager) Position() protocol.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pos
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// ChunksInView lists chunk coordinates within viewDistance chunks of pos, nearest first
// by ring.
func ChunksInView(pos protocol.Position, viewDistance int) [][2]int {
	cx := floorChunk(pos.X)
	cz := floorChunk(pos.Z)
	out := make([][2]int, 0, (2*viewDistance+1)*(2*viewDistance+1))
	out = append(out, [2]int{cx, cz})
	for r := 1; r <= viewDistance; r++ {
		for dx := -r; dx <= r; dx++ {
			for dz := -r; dz <= r; dz++ {
				if abs(dx) != r && abs(dz) != r {
					continue
				}
				out = append(out, [2]int{cx + dx, cz + dz})
			}
		}
	}
	return out
}

func floorChunk(v float64) int {
	i := int(v)
	if float64(i) > v {
		i--
	}
	if i >= 0 {
		return i / protocol.ChunkSize
	}
	return -((-i + protocol.ChunkSize - 1) / protocol.ChunkSize)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
