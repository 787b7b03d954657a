package outbound

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"voxelstream.ai/internal/protocol"
)

const (
	DefaultMaxBatchSize = 3
	DefaultSendInterval = 250 * time.Millisecond
)

// ErrDisconnected is returned (possibly wrapped) by a Transport whose peer went away.
// The scheduler drops everything queued when it sees it.
var ErrDisconnected = errors.New("transport disconnected")

// Transport ships one compressed batch to the map server.
type Transport interface {
	Connected() bool
	SendChunkData(ctx context.Context, batch protocol.CompressedBatch) error
}

type SchedulerConfig struct {
	MaxBatchSize int
	SendInterval time.Duration
	GameVersion  string
}

type TickResult int

const (
	TickIdle TickResult = iota
	TickBusy
	TickSent
	TickFailed
	TickCleared
)

type Scheduler struct {
	q        *Queue
	tr       Transport
	cfg      SchedulerConfig
	position func() protocol.Position
	log      *log.Logger

	sending atomic.Bool

	batches atomic.Uint64
	errors  atomic.Uint64
}

// NewScheduler wires q to tr. position supplies the observer position stamped on each
// envelope; nil means the origin.
func NewScheduler(q *Queue, tr Transport, cfg SchedulerConfig, position func() protocol.Position, logger *log.Logger) *Scheduler {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = DefaultSendInterval
	}
	if position == nil {
		position = func() protocol.Position { return protocol.Position{} }
	}
	return &Scheduler{q: q, tr: tr, cfg: cfg, position: position, log: logger}
}

// Run ticks every SendInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		s.Tick(ctx)
		t.Reset(s.cfg.SendInterval)
	}
}

// Tick sends at most one batch. A tick that finds a send already in flight returns
// TickBusy without touching the queue.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	if !s.sending.CompareAndSwap(false, true) {
		return TickBusy
	}
	defer s.sending.Store(false)

	if s.q.Len() == 0 || s.tr == nil || !s.tr.Connected() {
		return TickIdle
	}
	picked := s.q.Lowest(s.cfg.MaxBatchSize)
	if len(picked) == 0 {
		return TickIdle
	}

	env := protocol.Envelope{
		Version:  s.cfg.GameVersion,
		Position: s.position(),
		Chunks:   make([]protocol.ChunkUpdate, 0, len(picked)),
	}
	for _, e := range picked {
		env.Chunks = append(env.Chunks, *e.Update)
	}
	batch, err := protocol.CompressBatch(env)
	if err != nil {
		// The entries are kept; a later sample may encode cleanly.
		s.errors.Add(1)
		s.printf("compress batch: %v", err)
		return TickFailed
	}

	if err := s.tr.SendChunkData(ctx, batch); err != nil {
		s.errors.Add(1)
		if errors.Is(err, ErrDisconnected) {
			n := s.q.Clear()
			s.printf("send: %v; cleared %d queued chunks", err, n)
			return TickCleared
		}
		s.printf("send: %v", err)
		return TickFailed
	}
	s.q.RemoveSent(picked)
	s.batches.Add(1)
	return TickSent
}

func (s *Scheduler) Sending() bool { return s.sending.Load() }

func (s *Scheduler) Batches() uint64 { return s.batches.Load() }

func (s *Scheduler) Errors() uint64 { return s.errors.Load() }

func (s *Scheduler) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
