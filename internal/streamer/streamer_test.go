package streamer

import (
	"context"
	"testing"
	"time"

	"voxelstream.ai/internal/outbound"
	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sampler"
	"voxelstream.ai/internal/worldgen"
)

func newTestManager(boundary int) (*Manager, *outbound.Queue) {
	w := worldgen.New(worldgen.Config{Seed: 42, BoundaryR: boundary})
	q := outbound.NewQueue(outbound.DefaultMaxSize)
	return New(sampler.New(w, 20, nil), q, Config{}, nil), q
}

func TestManager_LoadSamplesAndEnqueues(t *testing.T) {
	m, q := newTestManager(0)
	ctx := context.Background()

	m.Dispatch(ctx, ObserverMoved{Pos: protocol.Position{X: 8, Y: 70, Z: 8}})
	m.Dispatch(ctx, ChunkLoaded{CX: 0, CZ: 0})
	m.Dispatch(ctx, ChunkLoaded{CX: 3, CZ: 0})

	if q.Len() != 2 {
		t.Fatalf("queue len=%d want 2", q.Len())
	}
	first := q.Lowest(1)[0]
	if first.Key != (outbound.Key{X: 0, Z: 0}) {
		t.Fatalf("nearest=%v want 0,0", first.Key)
	}
	if first.Update.YStart != 50 || first.Update.YEnd != 90 {
		t.Fatalf("y range [%d,%d] want [50,90]", first.Update.YStart, first.Update.YEnd)
	}
	if got := m.Stats(); got.Loaded != 2 || got.Sampled != 2 || got.Moved != 1 {
		t.Fatalf("stats=%+v", got)
	}
}

func TestManager_MoveReprioritizes(t *testing.T) {
	m, q := newTestManager(0)
	ctx := context.Background()
	m.Dispatch(ctx, ChunkLoaded{CX: 0, CZ: 0})
	m.Dispatch(ctx, ChunkLoaded{CX: 5, CZ: 0})

	m.Dispatch(ctx, ObserverMoved{Pos: protocol.Position{X: 80, Y: 64, Z: 0}})
	if got := q.Lowest(1)[0].Key; got != (outbound.Key{X: 5, Z: 0}) {
		t.Fatalf("nearest after move=%v want 5,0", got)
	}
	if m.Position().X != 80 {
		t.Fatalf("position not tracked")
	}
}

func TestManager_SkipsMissingColumns(t *testing.T) {
	m, q := newTestManager(16)
	m.Dispatch(context.Background(), ChunkLoaded{CX: 40, CZ: 40})
	if q.Len() != 0 {
		t.Fatalf("missing column was queued")
	}
	if m.Stats().Skipped != 1 {
		t.Fatalf("skipped=%d want 1", m.Stats().Skipped)
	}
}

func TestManager_RunDispatchesToHandlers(t *testing.T) {
	m, _ := newTestManager(0)
	seen := make(chan Event, 4)
	m.Handle(func(_ context.Context, ev Event) { seen <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Emit(ctx, ChunkLoaded{CX: 1, CZ: 2})
	select {
	case ev := <-seen:
		if cl, ok := ev.(ChunkLoaded); !ok || cl.CX != 1 || cl.CZ != 2 {
			t.Fatalf("unexpected event %#v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not called")
	}
}

func TestChunksInView(t *testing.T) {
	got := ChunksInView(protocol.Position{X: -1, Z: 17}, 1)
	if len(got) != 9 {
		t.Fatalf("len=%d want 9", len(got))
	}
	if got[0] != [2]int{-1, 1} {
		t.Fatalf("center=%v want -1,1", got[0])
	}
}
