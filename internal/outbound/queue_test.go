package outbound

import (
	"testing"

	"voxelstream.ai/internal/palette"
	"voxelstream.ai/internal/protocol"
)

func testUpdate(x, z int32) *protocol.ChunkUpdate {
	blocks := make([][]int, protocol.ChunkColumns)
	for i := range blocks {
		blocks[i] = []int{0}
	}
	return &protocol.ChunkUpdate{
		X:       x,
		Z:       z,
		YStart:  64,
		YEnd:    64,
		Palette: []palette.Entry{{Key: palette.Key{Name: "stone"}, Index: 0}},
		Blocks:  blocks,
	}
}

func TestQueue_Bounded(t *testing.T) {
	q := NewQueue(DefaultMaxSize)
	accepted := 0
	for i := 0; i < DefaultMaxSize+5; i++ {
		if q.Put(testUpdate(int32(i), 0), float64(i)) {
			accepted++
		}
	}
	if q.Len() != DefaultMaxSize || accepted != DefaultMaxSize {
		t.Fatalf("len=%d accepted=%d want %d", q.Len(), accepted, DefaultMaxSize)
	}
	if got := q.Stats().Dropped; got != 5 {
		t.Fatalf("dropped=%d want 5", got)
	}

	// A full queue still accepts a newer sample for a key it already holds.
	if !q.Put(testUpdate(3, 0), 0.5) {
		t.Fatalf("overwrite of existing key rejected at capacity")
	}
	if q.Len() != DefaultMaxSize {
		t.Fatalf("overwrite changed len to %d", q.Len())
	}
}

func TestQueue_OverwriteKeepsLatest(t *testing.T) {
	q := NewQueue(4)
	first := testUpdate(1, 1)
	second := testUpdate(1, 1)
	second.Timestamp = 99
	q.Put(first, 10)
	q.Put(second, 2)

	got := q.Lowest(10)
	if len(got) != 1 {
		t.Fatalf("entries=%d want 1", len(got))
	}
	if got[0].Update != second || got[0].Priority != 2 {
		t.Fatalf("entry not replaced: %+v", got[0])
	}
}

func TestQueue_LowestOrder(t *testing.T) {
	q := NewQueue(10)
	q.Put(testUpdate(0, 0), 30)
	q.Put(testUpdate(1, 0), 10)
	q.Put(testUpdate(2, 0), 20)
	q.Put(testUpdate(3, 0), 10)

	got := q.Lowest(3)
	want := []Key{{1, 0}, {3, 0}, {2, 0}}
	if len(got) != len(want) {
		t.Fatalf("len=%d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Key != want[i] {
			t.Fatalf("lowest[%d]=%v want %v", i, got[i].Key, want[i])
		}
	}
	if q.Len() != 4 {
		t.Fatalf("Lowest mutated the queue")
	}
}

func TestQueue_Reprioritize(t *testing.T) {
	q := NewQueue(10)
	q.Put(testUpdate(0, 0), 0)
	q.Put(testUpdate(10, 0), 1)

	q.Reprioritize(protocol.Position{X: 160, Z: 0})
	got := q.Lowest(1)
	if got[0].Key != (Key{10, 0}) || got[0].Priority != 0 {
		t.Fatalf("nearest after move: %+v", got[0])
	}
}

func TestQueue_RemoveSentSkipsResampled(t *testing.T) {
	q := NewQueue(10)
	q.Put(testUpdate(0, 0), 0)
	q.Put(testUpdate(1, 0), 1)
	sent := q.Lowest(2)

	q.Put(testUpdate(1, 0), 1)
	if n := q.RemoveSent(sent); n != 1 {
		t.Fatalf("removed=%d want 1", n)
	}
	if q.Has(Key{0, 0}) || !q.Has(Key{1, 0}) {
		t.Fatalf("wrong entries left after RemoveSent")
	}
	if q.Stats().Sent != 1 {
		t.Fatalf("sent=%d want 1", q.Stats().Sent)
	}
}
