// Package worldstore holds the server's accumulated view of the world, one persistent
// chunk per (x,z), built by merging producer updates.
package worldstore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/willf/bitset"

	"voxelstream.ai/internal/palette"
	"voxelstream.ai/internal/protocol"
)

// ErrInvalidUpdate is returned when an update fails validation; the store is left untouched.
var ErrInvalidUpdate = errors.New("invalid chunk update")

var ErrUnknownChunk = errors.New("unknown chunk")

type Key struct {
	X, Z int32
}

func (k Key) String() string { return fmt.Sprintf("%d,%d", k.X, k.Z) }

func KeyOf(u *protocol.ChunkUpdate) Key { return Key{X: u.X, Z: u.Z} }

func cellIndex(x, y, z int) int {
	return (protocol.ColumnIndex(x, z))*protocol.WorldHeight + (y - protocol.MinY)
}

// Chunk is the full-height state of one chunk. Block names are empty until a merge writes
// them; an empty name reads as air.
type Chunk struct {
	Key       Key
	names     []string
	stamps    []int64
	biome     [protocol.ChunkSize][protocol.ChunkSize]int
	hasBiome  bool
	updatedAt int64
	merges    uint64
}

func newChunk(k Key) *Chunk {
	n := protocol.ChunkColumns * protocol.WorldHeight
	return &Chunk{
		Key:    k,
		names:  make([]string, n),
		stamps: make([]int64, n),
	}
}

// Block returns the block name at local (x,y,z), "air" when never written.
func (c *Chunk) Block(x, y, z int) string {
	if !inChunk(x, y, z) {
		return palette.Air.Name
	}
	if n := c.names[cellIndex(x, y, z)]; n != "" {
		return n
	}
	return palette.Air.Name
}

func (c *Chunk) Timestamp(x, y, z int) int64 {
	if !inChunk(x, y, z) {
		return 0
	}
	return c.stamps[cellIndex(x, y, z)]
}

// Biome returns biome[x][z] and whether any merge carried biome data.
func (c *Chunk) Biome(x, z int) (int, bool) {
	if x < 0 || x >= protocol.ChunkSize || z < 0 || z >= protocol.ChunkSize {
		return 0, false
	}
	return c.biome[x][z], c.hasBiome
}

func (c *Chunk) UpdatedAt() int64 { return c.updatedAt }

func (c *Chunk) Merges() uint64 { return c.merges }

func inChunk(x, y, z int) bool {
	return x >= 0 && x < protocol.ChunkSize && z >= 0 && z < protocol.ChunkSize &&
		y >= protocol.MinY && y <= protocol.MaxY
}

type MergeResult struct {
	Key     Key
	Created bool
	Cells   int
	// Columns has bit ColumnIndex(x,z) set for every column whose block names or biome
	// the update changed. Rewriting a cell with the name it already holds sets nothing.
	Columns *bitset.BitSet
}

// Changed reports whether the merge altered anything a tile is drawn from.
func (r MergeResult) Changed() bool {
	return r.Created || r.Columns.Any()
}

type Store struct {
	mu     sync.RWMutex
	chunks map[Key]*Chunk
}

func New() *Store {
	return &Store{chunks: map[Key]*Chunk{}}
}

// Merge writes every cell of u's Y range into the chunk at (u.X,u.Z), creating it if
// needed. Cells outside the range are untouched. Later merges win cell by cell.
func (s *Store) Merge(u *protocol.ChunkUpdate) (MergeResult, error) {
	if err := u.Validate(); err != nil {
		return MergeResult{}, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	k := KeyOf(u)
	dec := palette.NewDecoder(u.Palette)
	res := MergeResult{Key: k, Columns: bitset.New(protocol.ChunkColumns)}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[k]
	if !ok {
		c = newChunk(k)
		s.chunks[k] = c
		res.Created = true
	}

	for x := 0; x < protocol.ChunkSize; x++ {
		for z := 0; z < protocol.ChunkSize; z++ {
			col := u.Blocks[protocol.ColumnIndex(x, z)]
			changed := false
			for i, idx := range col {
				y := u.YStart + i
				name := dec.Decode(idx).Name
				if c.Block(x, y, z) != name {
					changed = true
				}
				ci := cellIndex(x, y, z)
				c.names[ci] = name
				c.stamps[ci] = u.Timestamp
			}
			res.Cells += len(col)
			if changed {
				res.Columns.Set(uint(protocol.ColumnIndex(x, z)))
			}
		}
	}
	if u.HasBiome() {
		for x := 0; x < protocol.ChunkSize; x++ {
			for z := 0; z < protocol.ChunkSize; z++ {
				if !c.hasBiome || c.biome[x][z] != u.Biome[x][z] {
					res.Columns.Set(uint(protocol.ColumnIndex(x, z)))
				}
				c.biome[x][z] = u.Biome[x][z]
			}
		}
		c.hasBiome = true
	}
	if u.Timestamp > c.updatedAt {
		c.updatedAt = u.Timestamp
	}
	c.merges++
	return res, nil
}

// WithChunk runs fn with read access to the chunk at k. fn must not retain c.
func (s *Store) WithChunk(k Key, fn func(c *Chunk)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[k]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChunk, k)
	}
	fn(c)
	return nil
}

func (s *Store) Has(k Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chunks[k]
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Keys returns known chunk keys ordered by x then z.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	out := make([]Key, 0, len(s.chunks))
	for k := range s.chunks {
		out = append(out, k)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Z < out[j].Z
	})
	return out
}

func (s *Store) Block(k Key, x, y, z int) (string, error) {
	var name string
	err := s.WithChunk(k, func(c *Chunk) { name = c.Block(x, y, z) })
	return name, err
}

func (s *Store) Timestamp(k Key, x, y, z int) (int64, error) {
	var ts int64
	err := s.WithChunk(k, func(c *Chunk) { ts = c.Timestamp(x, y, z) })
	return ts, err
}

func (s *Store) Biome(k Key, x, z int) (int, bool, error) {
	var (
		b  int
		ok bool
	)
	err := s.WithChunk(k, func(c *Chunk) { b, ok = c.Biome(x, z) })
	return b, ok, err
}

// Slice re-encodes the stored chunk at k as a ChunkUpdate for y in [lo,hi], clamped to
// the world height.
func (s *Store) Slice(k Key, lo, hi int) (*protocol.ChunkUpdate, error) {
	if lo < protocol.MinY {
		lo = protocol.MinY
	}
	if hi > protocol.MaxY {
		hi = protocol.MaxY
	}
	if lo > hi {
		return nil, fmt.Errorf("%w: empty y range [%d,%d]", ErrInvalidUpdate, lo, hi)
	}

	var out *protocol.ChunkUpdate
	err := s.WithChunk(k, func(c *Chunk) {
		enc := palette.NewEncoder()
		blocks := make([][]int, protocol.ChunkColumns)
		for x := 0; x < protocol.ChunkSize; x++ {
			for z := 0; z < protocol.ChunkSize; z++ {
				col := make([]int, 0, hi-lo+1)
				for y := lo; y <= hi; y++ {
					col = append(col, enc.Encode(palette.Key{Name: c.Block(x, y, z)}))
				}
				blocks[protocol.ColumnIndex(x, z)] = col
			}
		}
		out = &protocol.ChunkUpdate{
			X:         k.X,
			Z:         k.Z,
			YStart:    lo,
			YEnd:      hi,
			Palette:   enc.Entries(),
			Blocks:    blocks,
			Timestamp: c.updatedAt,
		}
		if c.hasBiome {
			out.Biome = make([][]int, protocol.ChunkSize)
			for x := 0; x < protocol.ChunkSize; x++ {
				out.Biome[x] = append([]int(nil), c.biome[x][:]...)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
