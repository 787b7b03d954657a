// Package sampler extracts palette-encoded vertical slabs of chunks around an observer.
package sampler

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"voxelstream.ai/internal/palette"
	"voxelstream.ai/internal/protocol"
)

// ErrColumnMissing is returned by a Source when the chunk column is not loaded.
var ErrColumnMissing = errors.New("column not loaded")

// Column reads one loaded chunk column in local coordinates.
type Column interface {
	Block(lx, y, lz int) palette.Key
	Biome(lx, lz int) int
}

// Source is the world geometry the sampler reads from.
type Source interface {
	Column(cx, cz int) (Column, error)
}

type Sampler struct {
	src      Source
	halfSpan int
	log      *log.Logger

	now func() time.Time
}

func New(src Source, halfSpan int, logger *log.Logger) *Sampler {
	if halfSpan < 0 {
		halfSpan = 0
	}
	return &Sampler{
		src:      src,
		halfSpan: halfSpan,
		log:      logger,
		now:      time.Now,
	}
}

// YRange returns the vertical span sampled for an observer at height y, clamped to the
// world height.
func YRange(y float64, halfSpan int) (lo, hi int) {
	center := int(math.Floor(y))
	lo = center - halfSpan
	hi = center + halfSpan
	if lo < protocol.MinY {
		lo = protocol.MinY
	}
	if hi > protocol.MaxY {
		hi = protocol.MaxY
	}
	if lo > protocol.MaxY {
		lo = protocol.MaxY
	}
	if hi < protocol.MinY {
		hi = protocol.MinY
	}
	return lo, hi
}

// Priority is the horizontal distance in blocks from the chunk origin to the observer.
// Lower is sent sooner.
func Priority(cx, cz int, pos protocol.Position) float64 {
	dx := float64(cx*protocol.ChunkSize) - pos.X
	dz := float64(cz*protocol.ChunkSize) - pos.Z
	return math.Sqrt(dx*dx + dz*dz)
}

// Sample encodes the slab of chunk (cx,cz) around observerY. Any failure, including a
// panic inside the source, yields ok=false; the caller skips the chunk for this tick.
func (s *Sampler) Sample(cx, cz int, observerY float64) (u *protocol.ChunkUpdate, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.printf("sample chunk=%d,%d panic: %v", cx, cz, r)
			u, ok = nil, false
		}
	}()

	u, err := s.sample(cx, cz, observerY)
	if err != nil {
		s.printf("sample chunk=%d,%d: %v", cx, cz, err)
		return nil, false
	}
	return u, true
}

func (s *Sampler) sample(cx, cz int, observerY float64) (*protocol.ChunkUpdate, error) {
	col, err := s.src.Column(cx, cz)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, ErrColumnMissing
	}
	if cx < math.MinInt32 || cx > math.MaxInt32 || cz < math.MinInt32 || cz > math.MaxInt32 {
		return nil, fmt.Errorf("chunk coordinate out of range")
	}

	lo, hi := YRange(observerY, s.halfSpan)
	enc := palette.NewEncoder()
	blocks := make([][]int, 0, protocol.ChunkColumns)
	biome := make([][]int, protocol.ChunkSize)

	for x := 0; x < protocol.ChunkSize; x++ {
		row := make([]int, protocol.ChunkSize)
		for z := 0; z < protocol.ChunkSize; z++ {
			row[z] = col.Biome(x, z)

			cells := make([]int, 0, hi-lo+1)
			for y := lo; y <= hi; y++ {
				cells = append(cells, enc.Encode(col.Block(x, y, z)))
			}
			blocks = append(blocks, cells)
		}
		biome[x] = row
	}

	return &protocol.ChunkUpdate{
		X:         int32(cx),
		Z:         int32(cz),
		YStart:    lo,
		YEnd:      hi,
		Palette:   enc.Entries(),
		Blocks:    blocks,
		Biome:     biome,
		Timestamp: s.now().UnixMilli(),
	}, nil
}

func (s *Sampler) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
