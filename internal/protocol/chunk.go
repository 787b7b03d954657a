package protocol

import (
	"fmt"

	"voxelstream.ai/internal/palette"
)

const (
	ChunkSize    = 16
	ChunkColumns = ChunkSize * ChunkSize
	MinY         = 0
	MaxY         = 255
	WorldHeight  = MaxY - MinY + 1
)

// ChunkUpdate is the wire unit for one sampled vertical slab of a chunk.
//
// Blocks holds 256 columns in x-major order (index = x*16+z, local coordinates); each
// column lists palette indices for y = YStart..YEnd ascending. Biome is indexed
// Biome[x][z]; an empty Biome means the producer sent no biome data.
type ChunkUpdate struct {
	X         int32           `json:"x"`
	Z         int32           `json:"z"`
	YStart    int             `json:"yStart"`
	YEnd      int             `json:"yEnd"`
	Palette   []palette.Entry `json:"palette"`
	Blocks    [][]int         `json:"blocks"`
	Biome     [][]int         `json:"biome,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ColumnIndex maps local (x,z) to the Blocks index.
func ColumnIndex(x, z int) int { return x*ChunkSize + z }

func (u *ChunkUpdate) Span() int { return u.YEnd - u.YStart + 1 }

func (u *ChunkUpdate) HasBiome() bool { return len(u.Biome) > 0 }

// Validate checks the structural invariants of an update. It does not check palette
// indices; unknown indices decode to air.
func (u *ChunkUpdate) Validate() error {
	if u == nil {
		return fmt.Errorf("nil chunk update")
	}
	if u.YStart < MinY || u.YEnd > MaxY || u.YStart > u.YEnd {
		return fmt.Errorf("chunk %d,%d: bad y range [%d,%d]", u.X, u.Z, u.YStart, u.YEnd)
	}
	if len(u.Blocks) != ChunkColumns {
		return fmt.Errorf("chunk %d,%d: %d columns, want %d", u.X, u.Z, len(u.Blocks), ChunkColumns)
	}
	span := u.Span()
	for i, col := range u.Blocks {
		if len(col) != span {
			return fmt.Errorf("chunk %d,%d: column %d has %d cells, want %d", u.X, u.Z, i, len(col), span)
		}
	}
	if u.HasBiome() {
		if len(u.Biome) != ChunkSize {
			return fmt.Errorf("chunk %d,%d: biome has %d rows, want %d", u.X, u.Z, len(u.Biome), ChunkSize)
		}
		for x, row := range u.Biome {
			if len(row) != ChunkSize {
				return fmt.Errorf("chunk %d,%d: biome row %d has %d cells, want %d", u.X, u.Z, x, len(row), ChunkSize)
			}
		}
	}
	return nil
}
