package worldgen

import (
	"errors"
	"testing"

	"voxelstream.ai/internal/palette"
	"voxelstream.ai/internal/sampler"
)

func TestWorld_Deterministic(t *testing.T) {
	a := New(Config{Seed: 1337})
	b := New(Config{Seed: 1337})
	for _, p := range [][3]int{{0, 64, 0}, {-17, 60, 33}, {100, 10, -5}, {5, 0, 5}} {
		if a.Block(p[0], p[1], p[2]) != b.Block(p[0], p[1], p[2]) {
			t.Fatalf("block at %v differs between identical seeds", p)
		}
	}
}

func TestWorld_ColumnStructure(t *testing.T) {
	w := New(Config{Seed: 7})
	col, err := w.Column(-2, 3)
	if err != nil {
		t.Fatalf("Column: %v", err)
	}
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			if got := col.Block(x, 0, z); got != Bedrock {
				t.Fatalf("y=0 at %d,%d: %v", x, z, got)
			}
			if got := col.Block(x, 255, z); got != palette.Air {
				t.Fatalf("y=255 at %d,%d: %v", x, z, got)
			}
			wx, wz := -2*16+x, 3*16+z
			h := w.Height(wx, wz)
			if got := col.Block(x, h, z); got == palette.Air || got == Water {
				t.Fatalf("surface at %d,%d (h=%d) is %v", x, z, h, got)
			}
			if col.Block(x, h, z) != w.Block(wx, h, wz) {
				t.Fatalf("column and world disagree at %d,%d", x, z)
			}
		}
	}
}

func TestWorld_Boundary(t *testing.T) {
	w := New(Config{Seed: 1, BoundaryR: 32})
	if _, err := w.Column(0, 0); err != nil {
		t.Fatalf("inside boundary: %v", err)
	}
	if _, err := w.Column(10, 0); !errors.Is(err, sampler.ErrColumnMissing) {
		t.Fatalf("outside boundary: %v", err)
	}
}
