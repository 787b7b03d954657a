package render

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"voxelstream.ai/internal/catalogs"
	"voxelstream.ai/internal/palette"
	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/worldstore"
)

// stoneWithWater builds a slab of stone with one water cell on top of column (3,3).
func stoneWithWater(x, z int32) *protocol.ChunkUpdate {
	pal := []palette.Entry{
		{Key: palette.Key{Name: "stone"}, Index: 0},
		{Key: palette.Key{Name: "water"}, Index: 1},
		{Key: palette.Key{Name: "air"}, Index: 2},
	}
	blocks := make([][]int, protocol.ChunkColumns)
	for i := range blocks {
		blocks[i] = []int{0, 0, 2}
	}
	blocks[protocol.ColumnIndex(3, 3)] = []int{0, 0, 1}
	biome := make([][]int, protocol.ChunkSize)
	for i := range biome {
		biome[i] = make([]int, protocol.ChunkSize)
		for j := range biome[i] {
			biome[i][j] = 1
		}
	}
	return &protocol.ChunkUpdate{
		X: x, Z: z, YStart: 60, YEnd: 62,
		Palette: pal, Blocks: blocks, Biome: biome, Timestamp: 1,
	}
}

func renderDecoded(t *testing.T, r *Renderer, s *worldstore.Store, k worldstore.Key) *bytes.Reader {
	t.Helper()
	body, err := r.Render(s, k)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return bytes.NewReader(body)
}

func TestRender_TopBlockColours(t *testing.T) {
	s := worldstore.New()
	if _, err := s.Merge(stoneWithWater(0, 0)); err != nil {
		t.Fatal(err)
	}
	cat := catalogs.Defaults()
	r := New(cat)

	img, err := png.Decode(renderDecoded(t, r, s, worldstore.Key{}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != TileSize || b.Dy() != TileSize {
		t.Fatalf("bounds=%v", b)
	}
	water, _ := cat.Block("water")
	stone, _ := cat.Block("stone")
	if got := Pixel(img, 3, 3); got != water {
		t.Fatalf("column 3,3=%v want water %v", got, water)
	}
	if got := Pixel(img, 0, 0); got != stone {
		t.Fatalf("column 0,0=%v want stone %v", got, stone)
	}
	corner := color.RGBAModel.Convert(img.At(3*BlockPixels, 4*BlockPixels-1)).(color.RGBA)
	if corner != water {
		t.Fatalf("corner of water square=%v", corner)
	}
}

func TestRender_BackgroundForAirAndUnknown(t *testing.T) {
	u := stoneWithWater(1, 1)
	u.Palette[0].Key.Name = "mystery_block"
	u.Blocks[protocol.ColumnIndex(5, 6)] = []int{2, 2, 2}

	s := worldstore.New()
	if _, err := s.Merge(u); err != nil {
		t.Fatal(err)
	}
	cat := catalogs.Defaults()
	img, err := png.Decode(renderDecoded(t, New(cat), s, worldstore.Key{X: 1, Z: 1}))
	if err != nil {
		t.Fatal(err)
	}
	plains := cat.Biome(1)
	if got := Pixel(img, 5, 6); got != plains {
		t.Fatalf("all-air column=%v want background %v", got, plains)
	}
	if got := Pixel(img, 0, 0); got != plains {
		t.Fatalf("unmapped block=%v want background %v", got, plains)
	}
}

func TestRender_Idempotent(t *testing.T) {
	s := worldstore.New()
	if _, err := s.Merge(stoneWithWater(0, 0)); err != nil {
		t.Fatal(err)
	}
	r := New(nil)
	a, err := r.Render(s, worldstore.Key{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Render(s, worldstore.Key{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("two renders of the same chunk differ")
	}
}

func TestRender_UnknownChunk(t *testing.T) {
	if _, err := New(nil).Render(worldstore.New(), worldstore.Key{X: 9}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestIsAir(t *testing.T) {
	for _, n := range []string{"", "air", "cave_air", "void_air"} {
		if !IsAir(n) {
			t.Fatalf("%q not air", n)
		}
	}
	if IsAir("water") {
		t.Fatalf("water is air")
	}
}
