// Package render draws top-down map tiles of stored chunks.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"voxelstream.ai/internal/catalogs"
	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/worldstore"
)

const (
	TileSize    = 256
	BlockPixels = TileSize / protocol.ChunkSize
	ContentType = "image/png"
)

var airNames = map[string]bool{
	"air":      true,
	"cave_air": true,
	"void_air": true,
}

func IsAir(name string) bool { return name == "" || airNames[name] }

// Renderer is stateless apart from its colour tables and safe for concurrent use.
type Renderer struct {
	cat *catalogs.Catalogs
	enc png.Encoder
}

func New(cat *catalogs.Catalogs) *Renderer {
	if cat == nil {
		cat = catalogs.Defaults()
	}
	return &Renderer{cat: cat, enc: png.Encoder{CompressionLevel: png.BestSpeed}}
}

// Render draws the chunk at k from s and returns the PNG bytes.
func (r *Renderer) Render(s *worldstore.Store, k worldstore.Key) ([]byte, error) {
	var img *image.RGBA
	if err := s.WithChunk(k, func(c *worldstore.Chunk) { img = r.Draw(c) }); err != nil {
		return nil, err
	}
	return r.Encode(img)
}

// Draw paints the background from biome[0][0], then fills each column's 16x16 square
// with the colour of its topmost non-air block. Columns that are all air or whose top
// block has no colour keep the background.
func (r *Renderer) Draw(c *worldstore.Chunk) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, TileSize, TileSize))

	bg := r.cat.Biomes.Background
	if id, ok := c.Biome(0, 0); ok {
		bg = r.cat.Biome(id)
	}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	for x := 0; x < protocol.ChunkSize; x++ {
		for z := 0; z < protocol.ChunkSize; z++ {
			name, ok := TopBlock(c, x, z)
			if !ok {
				continue
			}
			col, ok := r.cat.Block(name)
			if !ok {
				continue
			}
			rect := image.Rect(x*BlockPixels, z*BlockPixels, (x+1)*BlockPixels, (z+1)*BlockPixels)
			draw.Draw(img, rect, &image.Uniform{C: col}, image.Point{}, draw.Src)
		}
	}
	return img
}

func (r *Renderer) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// TopBlock scans y from the top of the world down.
func TopBlock(c *worldstore.Chunk, x, z int) (string, bool) {
	for y := protocol.MaxY; y >= protocol.MinY; y-- {
		if n := c.Block(x, y, z); !IsAir(n) {
			return n, true
		}
	}
	return "", false
}

// Pixel reports the colour at the centre of column (x,z) of a decoded tile.
func Pixel(img image.Image, x, z int) color.RGBA {
	px := x*BlockPixels + BlockPixels/2
	pz := z*BlockPixels + BlockPixels/2
	return color.RGBAModel.Convert(img.At(px, pz)).(color.RGBA)
}
