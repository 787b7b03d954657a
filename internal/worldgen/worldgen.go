// Package worldgen is a deterministic voxel world used as the streamer's geometry source
// when no game client is attached.
package worldgen

import (
	"voxelstream.ai/internal/palette"
	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/sampler"
)

// Biome ids follow the game's numeric ids.
const (
	BiomeOcean  = 0
	BiomePlains = 1
	BiomeDesert = 2
	BiomeForest = 4
)

var (
	Air        = palette.Key{Name: "air"}
	Bedrock    = palette.Key{Name: "bedrock"}
	Stone      = palette.Key{Name: "stone"}
	Dirt       = palette.Key{Name: "dirt"}
	Grass      = palette.Key{Name: "grass_block"}
	Sand       = palette.Key{Name: "sand"}
	Sandstone  = palette.Key{Name: "sandstone"}
	Gravel     = palette.Key{Name: "gravel"}
	Water      = palette.Key{Name: "water"}
	CoalOre    = palette.Key{Name: "coal_ore"}
	IronOre    = palette.Key{Name: "iron_ore"}
	OakLog     = palette.Key{Name: "oak_log"}
	OakLeaves  = palette.Key{Name: "oak_leaves"}
	TallGrass  = palette.Key{Name: "grass", Metadata: 1}
	DeadBush   = palette.Key{Name: "dead_bush"}
	SnowyStone = palette.Key{Name: "snow_block"}
)

type Config struct {
	Seed            int64
	SeaLevel        int // default 62
	BaseHeight      int // default 64
	Amplitude       int // default 14
	BiomeRegionSize int // blocks, default 64
	BoundaryR       int // blocks; 0 = unbounded
}

type World struct {
	cfg Config
}

func New(cfg Config) *World {
	if cfg.SeaLevel <= 0 {
		cfg.SeaLevel = 62
	}
	if cfg.BaseHeight <= 0 {
		cfg.BaseHeight = 64
	}
	if cfg.Amplitude <= 0 {
		cfg.Amplitude = 14
	}
	if cfg.BiomeRegionSize <= 0 {
		cfg.BiomeRegionSize = 64
	}
	return &World{cfg: cfg}
}

func (w *World) Config() Config { return w.cfg }

// Column implements sampler.Source.
func (w *World) Column(cx, cz int) (sampler.Column, error) {
	if w.cfg.BoundaryR > 0 {
		r := w.cfg.BoundaryR
		x0, z0 := cx*protocol.ChunkSize, cz*protocol.ChunkSize
		if x0+protocol.ChunkSize <= -r || x0 > r || z0+protocol.ChunkSize <= -r || z0 > r {
			return nil, sampler.ErrColumnMissing
		}
	}
	c := &column{w: w, cx: cx, cz: cz}
	for x := 0; x < protocol.ChunkSize; x++ {
		for z := 0; z < protocol.ChunkSize; z++ {
			wx, wz := cx*protocol.ChunkSize+x, cz*protocol.ChunkSize+z
			c.height[x][z] = w.Height(wx, wz)
			c.biome[x][z] = w.Biome(wx, wz)
		}
	}
	return c, nil
}

// Height is the y of the topmost solid block at (wx,wz).
func (w *World) Height(wx, wz int) int {
	const cell = 16
	gx, gz := floorDiv(wx, cell), floorDiv(wz, cell)
	fx := float64(mod(wx, cell)) / cell
	fz := float64(mod(wz, cell)) / cell

	corner := func(x, z int) float64 {
		return float64(hash2(w.cfg.Seed, x, z)%1000) / 1000
	}
	top := lerp(corner(gx, gz), corner(gx+1, gz), fx)
	bot := lerp(corner(gx, gz+1), corner(gx+1, gz+1), fx)
	n := lerp(top, bot, fz)

	h := w.cfg.BaseHeight + int((n-0.5)*2*float64(w.cfg.Amplitude))
	if h < 1 {
		h = 1
	}
	if h > protocol.MaxY-8 {
		h = protocol.MaxY - 8
	}
	return h
}

func (w *World) Biome(wx, wz int) int {
	if w.Height(wx, wz) < w.cfg.SeaLevel-2 {
		return BiomeOcean
	}
	rs := w.cfg.BiomeRegionSize
	return biomeFrom(hash2(w.cfg.Seed^0x5bd1e995, floorDiv(wx, rs), floorDiv(wz, rs)))
}

// Block returns the block at world coordinates.
func (w *World) Block(wx, y, wz int) palette.Key {
	return w.block(wx, y, wz, w.Height(wx, wz), w.Biome(wx, wz))
}

func (w *World) block(wx, y, wz, h, biome int) palette.Key {
	switch {
	case y < protocol.MinY || y > protocol.MaxY:
		return Air
	case y == 0:
		return Bedrock
	case y < h-3:
		roll := hash3(w.cfg.Seed, wx, y, wz) % 1000
		switch {
		case roll < 8 && y < 40:
			return IronOre
		case roll < 20:
			return CoalOre
		case roll < 30:
			return Gravel
		}
		return Stone
	case y < h:
		if biome == BiomeDesert {
			return Sandstone
		}
		if biome == BiomeOcean {
			return Sand
		}
		return Dirt
	case y == h:
		switch biome {
		case BiomeDesert, BiomeOcean:
			return Sand
		}
		if h > w.cfg.BaseHeight+w.cfg.Amplitude-2 {
			return SnowyStone
		}
		if h < w.cfg.SeaLevel {
			return Dirt
		}
		return Grass
	case y <= w.cfg.SeaLevel:
		return Water
	}
	return w.decoration(wx, y, wz, h, biome)
}

// decoration places trees and plants above the surface.
func (w *World) decoration(wx, y, wz, h, biome int) palette.Key {
	if h < w.cfg.SeaLevel {
		return Air
	}
	roll := hash2(w.cfg.Seed^0x27d4eb2f, wx, wz) % 1000
	switch biome {
	case BiomeForest:
		if roll < 25 && y <= h+4 {
			return OakLog
		}
		if roll < 25 && y == h+5 {
			return OakLeaves
		}
		if roll < 250 && y == h+1 {
			return TallGrass
		}
	case BiomePlains:
		if roll < 120 && y == h+1 {
			return TallGrass
		}
	case BiomeDesert:
		if roll < 10 && y == h+1 {
			return DeadBush
		}
	}
	return Air
}

type column struct {
	w      *World
	cx, cz int
	height [protocol.ChunkSize][protocol.ChunkSize]int
	biome  [protocol.ChunkSize][protocol.ChunkSize]int
}

func (c *column) Block(lx, y, lz int) palette.Key {
	wx, wz := c.cx*protocol.ChunkSize+lx, c.cz*protocol.ChunkSize+lz
	return c.w.block(wx, y, wz, c.height[lx][lz], c.biome[lx][lz])
}

func (c *column) Biome(lx, lz int) int { return c.biome[lx][lz] }

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func floorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	v := uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9)
	return mix64(v)
}

func biomeFrom(noise uint64) int {
	// 3-way split.
	switch noise % 3 {
	case 0:
		return BiomePlains
	case 1:
		return BiomeForest
	default:
		return BiomeDesert
	}
}
