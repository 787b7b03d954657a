// Package catalogs loads the block and biome colour tables used by the tile renderer.
package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	BlockColorsFile = "block_colors.json"
	BiomeColorsFile = "biome_colors.json"
)

// DefaultBackground is used when a tile's biome has no colour.
var DefaultBackground = color.RGBA{R: 0x6b, G: 0x8e, B: 0x23, A: 0xff}

type Catalogs struct {
	Blocks BlockColors
	Biomes BiomeColors
}

type BlockColors struct {
	ByName map[string]color.RGBA
	Digest string
}

type BiomeColors struct {
	ByID       map[int]color.RGBA
	Background color.RGBA
	Digest     string
}

func (c *Catalogs) Block(name string) (color.RGBA, bool) {
	rgba, ok := c.Blocks.ByName[name]
	return rgba, ok
}

// Biome returns the colour for id, falling back to the background.
func (c *Catalogs) Biome(id int) color.RGBA {
	if rgba, ok := c.Biomes.ByID[id]; ok {
		return rgba
	}
	return c.Biomes.Background
}

// Load reads the colour files from configDir. A missing file keeps the built-in table;
// an unreadable or malformed one is an error. Entries in a file extend and override the
// defaults.
func Load(configDir string) (*Catalogs, error) {
	c := Defaults()
	if configDir == "" {
		return c, nil
	}
	if err := loadBlocks(filepath.Join(configDir, BlockColorsFile), &c.Blocks); err != nil {
		return nil, err
	}
	if err := loadBiomes(filepath.Join(configDir, BiomeColorsFile), &c.Biomes); err != nil {
		return nil, err
	}
	return c, nil
}

func Defaults() *Catalogs {
	c := &Catalogs{
		Blocks: BlockColors{ByName: map[string]color.RGBA{}},
		Biomes: BiomeColors{ByID: map[int]color.RGBA{}, Background: DefaultBackground},
	}
	for name, h := range defaultBlocks {
		c.Blocks.ByName[name] = mustHex(h)
	}
	for id, h := range defaultBiomes {
		c.Biomes.ByID[id] = mustHex(h)
	}
	c.Blocks.Digest = digestBlocks(c.Blocks.ByName)
	c.Biomes.Digest = digestBiomes(c.Biomes.ByID)
	return c
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(path string, out *BlockColors) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("%s: %w", BlockColorsFile, err)
	}
	for name, h := range m {
		if name == "" {
			return fmt.Errorf("%s: empty block name", BlockColorsFile)
		}
		rgba, err := ParseHex(h)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", BlockColorsFile, name, err)
		}
		out.ByName[name] = rgba
	}
	out.Digest = digestBlocks(out.ByName)
	return nil
}

func loadBiomes(path string, out *BiomeColors) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("%s: %w", BiomeColorsFile, err)
	}
	for k, h := range m {
		rgba, err := ParseHex(h)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", BiomeColorsFile, k, err)
		}
		if k == "default" {
			out.Background = rgba
			continue
		}
		id, err := strconv.Atoi(k)
		if err != nil {
			return fmt.Errorf("%s: biome id %q: %w", BiomeColorsFile, k, err)
		}
		out.ByID[id] = rgba
	}
	out.Digest = digestBiomes(out.ByID)
	return nil
}

// ParseHex parses "#rrggbb" or "#rrggbbaa".
func ParseHex(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 && len(s) != 8 {
		return color.RGBA{}, fmt.Errorf("bad colour %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("bad colour %q", s)
	}
	if len(s) == 6 {
		v = v<<8 | 0xff
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func FormatHex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func mustHex(s string) color.RGBA {
	c, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Digests are over the canonical sorted form so that the same table always hashes the
// same regardless of file formatting.
func digestBlocks(m map[string]color.RGBA) string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	pairs := make([][2]string, 0, len(names))
	for _, n := range names {
		pairs = append(pairs, [2]string{n, FormatHex(m[n])})
	}
	b, _ := json.Marshal(pairs)
	return sha256Hex(b)
}

func digestBiomes(m map[int]color.RGBA) string {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	pairs := make([][2]any, 0, len(ids))
	for _, id := range ids {
		pairs = append(pairs, [2]any{id, FormatHex(m[id])})
	}
	b, _ := json.Marshal(pairs)
	return sha256Hex(b)
}
