// Package mapserver ties the server components together: merge store, renderer, tile
// cache, fan-out hub and the optional persistence sinks.
package mapserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voxelstream.ai/internal/fanout"
	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/render"
	"voxelstream.ai/internal/tilecache"
	"voxelstream.ai/internal/worldstore"
)

type Config struct {
	Renderer *render.Renderer
	Logger   *log.Logger

	BatchSinks []BatchSink
	TileSinks  []TileSink

	// HubQueue is the per-viewer notification buffer.
	HubQueue int
}

// Pipeline is the server's single context object. Every producer connection feeds the
// same Pipeline and every viewer reads from it.
type Pipeline struct {
	Store *worldstore.Store
	Cache *tilecache.Cache
	Hub   *fanout.Hub

	renderer   *render.Renderer
	log        *log.Logger
	batchSinks []BatchSink
	tileSinks  []TileSink

	// applyMu keeps merge, render and cache put of one batch together so a tile never
	// lands in the cache behind a render of older state.
	applyMu sync.Mutex

	batchesAccepted atomic.Uint64
	batchesRejected atomic.Uint64
	chunksMerged    atomic.Uint64
	chunksInvalid   atomic.Uint64
	cellsMerged     atomic.Uint64
	tilesRendered   atomic.Uint64
	renderFailures  atomic.Uint64

	now func() time.Time
}

func New(cfg Config) *Pipeline {
	if cfg.Renderer == nil {
		cfg.Renderer = render.New(nil)
	}
	cache := tilecache.New()
	return &Pipeline{
		Store:      worldstore.New(),
		Cache:      cache,
		Hub:        fanout.New(cache, cfg.HubQueue),
		renderer:   cfg.Renderer,
		log:        cfg.Logger,
		batchSinks: cfg.BatchSinks,
		tileSinks:  cfg.TileSinks,
		now:        time.Now,
	}
}

// AddBatchSink and AddTileSink register sinks; call before serving.
func (p *Pipeline) AddBatchSink(s BatchSink) { p.batchSinks = append(p.batchSinks, s) }
func (p *Pipeline) AddTileSink(s TileSink)   { p.tileSinks = append(p.tileSinks, s) }

type BatchResult struct {
	BatchID      string
	Chunks       int
	Merged       int
	Rendered     int
	RenderFailed int
	Tiles        []tilecache.Key
}

// HandleWorldUpdate applies one producer batch. A batch that fails to decode is rejected
// whole and returns an error wrapping protocol.ErrMalformedBatch. Render failures are
// isolated to their chunk and counted in the result.
func (p *Pipeline) HandleWorldUpdate(ctx context.Context, source string, batch protocol.CompressedBatch) (BatchResult, error) {
	res := BatchResult{BatchID: uuid.NewString()}
	rec := BatchRecord{
		BatchID:    res.BatchID,
		Source:     source,
		ReceivedAt: p.now().UnixMilli(),
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	env, err := protocol.DecompressBatch(batch)
	if err != nil {
		p.batchesRejected.Add(1)
		rec.Rejected = true
		rec.Error = err.Error()
		p.writeBatch(rec)
		p.printf("batch %s from %s rejected: %v", res.BatchID, source, err)
		return res, err
	}
	res.Chunks = len(env.Chunks)
	rec.GameVersion = env.Version
	rec.Position = env.Position
	rec.Chunks = len(env.Chunks)

	p.applyMu.Lock()
	affected := make([]worldstore.Key, 0, len(env.Chunks))
	seen := make(map[worldstore.Key]bool, len(env.Chunks))
	for i := range env.Chunks {
		u := &env.Chunks[i]
		mr, err := p.Store.Merge(u)
		if err != nil {
			p.chunksInvalid.Add(1)
			p.printf("batch %s chunk %d,%d: %v", res.BatchID, u.X, u.Z, err)
			continue
		}
		res.Merged++
		p.chunksMerged.Add(1)
		p.cellsMerged.Add(uint64(mr.Cells))
		rec.Merges = append(rec.Merges, MergeRecord{
			X: u.X, Z: u.Z, YStart: u.YStart, YEnd: u.YEnd,
			Cells: mr.Cells, Columns: int(mr.Columns.Count()), Created: mr.Created,
			Timestamp: u.Timestamp,
		})
		// A tile is drawn from names and biome only, so an unchanged chunk keeps its tile.
		if !mr.Changed() {
			if _, cached := p.Cache.Get(tilecache.Key{X: mr.Key.X, Z: mr.Key.Z}); cached {
				continue
			}
		}
		if !seen[mr.Key] {
			seen[mr.Key] = true
			affected = append(affected, mr.Key)
		}
	}

	var out []*tilecache.Entry
	for _, k := range affected {
		body, err := p.renderOne(k)
		if err != nil {
			res.RenderFailed++
			p.renderFailures.Add(1)
			p.printf("render %s: %v", k, err)
			continue
		}
		e := p.Hub.Commit(tilecache.Key{X: k.X, Z: k.Z}, body, render.ContentType)
		res.Rendered++
		res.Tiles = append(res.Tiles, e.Key)
		p.tilesRendered.Add(1)
		out = append(out, e)
	}
	p.applyMu.Unlock()

	p.batchesAccepted.Add(1)
	p.writeBatch(rec)
	for _, e := range out {
		p.tileRendered(e)
	}
	return res, nil
}

func (p *Pipeline) renderOne(k worldstore.Key) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			body, err = nil, fmt.Errorf("render panic: %v", r)
		}
	}()
	return p.renderer.Render(p.Store, k)
}

func (p *Pipeline) writeBatch(rec BatchRecord) {
	for _, s := range p.batchSinks {
		if err := s.WriteBatch(rec); err != nil {
			p.printf("batch sink: %v", err)
		}
	}
}

func (p *Pipeline) tileRendered(e *tilecache.Entry) {
	if len(p.tileSinks) == 0 {
		return
	}
	rec := TileRecord{
		X: e.Key.X, Z: e.Key.Z,
		Version:    e.Version,
		ETag:       e.ETag,
		Bytes:      len(e.Body),
		RenderedAt: e.RenderedAt.UnixMilli(),
	}
	for _, s := range p.tileSinks {
		s.TileRendered(rec, e.Body)
	}
}

// RequestChunks returns merged chunk slices for coords. Unknown chunks are omitted. A nil
// yRange means the full world height.
func (p *Pipeline) RequestChunks(coords []observerproto.ChunkCoord, yRange *[2]int) []protocol.ChunkUpdate {
	lo, hi := protocol.MinY, protocol.MaxY
	if yRange != nil {
		lo, hi = yRange[0], yRange[1]
	}
	out := make([]protocol.ChunkUpdate, 0, len(coords))
	for _, c := range coords {
		u, err := p.Store.Slice(worldstore.Key{X: c.X, Z: c.Z}, lo, hi)
		if err != nil {
			if !errors.Is(err, worldstore.ErrUnknownChunk) {
				p.printf("request chunk %d,%d: %v", c.X, c.Z, err)
			}
			continue
		}
		out = append(out, *u)
	}
	return out
}

// CachedChunks lists every chunk with a rendered tile.
func (p *Pipeline) CachedChunks() []observerproto.ChunkCoord {
	keys := p.Cache.Keys()
	out := make([]observerproto.ChunkCoord, 0, len(keys))
	for _, k := range keys {
		out = append(out, observerproto.ChunkCoord{X: k.X, Z: k.Z})
	}
	return out
}

type Metrics struct {
	BatchesAccepted uint64
	BatchesRejected uint64
	ChunksMerged    uint64
	ChunksInvalid   uint64
	CellsMerged     uint64
	TilesRendered   uint64
	RenderFailures  uint64
	StoreChunks     int
	CacheTiles      int
	CacheBytes      int64
	Hub             fanout.Stats
}

func (p *Pipeline) Metrics() Metrics {
	return Metrics{
		BatchesAccepted: p.batchesAccepted.Load(),
		BatchesRejected: p.batchesRejected.Load(),
		ChunksMerged:    p.chunksMerged.Load(),
		ChunksInvalid:   p.chunksInvalid.Load(),
		CellsMerged:     p.cellsMerged.Load(),
		TilesRendered:   p.tilesRendered.Load(),
		RenderFailures:  p.renderFailures.Load(),
		StoreChunks:     p.Store.Len(),
		CacheTiles:      p.Cache.Len(),
		CacheBytes:      p.Cache.Bytes(),
		Hub:             p.Hub.Stats(),
	}
}

func (p *Pipeline) printf(format string, args ...any) {
	if p.log != nil {
		p.log.Printf(format, args...)
	}
}
