package main

import (
	"math"

	"voxelstream.ai/internal/protocol"
	"voxelstream.ai/internal/streamer"
	"voxelstream.ai/internal/worldgen"
)

// walker is a synthetic observer. It walks a slow spiral over the generated world and
// reports chunks entering its view.
type walker struct {
	w            *worldgen.World
	viewDistance int
	speed        float64 // blocks per step

	pos     protocol.Position
	heading float64
	steps   int

	loaded map[[2]int]bool
}

func newWalker(w *worldgen.World, viewDistance int, speed float64) *walker {
	if speed <= 0 {
		speed = 1
	}
	wk := &walker{
		w:            w,
		viewDistance: viewDistance,
		speed:        speed,
		loaded:       map[[2]int]bool{},
	}
	wk.pos = wk.at(0.5, 0.5)
	return wk
}

// at places the observer at eye height above the terrain at (x,z).
func (wk *walker) at(x, z float64) protocol.Position {
	h := wk.w.Height(int(math.Floor(x)), int(math.Floor(z)))
	return protocol.Position{X: x, Y: float64(h) + 1.62, Z: z}
}

// step advances one step and returns the events it caused: ObserverMoved first, then a
// ChunkLoaded per newly visible chunk, nearest first.
func (wk *walker) step() []streamer.Event {
	wk.steps++
	// The heading turns a little less each step, which opens the path into a spiral.
	wk.heading += 1 / math.Sqrt(float64(wk.steps)+16)
	x := wk.pos.X + math.Cos(wk.heading)*wk.speed
	z := wk.pos.Z + math.Sin(wk.heading)*wk.speed
	wk.pos = wk.at(x, z)
	return append([]streamer.Event{streamer.ObserverMoved{Pos: wk.pos}}, wk.visible()...)
}

// visible emits ChunkLoaded for chunks that entered the view and forgets chunks that left
// it, so they load again on return.
func (wk *walker) visible() []streamer.Event {
	var out []streamer.Event
	inView := map[[2]int]bool{}
	for _, c := range streamer.ChunksInView(wk.pos, wk.viewDistance) {
		inView[c] = true
		if !wk.loaded[c] {
			wk.loaded[c] = true
			out = append(out, streamer.ChunkLoaded{CX: c[0], CZ: c[1]})
		}
	}
	for c := range wk.loaded {
		if !inView[c] {
			delete(wk.loaded, c)
		}
	}
	return out
}

// forget drops the loaded set; the next step reloads every visible chunk.
func (wk *walker) forget() {
	wk.loaded = map[[2]int]bool{}
}
