package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxelstream.ai/internal/outbound"
	"voxelstream.ai/internal/sampler"
	"voxelstream.ai/internal/streamer"
	"voxelstream.ai/internal/transport/client"
	"voxelstream.ai/internal/tuning"
	"voxelstream.ai/internal/worldgen"
)

func main() {
	loadDotEnv(".env")

	var (
		url         = flag.String("url", "ws://localhost:8080/v1/ws", "map server producer ws url")
		name        = flag.String("name", "voxelstream-streamer", "client name sent in hello")
		gameVersion = flag.String("game_version", "1.12.2", "game version stamped on every batch")
		configDir   = flag.String("configs", "./configs", "config directory")
		tuningPath  = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		seed        = flag.Int64("seed", 1337, "world seed")
		boundary    = flag.Int("boundary", 0, "world boundary radius in blocks (0 = unbounded)")
		stepMS      = flag.Int("step_ms", 200, "observer step interval in milliseconds")
		speed       = flag.Float64("speed", 2, "observer speed in blocks per step")
	)
	flag.Parse()

	logger := newLogger("[streamer] ")

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	st := tune.Streamer

	world := worldgen.New(worldgen.Config{Seed: *seed, BoundaryR: *boundary})
	q := outbound.NewQueue(st.MaxQueueSize)
	mgr := streamer.New(sampler.New(world, st.YRangeSpan, logger), q, streamer.Config{}, logger)

	conn := client.New(client.Config{
		URL:         *url,
		ClientName:  *name,
		GameVersion: *gameVersion,
	}, logger)
	sched := outbound.NewScheduler(q, conn, outbound.SchedulerConfig{
		MaxBatchSize: st.MaxBatchSize,
		SendInterval: st.SendInterval(),
		GameVersion:  *gameVersion,
	}, mgr.Position, logger)

	ctx, cancel := signalContext()
	defer cancel()

	go conn.Run(ctx)
	go mgr.Run(ctx)
	go sched.Run(ctx)

	logger.Printf("streaming seed=%d view_distance=%d batch=%d interval=%s queue=%d to %s",
		*seed, st.ViewDistance, st.MaxBatchSize, st.SendInterval(), st.MaxQueueSize, *url)

	wk := newWalker(world, st.ViewDistance, *speed)
	walk(ctx, wk, mgr, conn, time.Duration(*stepMS)*time.Millisecond)

	_ = conn.Close()
	qs := q.Stats()
	ms := mgr.Stats()
	logger.Printf("stopped: sampled=%d skipped=%d batches=%d send_errors=%d queue_dropped=%d queue_cleared=%d",
		ms.Sampled, ms.Skipped, sched.Batches(), sched.Errors(), qs.Dropped, qs.Cleared)
}

// walk drives the observer until ctx ends. A new session forgets the loaded set: a send
// that failed on the dropped connection cleared the queue, and a drop noticed by the read
// loop left it holding chunks the new server has never seen.
func walk(ctx context.Context, wk *walker, mgr *streamer.Manager, conn *client.Client, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	session := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if !conn.Connected() {
			continue
		}
		if id := conn.SessionID(); id != session {
			session = id
			wk.forget()
		}
		for _, ev := range wk.step() {
			if !mgr.Emit(ctx, ev) {
				return
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
