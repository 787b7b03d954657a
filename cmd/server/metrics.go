package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"voxelstream.ai/internal/mapserver"
	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/persistence/r2s3"
	"voxelstream.ai/internal/transport/observer"
	"voxelstream.ai/internal/transport/ws"
	"voxelstream.ai/internal/tuning"
)

func (rt *serverRuntime) metricsHandler(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	// Minimal Prometheus exposition format.
	m := rt.pipeline.Metrics()
	counter(rw, "voxelstream_batches_accepted_total", "Producer batches decoded and merged.", m.BatchesAccepted)
	counter(rw, "voxelstream_batches_rejected_total", "Producer batches rejected whole.", m.BatchesRejected)
	counter(rw, "voxelstream_chunks_merged_total", "Chunk updates merged into the store.", m.ChunksMerged)
	counter(rw, "voxelstream_chunks_invalid_total", "Chunk updates skipped as invalid.", m.ChunksInvalid)
	counter(rw, "voxelstream_cells_merged_total", "Block cells written by merges.", m.CellsMerged)
	counter(rw, "voxelstream_tiles_rendered_total", "Tiles rendered and cached.", m.TilesRendered)
	counter(rw, "voxelstream_render_failures_total", "Chunk renders that failed.", m.RenderFailures)
	gauge(rw, "voxelstream_store_chunks", "Chunks held in the merged store.", m.StoreChunks)
	gauge(rw, "voxelstream_cache_tiles", "Tiles held in the cache.", m.CacheTiles)
	gauge(rw, "voxelstream_cache_bytes", "Encoded tile bytes held in the cache.", m.CacheBytes)

	gauge(rw, "voxelstream_viewers", "Connected map viewers.", m.Hub.Subscribers)
	counter(rw, "voxelstream_updates_published_total", "chunk-update notifications published.", m.Hub.Published)
	counter(rw, "voxelstream_updates_dropped_total", "chunk-update notifications dropped for slow viewers.", m.Hub.Dropped)

	ps := rt.producer.Stats()
	gauge(rw, "voxelstream_producers", "Connected producers.", ps.Connected)
	counter(rw, "voxelstream_producer_messages_total", "chunk-data messages received.", ps.Received)
	counter(rw, "voxelstream_producer_rejected_total", "chunk-data messages answered with an error.", ps.Rejected)

	if rt.journal != nil {
		counter(rw, "voxelstream_journal_lines_total", "Batch records appended to the merge journal.", rt.journal.Lines())
	}
	if rt.ledger != nil {
		s := rt.ledger.Stats()
		gauge(rw, "voxelstream_ledger_queue_depth", "Ledger write queue depth.", s.QueueDepth)
		counter(rw, "voxelstream_ledger_dropped_total", "Ledger records dropped on a full queue.", s.DropBatchTotal+s.DropTileTotal)
		counter(rw, "voxelstream_ledger_write_fail_total", "Ledger write failures.", s.WriteFailTotal)
	}
	writeR2MirrorMetrics(rw, rt.mirror)
}

func writeR2MirrorMetrics(w io.Writer, mirror *r2s3.Mirror) {
	if mirror == nil {
		return
	}
	s := mirror.Stats()
	gauge(w, "voxelstream_r2_mirror_queue_depth", "Current R2 mirror queue depth.", s.QueueDepth)
	gauge(w, "voxelstream_r2_mirror_queue_capacity", "R2 mirror queue capacity.", s.QueueCapacity)
	counter(w, "voxelstream_r2_mirror_enqueued_total", "Total mirror enqueue attempts.", s.EnqueuedTotal)
	counter(w, "voxelstream_r2_mirror_queue_saturated_total", "Total enqueue attempts when queue was saturated.", s.QueueSaturatedTotal)
	counter(w, "voxelstream_r2_mirror_dropped_total", "Total tiles dropped because queue remained saturated.", s.DroppedTotal)
	counter(w, "voxelstream_r2_mirror_upload_success_total", "Total successful mirror uploads.", s.UploadSuccessTotal)
	counter(w, "voxelstream_r2_mirror_upload_fail_total", "Total failed mirror uploads after retry.", s.UploadFailTotal)
	gauge(w, "voxelstream_r2_mirror_last_success_unix", "Unix timestamp of last successful mirror upload.", s.LastSuccessUnix)
	gauge(w, "voxelstream_r2_mirror_last_error_unix", "Unix timestamp of last failed mirror upload.", s.LastErrorUnix)
}

func counter[T int | int64 | uint64](w io.Writer, name, help string, v T) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
}

func gauge[T int | int64 | uint64](w io.Writer, name, help string, v T) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, v)
}

// stateHandler is local-only.
func (rt *serverRuntime) stateHandler(rw http.ResponseWriter, r *http.Request) {
	if !observer.IsLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	resp := struct {
		UptimeSec int64             `json:"uptime_sec"`
		Tuning    tuning.Tuning     `json:"tuning"`
		Pipeline  mapserver.Metrics `json:"pipeline"`
		Producers ws.Stats          `json:"producers"`
		Viewers   int64             `json:"viewers"`
		Chunks    int               `json:"cached_chunks"`
		Ledger    *indexdb.Stats    `json:"ledger,omitempty"`
		Mirror    *r2s3.Stats       `json:"mirror,omitempty"`
	}{
		UptimeSec: int64(time.Since(rt.started) / time.Second),
		Tuning:    rt.tune,
		Pipeline:  rt.pipeline.Metrics(),
		Producers: rt.producer.Stats(),
		Viewers:   rt.viewers.Viewers(),
		Chunks:    len(rt.pipeline.CachedChunks()),
	}
	if rt.ledger != nil {
		s := rt.ledger.Stats()
		resp.Ledger = &s
	}
	if rt.mirror != nil {
		s := rt.mirror.Stats()
		resp.Mirror = &s
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}
