package mapserver

import "voxelstream.ai/internal/protocol"

// BatchRecord describes one received batch, accepted or rejected.
type BatchRecord struct {
	BatchID     string            `json:"batch_id"`
	Source      string            `json:"source"`
	ReceivedAt  int64             `json:"received_at"`
	GameVersion string            `json:"game_version,omitempty"`
	Position    protocol.Position `json:"position"`
	Chunks      int               `json:"chunks"`
	Rejected    bool              `json:"rejected,omitempty"`
	Error       string            `json:"error,omitempty"`
	Merges      []MergeRecord     `json:"merges,omitempty"`
}

type MergeRecord struct {
	X         int32 `json:"x"`
	Z         int32 `json:"z"`
	YStart    int   `json:"y_start"`
	YEnd      int   `json:"y_end"`
	Cells     int   `json:"cells"`
	Columns   int   `json:"columns"`
	Created   bool  `json:"created,omitempty"`
	Timestamp int64 `json:"timestamp"`
}

type TileRecord struct {
	X          int32  `json:"x"`
	Z          int32  `json:"z"`
	Version    uint64 `json:"version"`
	ETag       string `json:"etag"`
	Bytes      int    `json:"bytes"`
	RenderedAt int64  `json:"rendered_at"`
}

// BatchSink receives a record per batch after it has been applied. Implementations must
// not block; the merge journal and the SQLite ledger are the stock sinks.
type BatchSink interface {
	WriteBatch(BatchRecord) error
}

// TileSink receives every freshly rendered tile.
type TileSink interface {
	TileRendered(rec TileRecord, body []byte)
}
