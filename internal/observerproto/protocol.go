package observerproto

import "voxelstream.ai/internal/protocol"

// Version is the viewer protocol version (separate from the producer protocol).
const Version = "1.0"

// Message types on the viewer connection (/v1/observer/ws).
const (
	TypeRequestChunks   = "request-chunks"
	TypeChunkData       = "chunk-data"
	TypeGetCachedChunks = "get-cached-chunks"
	TypeChunkUpdate     = "chunk-update"
	TypeError           = "error"
)

type ChunkCoord struct {
	X int32 `json:"x"`
	Z int32 `json:"z"`
}

// Client -> Server. Legacy 3D viewer: fetch y-range slices of merged chunks.
type RequestChunksMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version,omitempty"`
	ReqID           string       `json:"req_id,omitempty"`
	Chunks          []ChunkCoord `json:"chunks"`
	YRange          *[2]int      `json:"yRange,omitempty"`
}

// Server -> Client. Response to request-chunks; chunks that are not known are omitted.
type ChunkDataMsg struct {
	Type            string                 `json:"type"`
	ProtocolVersion string                 `json:"protocol_version"`
	ReqID           string                 `json:"req_id,omitempty"`
	Chunks          []protocol.ChunkUpdate `json:"chunks"`
}

// Client -> Server, and the matching response. The response carries the known chunk
// coordinates as a JSON-encoded array string.
type GetCachedChunksMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
	Chunks          string `json:"chunks,omitempty"`
}

// Server -> Client. Sent for every re-rendered tile, and as backfill on connect.
type ChunkUpdateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	X               int32  `json:"x"`
	Z               int32  `json:"z"`
	URL             string `json:"url"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewChunkUpdate(x, z int32, url string) ChunkUpdateMsg {
	return ChunkUpdateMsg{
		Type:            TypeChunkUpdate,
		ProtocolVersion: Version,
		X:               x,
		Z:               z,
		URL:             url,
	}
}
