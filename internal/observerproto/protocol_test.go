package observerproto_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelstream.ai/internal/observerproto"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", name))
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}
	validate := func(s *jsonschema.Schema, msg any) {
		t.Helper()
		b, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		_ = json.Unmarshal(b, &v)
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v", b, err)
		}
	}

	validate(compile("observer_chunk_update.schema.json"), observerproto.NewChunkUpdate(-3, 7, "/tiles/-3/7.png?v=2"))

	yr := [2]int{40, 80}
	validate(compile("observer_request_chunks.schema.json"), observerproto.RequestChunksMsg{
		Type:   observerproto.TypeRequestChunks,
		ReqID:  "r1",
		Chunks: []observerproto.ChunkCoord{{X: 0, Z: 0}, {X: 1, Z: -1}},
		YRange: &yr,
	})
}

func TestRequestChunks_DecodesLegacyShape(t *testing.T) {
	var m observerproto.RequestChunksMsg
	if err := json.Unmarshal([]byte(`{"type":"request-chunks","chunks":[{"x":2,"z":-4}]}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(m.Chunks) != 1 || m.Chunks[0] != (observerproto.ChunkCoord{X: 2, Z: -4}) {
		t.Fatalf("chunks: %+v", m.Chunks)
	}
	if m.YRange != nil {
		t.Fatalf("yRange should be absent")
	}
}
