package observer

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/mapserver"
	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/palette"
	"voxelstream.ai/internal/protocol"
)

func applyChunk(t *testing.T, p *mapserver.Pipeline, x, z int32, top string) {
	t.Helper()
	blocks := make([][]int, protocol.ChunkColumns)
	for i := range blocks {
		blocks[i] = []int{0, 1}
	}
	u := protocol.ChunkUpdate{
		X: x, Z: z, YStart: 60, YEnd: 61,
		Palette: []palette.Entry{
			{Key: palette.Key{Name: "stone"}, Index: 0},
			{Key: palette.Key{Name: top}, Index: 1},
		},
		Blocks: blocks,
	}
	b, err := protocol.CompressBatch(protocol.Envelope{Chunks: []protocol.ChunkUpdate{u}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.HandleWorldUpdate(context.Background(), "test", b); err != nil {
		t.Fatalf("HandleWorldUpdate: %v", err)
	}
}

func dialViewer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn, v any) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &base); err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	if v != nil {
		if err := json.Unmarshal(msg, v); err != nil {
			t.Fatalf("unmarshal %s: %v", msg, err)
		}
	}
	return base.Type
}

func TestObserver_BackfillThenLiveUpdates(t *testing.T) {
	p := mapserver.New(mapserver.Config{})
	applyChunk(t, p, 2, -3, "grass")

	s := NewServer(p, Config{}, nil)
	srv := httptest.NewServer(s.WSHandler())
	defer srv.Close()
	conn := dialViewer(t, srv)

	var up observerproto.ChunkUpdateMsg
	if typ := read(t, conn, &up); typ != observerproto.TypeChunkUpdate {
		t.Fatalf("type=%q want chunk-update", typ)
	}
	if up.X != 2 || up.Z != -3 || up.URL != "/tiles/2/-3.png?v=1" {
		t.Fatalf("backfill=%+v", up)
	}

	applyChunk(t, p, 2, -3, "sand")
	if typ := read(t, conn, &up); typ != observerproto.TypeChunkUpdate {
		t.Fatalf("type=%q want chunk-update", typ)
	}
	if up.URL != "/tiles/2/-3.png?v=2" {
		t.Fatalf("live update url=%q", up.URL)
	}
	if s.Viewers() != 1 {
		t.Fatalf("viewers=%d", s.Viewers())
	}
}

func TestObserver_RequestChunks(t *testing.T) {
	p := mapserver.New(mapserver.Config{})
	applyChunk(t, p, 0, 0, "grass")

	srv := httptest.NewServer(NewServer(p, Config{}, nil).WSHandler())
	defer srv.Close()
	conn := dialViewer(t, srv)
	read(t, conn, nil) // backfill

	yr := [2]int{61, 61}
	_ = conn.WriteJSON(observerproto.RequestChunksMsg{
		Type:   observerproto.TypeRequestChunks,
		ReqID:  "r7",
		Chunks: []observerproto.ChunkCoord{{X: 0, Z: 0}, {X: 9, Z: 9}},
		YRange: &yr,
	})
	var cd observerproto.ChunkDataMsg
	if typ := read(t, conn, &cd); typ != observerproto.TypeChunkData {
		t.Fatalf("type=%q want chunk-data", typ)
	}
	if cd.ReqID != "r7" || len(cd.Chunks) != 1 {
		t.Fatalf("req_id=%q chunks=%d", cd.ReqID, len(cd.Chunks))
	}
	if c := cd.Chunks[0]; c.YStart != 61 || c.YEnd != 61 {
		t.Fatalf("slice y=%d..%d", c.YStart, c.YEnd)
	}
}

func TestObserver_GetCachedChunks(t *testing.T) {
	p := mapserver.New(mapserver.Config{})
	applyChunk(t, p, 1, 1, "grass")
	applyChunk(t, p, -1, 4, "grass")

	srv := httptest.NewServer(NewServer(p, Config{}, nil).WSHandler())
	defer srv.Close()
	conn := dialViewer(t, srv)
	read(t, conn, nil)
	read(t, conn, nil)

	_ = conn.WriteJSON(observerproto.GetCachedChunksMsg{Type: observerproto.TypeGetCachedChunks, ReqID: "c1"})
	var resp observerproto.GetCachedChunksMsg
	if typ := read(t, conn, &resp); typ != observerproto.TypeGetCachedChunks {
		t.Fatalf("type=%q", typ)
	}
	var coords []observerproto.ChunkCoord
	if err := json.Unmarshal([]byte(resp.Chunks), &coords); err != nil {
		t.Fatalf("chunks is not a JSON array string: %q", resp.Chunks)
	}
	if resp.ReqID != "c1" || len(coords) != 2 {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestObserver_Errors(t *testing.T) {
	p := mapserver.New(mapserver.Config{})
	srv := httptest.NewServer(NewServer(p, Config{MaxRequestChunks: 1}, nil).WSHandler())
	defer srv.Close()
	conn := dialViewer(t, srv)

	_ = conn.WriteJSON(map[string]string{"type": "fly"})
	var e observerproto.ErrorMsg
	if typ := read(t, conn, &e); typ != observerproto.TypeError || e.Code != protocol.ErrUnknownType {
		t.Fatalf("type=%q code=%q", typ, e.Code)
	}

	_ = conn.WriteJSON(observerproto.RequestChunksMsg{
		Type:   observerproto.TypeRequestChunks,
		ReqID:  "big",
		Chunks: []observerproto.ChunkCoord{{X: 0, Z: 0}, {X: 1, Z: 0}},
	})
	if typ := read(t, conn, &e); typ != observerproto.TypeError || e.Code != protocol.ErrBusy || e.ReqID != "big" {
		t.Fatalf("type=%q err=%+v", typ, e)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.4:80":    false,
		"example:80":     false,
	}
	for in, want := range cases {
		if got := IsLoopbackRemote(in); got != want {
			t.Fatalf("IsLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}
