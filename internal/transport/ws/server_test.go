package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/mapserver"
	"voxelstream.ai/internal/palette"
	"voxelstream.ai/internal/protocol"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn, v any) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		t.Fatalf("decode %s: %v", msg, err)
	}
	if v != nil {
		if err := json.Unmarshal(msg, v); err != nil {
			t.Fatalf("unmarshal %s: %v", msg, err)
		}
	}
	return base.Type
}

func greet(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}
	var w protocol.WelcomeMsg
	if typ := readType(t, conn, &w); typ != protocol.TypeWelcome {
		t.Fatalf("type=%q want welcome", typ)
	}
	return w
}

func TestServer_HandshakeAssignsSession(t *testing.T) {
	s := NewServer(mapserver.New(mapserver.Config{}), 0, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	a := greet(t, dial(t, srv))
	b := greet(t, dial(t, srv))
	if a.SessionID == "" || a.SessionID == b.SessionID {
		t.Fatalf("session ids %q %q", a.SessionID, b.SessionID)
	}
	if a.ProtocolVersion != protocol.Version {
		t.Fatalf("protocol_version=%q", a.ProtocolVersion)
	}
}

func TestServer_RejectsMissingHello(t *testing.T) {
	srv := httptest.NewServer(NewServer(mapserver.New(mapserver.Config{}), 0, nil).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	if err := conn.WriteJSON(map[string]any{"type": protocol.TypeChunkData, "protocol_version": protocol.Version}); err != nil {
		t.Fatal(err)
	}
	var e protocol.ErrorMsg
	if typ := readType(t, conn, &e); typ != protocol.TypeError || e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("got type=%q code=%q", typ, e.Code)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("connection stayed open after bad hello")
	}
}

func TestServer_RejectsWrongVersion(t *testing.T) {
	srv := httptest.NewServer(NewServer(mapserver.New(mapserver.Config{}), 0, nil).Handler())
	defer srv.Close()

	conn := dial(t, srv)
	_ = conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1"})
	var e protocol.ErrorMsg
	if typ := readType(t, conn, &e); typ != protocol.TypeError || e.Code != protocol.ErrProtoVersion {
		t.Fatalf("got type=%q code=%q", typ, e.Code)
	}
}

func TestServer_BatchErrorsKeepConnection(t *testing.T) {
	p := mapserver.New(mapserver.Config{})
	s := NewServer(p, 0, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn := dial(t, srv)
	greet(t, conn)

	bad := protocol.ChunkDataMsg{
		Type:            protocol.TypeChunkData,
		ProtocolVersion: protocol.Version,
		CompressedBatch: protocol.CompressedBatch{Compressed: true, Format: protocol.FormatGzip, Data: "AAAA"},
	}
	_ = conn.WriteJSON(bad)
	var e protocol.ErrorMsg
	if typ := readType(t, conn, &e); typ != protocol.TypeError || e.Code != protocol.ErrBadBatch {
		t.Fatalf("got type=%q code=%q", typ, e.Code)
	}

	_ = conn.WriteJSON(map[string]string{"type": "teleport", "protocol_version": protocol.Version})
	if typ := readType(t, conn, &e); typ != protocol.TypeError || e.Code != protocol.ErrUnknownType {
		t.Fatalf("got type=%q code=%q", typ, e.Code)
	}

	// The connection still accepts a good batch afterwards.
	blocks := make([][]int, protocol.ChunkColumns)
	for i := range blocks {
		blocks[i] = []int{0}
	}
	good, err := protocol.CompressBatch(protocol.Envelope{Chunks: []protocol.ChunkUpdate{{
		X: 1, Z: 2, YStart: 5, YEnd: 5,
		Palette: []palette.Entry{{Key: palette.Key{Name: "dirt"}, Index: 0}},
		Blocks:  blocks,
	}}})
	if err != nil {
		t.Fatal(err)
	}
	_ = conn.WriteJSON(protocol.ChunkDataMsg{Type: protocol.TypeChunkData, ProtocolVersion: protocol.Version, CompressedBatch: good})

	deadline := time.Now().Add(3 * time.Second)
	for p.Store.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if p.Store.Len() != 1 {
		t.Fatalf("store len=%d", p.Store.Len())
	}
	st := s.Stats()
	if st.Received != 2 || st.Rejected != 1 {
		t.Fatalf("stats=%+v", st)
	}
}
