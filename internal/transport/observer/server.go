package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/mapserver"
	"voxelstream.ai/internal/observerproto"
	"voxelstream.ai/internal/protocol"
)

type Config struct {
	// OutQueue buffers request replies per viewer.
	OutQueue int
	// MaxRequestChunks caps one request-chunks message.
	MaxRequestChunks int
}

// Server serves map viewers: a backfill of every cached tile on connect, live
// chunk-update notifications, and on-demand chunk queries.
type Server struct {
	p   *mapserver.Pipeline
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader
	viewers  atomic.Int64
}

func NewServer(p *mapserver.Pipeline, cfg Config, logger *log.Logger) *Server {
	if cfg.OutQueue <= 0 {
		cfg.OutQueue = 64
	}
	if cfg.MaxRequestChunks <= 0 {
		cfg.MaxRequestChunks = 256
	}
	return &Server{
		p:   p,
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Viewers() int64 { return s.viewers.Load() }

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(1 << 20)

		s.viewers.Add(1)
		defer s.viewers.Add(-1)

		sub := s.p.Hub.Join()
		defer s.p.Hub.Leave(sub.ID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		replies := make(chan []byte, s.cfg.OutQueue)
		writeErr := make(chan error, 1)
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case note, ok := <-sub.C:
					if !ok {
						writeErr <- nil
						return
					}
					b, _ = json.Marshal(note)
				case b = <-replies:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					writeErr <- err
					return
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			resp := s.handle(msg)
			if resp == nil {
				continue
			}
			b, err := json.Marshal(resp)
			if err != nil {
				continue
			}
			select {
			case replies <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// handle answers one viewer message. A nil result means no reply.
func (s *Server) handle(msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorMsg("", protocol.ErrProtoBadRequest, "malformed message")
	}
	switch base.Type {
	case observerproto.TypeRequestChunks:
		var req observerproto.RequestChunksMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			return errorMsg("", protocol.ErrProtoBadRequest, "bad request-chunks")
		}
		if len(req.Chunks) > s.cfg.MaxRequestChunks {
			return errorMsg(req.ReqID, protocol.ErrBusy, fmt.Sprintf("at most %d chunks per request", s.cfg.MaxRequestChunks))
		}
		return observerproto.ChunkDataMsg{
			Type:            observerproto.TypeChunkData,
			ProtocolVersion: observerproto.Version,
			ReqID:           req.ReqID,
			Chunks:          s.p.RequestChunks(req.Chunks, req.YRange),
		}

	case observerproto.TypeGetCachedChunks:
		var req observerproto.GetCachedChunksMsg
		_ = json.Unmarshal(msg, &req)
		list, err := json.Marshal(s.p.CachedChunks())
		if err != nil {
			return errorMsg(req.ReqID, protocol.ErrInternal, "encode cached chunks")
		}
		return observerproto.GetCachedChunksMsg{
			Type:            observerproto.TypeGetCachedChunks,
			ProtocolVersion: observerproto.Version,
			ReqID:           req.ReqID,
			Chunks:          string(list),
		}
	}
	return errorMsg("", protocol.ErrUnknownType, "unknown type "+base.Type)
}

func errorMsg(reqID, code, message string) observerproto.ErrorMsg {
	return observerproto.ErrorMsg{
		Type:            observerproto.TypeError,
		ProtocolVersion: observerproto.Version,
		ReqID:           reqID,
		Code:            code,
		Message:         message,
	}
}

// IsLoopbackRemote reports whether remoteAddr is a loopback peer.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
