package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/mapserver"
	"voxelstream.ai/internal/protocol"
)

const DefaultMaxMessageBytes = 16 << 20

// Applier applies one producer batch; *mapserver.Pipeline implements it.
type Applier interface {
	HandleWorldUpdate(ctx context.Context, source string, batch protocol.CompressedBatch) (mapserver.BatchResult, error)
}

// Server accepts producer connections. Each connection handles its batches in arrival
// order on its own goroutine.
type Server struct {
	app Applier
	log *log.Logger

	upgrader websocket.Upgrader
	maxBytes int64

	connected atomic.Int64
	received  atomic.Uint64
	rejected  atomic.Uint64
}

func NewServer(app Applier, maxMessageBytes int64, logger *log.Logger) *Server {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}
	return &Server{
		app:      app,
		log:      logger,
		maxBytes: maxMessageBytes,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

type Stats struct {
	Connected int64
	Received  uint64
	Rejected  uint64
}

func (s *Server) Stats() Stats {
	return Stats{
		Connected: s.connected.Load(),
		Received:  s.received.Load(),
		Rejected:  s.rejected.Load(),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(s.maxBytes)

		sessionID, hello := s.handshake(conn)
		if sessionID == "" {
			return
		}
		s.connected.Add(1)
		defer s.connected.Add(-1)
		s.printf("producer %s connected client=%q game=%q remote=%s", sessionID, hello.ClientName, hello.GameVersion, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, 16)
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

	read:
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				s.reply(out, protocol.NewError(protocol.ErrProtoBadRequest, "malformed message"))
				continue
			}
			if base.ProtocolVersion != "" && base.ProtocolVersion != protocol.Version {
				s.reply(out, protocol.NewError(protocol.ErrProtoVersion, "unsupported protocol_version"))
				continue
			}
			switch base.Type {
			case protocol.TypeChunkData:
				var cd protocol.ChunkDataMsg
				if err := json.Unmarshal(msg, &cd); err != nil {
					s.rejected.Add(1)
					s.reply(out, protocol.NewError(protocol.ErrBadBatch, "malformed chunk-data"))
					continue
				}
				s.received.Add(1)
				if _, err := s.app.HandleWorldUpdate(ctx, sessionID, cd.CompressedBatch); err != nil {
					if errors.Is(err, context.Canceled) {
						break read
					}
					s.rejected.Add(1)
					code := protocol.ErrInternal
					if errors.Is(err, protocol.ErrMalformedBatch) {
						code = protocol.ErrBadBatch
					}
					s.reply(out, protocol.NewError(code, err.Error()))
				}
			case protocol.TypeHello:
				s.reply(out, protocol.NewError(protocol.ErrProtoBadRequest, "already greeted"))
			default:
				s.reply(out, protocol.NewError(protocol.ErrUnknownType, "unknown type "+base.Type))
			}
		}

		cancel()
		<-writerDone
		s.printf("producer %s disconnected", sessionID)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (string, protocol.HelloMsg) {
	var hello protocol.HelloMsg
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", hello
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, protocol.NewError(protocol.ErrProtoBadRequest, "expected hello"))
		return "", hello
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, protocol.NewError(protocol.ErrProtoBadRequest, "bad hello"))
		return "", hello
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, protocol.NewError(protocol.ErrProtoVersion, "bad protocol_version"))
		return "", hello
	}
	if hello.ClientName == "" {
		hello.ClientName = "streamer"
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", hello
	}
	return welcome.SessionID, hello
}

// reply queues v without blocking the reader; a client that does not read its errors
// loses them.
func (s *Server) reply(out chan<- []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, e protocol.ErrorMsg) {
	_ = writeJSON(conn, e)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, e.Message), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
