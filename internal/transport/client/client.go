// Package client is the streamer's connection to the map server's producer endpoint.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/outbound"
	"voxelstream.ai/internal/protocol"
)

type Config struct {
	URL         string
	ClientName  string
	GameVersion string
	// ReconnectMin and ReconnectMax bound the redial backoff used by Run.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Client implements outbound.Transport over one websocket at a time.
type Client struct {
	cfg Config
	log *log.Logger

	dialer *websocket.Dialer

	mu        sync.Mutex // guards conn and writes
	conn      *websocket.Conn
	sessionID string

	connected atomic.Bool
	serverErr atomic.Uint64
	lastErr   atomic.Value // string
}

func New(cfg Config, logger *log.Logger) *Client {
	if cfg.ClientName == "" {
		cfg.ClientName = "voxelstream-streamer"
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 15 * time.Second
	}
	return &Client{
		cfg: cfg,
		log: logger,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  10 * time.Second,
			EnableCompression: false,
		},
	}
}

func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ServerErrors counts error messages received from the server.
func (c *Client) ServerErrors() uint64 { return c.serverErr.Load() }

func (c *Client) LastServerError() string {
	if v, ok := c.lastErr.Load().(string); ok {
		return v
	}
	return ""
}

// Dial connects and completes the hello/welcome exchange.
func (c *Client) Dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      c.cfg.ClientName,
		GameVersion:     c.cfg.GameVersion,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("read welcome: %w", err)
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("read welcome: %w", err)
	}
	if base.Type != protocol.TypeWelcome {
		_ = conn.Close()
		var e protocol.ErrorMsg
		if base.Type == protocol.TypeError && json.Unmarshal(msg, &e) == nil {
			return fmt.Errorf("server refused hello: %s %s", e.Code, e.Message)
		}
		return fmt.Errorf("expected welcome, got %q", base.Type)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(msg, &welcome); err != nil {
		_ = conn.Close()
		return fmt.Errorf("decode welcome: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.sessionID = welcome.SessionID
	c.mu.Unlock()
	c.connected.Store(true)

	go c.readLoop(conn)
	c.printf("connected session=%s", welcome.SessionID)
	return nil
}

// readLoop drains server messages. Only error messages are expected.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn, err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeError {
			continue
		}
		var e protocol.ErrorMsg
		if json.Unmarshal(msg, &e) == nil {
			c.serverErr.Add(1)
			c.lastErr.Store(e.Code + ": " + e.Message)
			c.printf("server error %s: %s", e.Code, e.Message)
		}
	}
}

// drop marks conn dead if it is still the current connection.
func (c *Client) drop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.connected.Store(false)
	c.printf("disconnected: %v", cause)
}

// SendChunkData implements outbound.Transport. Errors caused by a dead connection wrap
// outbound.ErrDisconnected.
func (c *Client) SendChunkData(ctx context.Context, batch protocol.CompressedBatch) error {
	msg := protocol.ChunkDataMsg{
		Type:            protocol.TypeChunkData,
		ProtocolVersion: protocol.Version,
		CompressedBatch: batch,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chunk-data: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("send chunk-data: %w", outbound.ErrDisconnected)
	}
	deadline := time.Now().Add(10 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	err = conn.WriteMessage(websocket.TextMessage, b)
	c.mu.Unlock()

	if err != nil {
		c.drop(conn, err)
		return fmt.Errorf("send chunk-data: %w: %v", outbound.ErrDisconnected, err)
	}
	return nil
}

// Run keeps the connection up until ctx is done, redialing with exponential backoff.
func (c *Client) Run(ctx context.Context) {
	backoff := c.cfg.ReconnectMin
	for {
		if !c.Connected() {
			if err := c.Dial(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.printf("%v; retry in %s", err, backoff)
				if !sleep(ctx, backoff) {
					return
				}
				backoff *= 2
				if backoff > c.cfg.ReconnectMax {
					backoff = c.cfg.ReconnectMax
				}
				continue
			}
			backoff = c.cfg.ReconnectMin
		}
		if !sleep(ctx, 250*time.Millisecond) {
			return
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected.Store(false)
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Client) printf(format string, args ...any) {
	if c.log != nil {
		c.log.Printf(format, args...)
	}
}
