// Package ws is the connection transport: one gorilla WebSocket per
// client, a bounded outbound queue drained by a write pump, and a read
// loop that decodes inbound frames.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tablehub/tablehub/internal/domain/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 64 * 1024
	sendBufferSize = 256
)

var ErrClosed = errors.New("connection closed")

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Client is one live WebSocket connection.
type Client struct {
	ID string

	conn   *websocket.Conn
	send   chan protocol.Frame
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func NewClient(conn *websocket.Conn, logger zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:     id,
		conn:   conn,
		send:   make(chan protocol.Frame, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger.With().Str("conn", id).Logger(),
	}
}

// Send queues a frame without blocking. A full queue or a closed client
// drops the frame and reports false.
func (c *Client) Send(f protocol.Frame) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	default:
		c.logger.Warn().Str("type", f.Type).Msg("outbound queue full, frame dropped")
		return false
	}
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close signals the write pump to send a close frame and release the
// socket. Idempotent.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// ReadLoop decodes inbound frames and hands each to handle until the peer
// goes away or ctx ends. Malformed frames are answered with an error frame.
func (c *Client) ReadLoop(ctx context.Context, handle func(protocol.Inbound)) error {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return err
		}
		var in protocol.Inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
			c.Send(protocol.ErrorFrame("malformed frame"))
			continue
		}
		handle(in)
	}
}

// WritePump drains the outbound queue and keeps the connection alive with
// pings. It returns when the client closes or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.logger.Debug().Err(err).Str("type", f.Type).Msg("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
