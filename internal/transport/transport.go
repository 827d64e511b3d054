// Package transport implements the Framed Transport: a per-client binary
// WebSocket connection with liveness (ping/pong) and a bounded, non-blocking
// outbound queue so a slow reader can never stall the rest of the server.
//
// Each Conn owns exactly one writer goroutine (WritePump) and is read from
// synchronously by its caller (ReadPump), mirroring the one-reader/one-writer
// goroutine pair the rest of this codebase's WebSocket handling is built
// around.
package transport

import (
	"time"

	"github.com/gorilla/websocket"

	collaberrors "github.com/collabspace/collabd/internal/errors"
	"github.com/collabspace/collabd/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	defaultQueueCap = 256
)

// Config tunes a Conn's liveness and backpressure behaviour.
type Config struct {
	PingInterval     time.Duration
	OutboundQueueCap int
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.OutboundQueueCap <= 0 {
		c.OutboundQueueCap = defaultQueueCap
	}
	return c
}

// Conn is a framed, liveness-checked binary WebSocket connection with a
// bounded outbound queue.
type Conn struct {
	ws   *websocket.Conn
	cfg  Config
	send chan []byte
	done chan struct{}
}

// New wraps an upgraded *websocket.Conn.
func New(ws *websocket.Conn, cfg Config) *Conn {
	cfg = cfg.withDefaults()
	return &Conn{
		ws:   ws,
		cfg:  cfg,
		send: make(chan []byte, cfg.OutboundQueueCap),
		done: make(chan struct{}),
	}
}

// Enqueue attempts to queue a frame for delivery without blocking. It
// returns ErrSlowConsumer if the outbound queue is full - the caller is
// expected to close the connection on that error, never to retry or block.
func (c *Conn) Enqueue(frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	default:
		return collaberrors.SlowConsumer()
	}
}

// Close closes the underlying connection and signals WritePump to exit.
func (c *Conn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.ws.Close()
}

// WritePump is the connection's single outbound-writer goroutine: it drains
// the send queue and pings on a ticker, closing the socket on any write
// failure or ping timeout. Call it in its own goroutine; it returns when the
// connection closes.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Each frame goes out as its own binary message: the peer reads
			// one WebSocket message as exactly one frame.
			if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// ReadPump blocks reading binary frames from the connection, invoking
// onFrame for each one, until the connection closes or onFrame returns an
// error. It installs the pong handler that keeps the read deadline alive.
// Call it on the connection's dedicated reader goroutine.
func (c *Conn) ReadPump(onFrame func([]byte) error) error {
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Transport().Debug().Err(err).Msg("connection closed unexpectedly")
			}
			return err
		}
		if msgType != websocket.BinaryMessage {
			return collaberrors.Protocol("text frames are not accepted")
		}
		if err := onFrame(data); err != nil {
			return err
		}
	}
}

// CloseWithKind closes the connection using the WebSocket close code
// associated with the given error Kind.
func (c *Conn) CloseWithKind(kind collaberrors.Kind, reason string) error {
	code := kind.CloseCode()
	if code == 0 {
		code = websocket.CloseInternalServerErr
	}
	deadline := time.Now().Add(writeWait)
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	return c.Close()
}
