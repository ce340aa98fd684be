// Package ws implements the WebSocket transport and inbound message router
// (component J), grounded on the teacher's internal/handlers/game_ws.go and
// lobby_ws.go: coder/websocket transport, a buffered per-peer outgoing
// queue drained by a dedicated write pump, and non-blocking sends from the
// simulation/broadcast side.
package ws

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// writeTimeout bounds how long a single frame write may block, mirroring
// the teacher's 3s per-write deadline in createBroadcastFunc.
const writeTimeout = 3 * time.Second

// Conn wraps one accepted WebSocket connection. It implements
// session.Peer: Send is non-blocking best-effort, matching the teacher's
// LobbyConnection.Write select/default idiom.
type Conn struct {
	ws      *websocket.Conn
	outbox  chan []byte
	done    chan struct{}
	log     *logrus.Logger
	closeOnce chan struct{}
}

// NewConn wraps ws with a buffered outbox and starts its write pump.
func NewConn(wsConn *websocket.Conn, log *logrus.Logger) *Conn {
	c := &Conn{
		ws:        wsConn,
		outbox:    make(chan []byte, 32),
		done:      make(chan struct{}),
		log:       log,
		closeOnce: make(chan struct{}, 1),
	}
	go c.writePump()
	return c
}

// Send enqueues a frame for the write pump, dropping it if the outbox is
// full rather than blocking the caller (spec §5 "best-effort and
// non-blocking").
func (c *Conn) Send(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.outbox <- data:
	default:
		c.log.Warn("peer outbox full, dropping message")
	}
}

func (c *Conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outbox:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.closeInternal(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// Close closes the underlying connection with the given WebSocket close
// code and reason.
func (c *Conn) Close(code int, reason string) {
	c.closeInternal(websocket.StatusCode(code), reason)
}

func (c *Conn) closeInternal(code websocket.StatusCode, reason string) {
	select {
	case c.closeOnce <- struct{}{}:
	default:
		return
	}
	close(c.done)
	_ = c.ws.Close(code, reason)
}

// ReadLoop blocks reading text frames until the connection closes or ctx is
// cancelled, invoking handle for each decoded frame.
func (c *Conn) ReadLoop(ctx context.Context, handle func(data []byte)) {
	defer c.closeInternal(websocket.StatusNormalClosure, "")
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		handle(data)
	}
}
