package server

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"
)

// client is one authenticated connection. A dedicated write loop is the
// only goroutine touching the underlying conn for writes; pings go
// through it too.
type client struct {
	srv    *Server
	conn   *websocket.Conn
	userId string
	connId string

	writeCh chan []byte
	closed  atomic.Bool
	done    chan struct{}
}

func newClient(srv *Server, conn *websocket.Conn, userId, connId string) *client {
	return &client{
		srv:     srv,
		conn:    conn,
		userId:  userId,
		connId:  connId,
		writeCh: make(chan []byte, srv.cfg.WebSocket.WriteChannelSize),
		done:    make(chan struct{}),
	}
}

// start runs the read and write loops. The read loop owns teardown.
func (c *client) start() {
	go c.writeLoop()
	go c.readLoop()
}

func (c *client) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(c.srv.cfg.WebSocket.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.WebSocket.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.WebSocket.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("read ended: user_id=%s, conn_id=%s, error=%v", c.userId, c.connId, err)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.srv.cfg.WebSocket.PongWait))
		c.srv.handleFrame(c, data)
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(c.srv.cfg.WebSocket.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.writeCh:
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WebSocket.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("write failed: user_id=%s, conn_id=%s, error=%v", c.userId, c.connId, err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WebSocket.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Write queues a payload, reporting false when the connection is closed
// or its write channel is full.
func (c *client) Write(data []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.writeCh <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.conn.Close()
	c.srv.hub.Unregister(c)
}
