package server

import (
	"context"
	"sync/atomic"

	"github.com/mbeoliero/kit/log"
)

// frame is one payload queued for fan-out. ExcludeConn suppresses the
// originating connection, used for typing where the sender already knows.
type frame struct {
	payload     []byte
	excludeConn string
}

// Hub owns the set of live connections for one conversation and fans
// frames out to them. Registration, unregistration and broadcast all run
// on a single event loop so the connection map needs no lock.
type Hub struct {
	clients map[string]map[string]*client // userId -> connId
	connNum atomic.Int64

	registerChan   chan *client
	unregisterChan chan *client
	broadcastChan  chan *frame

	// onPresence fires when a user's first connection arrives or last
	// connection leaves.
	onPresence func(userId string, online bool)
}

// NewHub creates a hub. onPresence may be nil.
func NewHub(onPresence func(userId string, online bool)) *Hub {
	return &Hub{
		clients:        make(map[string]map[string]*client),
		registerChan:   make(chan *client, 64),
		unregisterChan: make(chan *client, 64),
		broadcastChan:  make(chan *frame, 1024),
		onPresence:     onPresence,
	}
}

// Run drives the hub event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.registerChan:
			h.register(c)
		case c := <-h.unregisterChan:
			h.unregister(c)
		case f := <-h.broadcastChan:
			h.fanOut(f)
		}
	}
}

// Register queues a connection for registration.
func (h *Hub) Register(c *client) {
	h.registerChan <- c
}

// Unregister queues a connection for removal.
func (h *Hub) Unregister(c *client) {
	select {
	case h.unregisterChan <- c:
	default:
		log.Warn("unregister channel full: user_id=%s, conn_id=%s", c.userId, c.connId)
	}
}

// ConnCount returns the number of registered connections.
func (h *Hub) ConnCount() int64 {
	return h.connNum.Load()
}

// Broadcast queues a frame for fan-out to every connection except the
// excluded one.
func (h *Hub) Broadcast(payload []byte, excludeConn string) {
	select {
	case h.broadcastChan <- &frame{payload: payload, excludeConn: excludeConn}:
	default:
		log.Warn("broadcast channel full, frame dropped")
	}
}

func (h *Hub) register(c *client) {
	conns := h.clients[c.userId]
	first := len(conns) == 0
	if conns == nil {
		conns = make(map[string]*client)
		h.clients[c.userId] = conns
	}
	conns[c.connId] = c
	h.connNum.Add(1)

	log.Info("connection registered: user_id=%s, conn_id=%s, user_conns=%d", c.userId, c.connId, len(conns))
	if first && h.onPresence != nil {
		h.onPresence(c.userId, true)
	}
}

func (h *Hub) unregister(c *client) {
	conns := h.clients[c.userId]
	if _, ok := conns[c.connId]; !ok {
		return
	}
	delete(conns, c.connId)
	h.connNum.Add(-1)
	if len(conns) == 0 {
		delete(h.clients, c.userId)
	}

	log.Info("connection unregistered: user_id=%s, conn_id=%s, user_conns=%d", c.userId, c.connId, len(conns))
	if len(conns) == 0 && h.onPresence != nil {
		h.onPresence(c.userId, false)
	}
}

func (h *Hub) fanOut(f *frame) {
	for userId, conns := range h.clients {
		for connId, c := range conns {
			if f.excludeConn != "" && connId == f.excludeConn {
				continue
			}
			if !c.Write(f.payload) {
				log.Debug("write to slow connection dropped: user_id=%s, conn_id=%s", userId, connId)
			}
		}
	}
}
