package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"

	"github.com/mbeoliero/convo/entity"
	"github.com/mbeoliero/convo/event"
	"github.com/mbeoliero/convo/internal/config"
	"github.com/mbeoliero/convo/pkg/jwt"
)

var errNotAuthenticated = errors.New("connection not authenticated")

// Server is the development backend for one conversation: a REST surface
// for the request/response operations and a realtime fan-out over
// WebSocket. State lives in memory only.
type Server struct {
	cfg      *config.Config
	room     *Room
	hub      *Hub
	upgrader websocket.Upgrader
}

// NewServer creates a server around one room.
func NewServer(cfg *config.Config, room *Room) *Server {
	s := &Server{
		cfg:  cfg,
		room: room,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.hub = NewHub(s.presenceChanged)
	return s
}

// Run drives the hub until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// WSHandler returns the WebSocket endpoint handler.
func (s *Server) WSHandler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

// handleWS upgrades the connection and waits for the auth frame. No
// application traffic is accepted before a valid token arrives, and
// connections past the configured cap are refused before the upgrade.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub.ConnCount() >= s.cfg.WebSocket.MaxConnNum {
		http.Error(w, "connection limit exceeded", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed: %v", err)
		return
	}

	conn.SetReadLimit(s.cfg.WebSocket.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.WebSocket.PongWait))

	userId, err := s.awaitAuth(conn)
	if err != nil {
		log.Debug("handshake rejected: %v", err)
		conn.Close()
		return
	}

	c := newClient(s, conn, userId, uuid.New().String())
	s.hub.Register(c)
	c.start()
}

// awaitAuth reads the first frame and validates its token against the
// roster.
func (s *Server) awaitAuth(conn *websocket.Conn) (string, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}

	ev, err := event.DecodeClient(data)
	if err != nil {
		return "", err
	}
	auth, ok := ev.(*event.AuthEvent)
	if !ok {
		return "", errNotAuthenticated
	}

	claims, err := jwt.ParseToken(auth.Token, s.cfg.JWT.Secret)
	if err != nil {
		return "", err
	}
	if !s.room.HasUser(claims.UserId) {
		return "", errNotAuthenticated
	}
	return claims.UserId, nil
}

// handleFrame processes one authenticated client frame.
func (s *Server) handleFrame(c *client, data []byte) {
	ev, err := event.DecodeClient(data)
	if err != nil {
		log.Warn("dropping malformed frame: user_id=%s, error=%v", c.userId, err)
		return
	}

	switch e := ev.(type) {
	case *event.AuthEvent:
		// Connection is already authenticated.

	case *event.SendMessageEvent:
		msg, err := s.room.AppendMessage(c.userId, &entity.SendRequest{
			Content:     e.Content,
			ReplyTo:     e.ReplyTo,
			Attachments: e.Attachments,
		}, e.ClientMsgId)
		if err != nil {
			log.Warn("realtime send rejected: user_id=%s, error=%v", c.userId, err)
			return
		}
		// The sender gets the echo too; it carries the permanent id.
		s.broadcastEvent(&event.MessageEvent{Message: msg}, "")

	case *event.TypingBroadcast:
		s.broadcastEvent(&event.TypingEvent{UserId: c.userId, IsTyping: e.IsTyping}, c.connId)

	case *event.ReadReceiptAck:
		changed, err := s.room.MarkRead(c.userId, []string{e.MessageId})
		if err != nil || len(changed) == 0 {
			return
		}
		s.broadcastEvent(&event.ReadReceiptEvent{UserId: c.userId, MessageId: e.MessageId}, c.connId)

	case *event.DeleteMessageEvent:
		if err := s.room.DeleteMessage(c.userId, e.MessageId); err != nil {
			log.Warn("realtime delete rejected: user_id=%s, message_id=%s, error=%v", c.userId, e.MessageId, err)
			return
		}
		s.broadcastEvent(&event.MessageDeletedEvent{MessageId: e.MessageId}, "")
	}
}

// presenceChanged runs on the hub loop when a user comes online or goes
// offline.
func (s *Server) presenceChanged(userId string, online bool) {
	if !s.room.SetPresence(userId, online) {
		return
	}
	s.broadcastEvent(&event.PresenceEvent{UserId: userId, Online: online}, "")
}

// broadcastEvent encodes a server event and queues it for fan-out.
func (s *Server) broadcastEvent(ev event.Event, excludeConn string) {
	data, err := event.EncodeServer(ev)
	if err != nil {
		log.Warn("encode broadcast failed: %v", err)
		return
	}
	s.hub.Broadcast(data, excludeConn)
}

// moderationValue marshals a moderation update value.
func moderationValue(v interface{}) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
