package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbeoliero/convo/event"
	"github.com/mbeoliero/convo/internal/config"
	"github.com/mbeoliero/convo/pkg/jwt"
)

const testSecret = "server-test-secret"

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{Secret: testSecret, ExpireHours: 1},
		WebSocket: config.WebSocketConfig{
			MaxConnNum:       64,
			MaxMessageSize:   4096,
			WriteWait:        time.Second,
			PongWait:         5 * time.Second,
			PingPeriod:       4 * time.Second,
			WriteChannelSize: 32,
		},
	}
}

// startServer brings up a room server behind httptest and returns the
// ws endpoint URL.
func startServer(t *testing.T, room *Room) string {
	return startServerWithConfig(t, testConfig(), room)
}

func startServerWithConfig(t *testing.T, cfg *config.Config, room *Room) string {
	t.Helper()

	srv := NewServer(cfg, room)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Run(ctx)

	ts := httptest.NewServer(srv.WSHandler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

// dialAs connects and completes the auth handshake for userId.
func dialAs(t *testing.T, url, userId string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	token, err := jwt.GenerateToken(userId, testSecret, time.Hour)
	require.NoError(t, err)
	writeEvent(t, conn, &event.AuthEvent{Token: token})

	// The presence broadcast fires once the hub has registered the
	// connection; waiting for it makes later broadcasts deterministic.
	expectEvent(t, conn, func(ev event.Event) bool {
		p, ok := ev.(*event.PresenceEvent)
		return ok && p.UserId == userId && p.Online
	})
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, ev event.Outbound) {
	t.Helper()
	data, err := event.Encode(ev)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// expectEvent reads frames until one satisfies match, skipping unrelated
// traffic such as presence broadcasts.
func expectEvent(t *testing.T, conn *websocket.Conn, match func(event.Event) bool) event.Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "connection dropped while waiting for event")

		ev, err := event.Decode(data)
		require.NoError(t, err)
		if match(ev) {
			return ev
		}
	}
	t.Fatal("expected event not received")
	return nil
}

func isMessage(ev event.Event) bool {
	_, ok := ev.(*event.MessageEvent)
	return ok
}

func TestServer_Handshake(t *testing.T) {
	url := startServer(t, testRoom(t))

	expectClosed := func(t *testing.T, conn *websocket.Conn) {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := conn.ReadMessage()
		require.Error(t, err, "the server must close unauthenticated connections")
	}

	t.Run("BadTokenRejected", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
		writeEvent(t, conn, &event.AuthEvent{Token: "garbage"})
		expectClosed(t, conn)
	})

	t.Run("UnknownUserRejected", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
		token, err := jwt.GenerateToken("mallory", testSecret, time.Hour)
		require.NoError(t, err)
		writeEvent(t, conn, &event.AuthEvent{Token: token})
		expectClosed(t, conn)
	})

	t.Run("TrafficBeforeAuthRejected", func(t *testing.T) {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()
		writeEvent(t, conn, &event.TypingBroadcast{IsTyping: true})
		expectClosed(t, conn)
	})
}

func TestServer_SendEchoReachesEveryone(t *testing.T) {
	room := testRoom(t)
	url := startServer(t, room)

	alice := dialAs(t, url, "alice")
	bob := dialAs(t, url, "bob")

	writeEvent(t, alice, &event.SendMessageEvent{ClientMsgId: "local-1", Content: "hello room"})

	echo := expectEvent(t, alice, isMessage).(*event.MessageEvent)
	assert.Equal(t, "local-1", echo.Message.ClientMsgId, "the sender's echo carries the client id for reconciliation")
	assert.NotEmpty(t, echo.Message.Id)
	assert.Equal(t, "alice", echo.Message.SenderId)

	got := expectEvent(t, bob, isMessage).(*event.MessageEvent)
	assert.Equal(t, echo.Message.Id, got.Message.Id)
	assert.Equal(t, "hello room", got.Message.Content)

	// A transport-level resend of the same client id re-echoes the
	// stored message instead of minting a duplicate.
	writeEvent(t, alice, &event.SendMessageEvent{ClientMsgId: "local-1", Content: "hello room"})
	again := expectEvent(t, alice, isMessage).(*event.MessageEvent)
	assert.Equal(t, echo.Message.Id, again.Message.Id)
}

func TestServer_TypingExcludesSender(t *testing.T) {
	room := testRoom(t)
	url := startServer(t, room)

	alice := dialAs(t, url, "alice")
	bob := dialAs(t, url, "bob")

	writeEvent(t, bob, &event.TypingBroadcast{IsTyping: true})
	typing := expectEvent(t, alice, func(ev event.Event) bool {
		_, ok := ev.(*event.TypingEvent)
		return ok
	}).(*event.TypingEvent)
	assert.Equal(t, "bob", typing.UserId)
	assert.True(t, typing.IsTyping)

	// Bob never sees his own indicator: his next frame is the message
	// echo, not the typing event.
	writeEvent(t, bob, &event.SendMessageEvent{ClientMsgId: "local-2", Content: "done typing"})
	ev := expectEvent(t, bob, func(ev event.Event) bool {
		_, isTyping := ev.(*event.TypingEvent)
		require.False(t, isTyping, "typing broadcasts must not loop back to the sender")
		return isMessage(ev)
	})
	assert.Equal(t, "local-2", ev.(*event.MessageEvent).Message.ClientMsgId)
}

func TestServer_ReadReceiptAndDelete(t *testing.T) {
	room := testRoom(t)
	url := startServer(t, room)

	alice := dialAs(t, url, "alice")
	bob := dialAs(t, url, "bob")

	writeEvent(t, alice, &event.SendMessageEvent{ClientMsgId: "local-3", Content: "read me"})
	msg := expectEvent(t, bob, isMessage).(*event.MessageEvent).Message
	expectEvent(t, alice, isMessage)

	writeEvent(t, bob, &event.ReadReceiptAck{MessageId: msg.Id})
	receipt := expectEvent(t, alice, func(ev event.Event) bool {
		_, ok := ev.(*event.ReadReceiptEvent)
		return ok
	}).(*event.ReadReceiptEvent)
	assert.Equal(t, "bob", receipt.UserId)
	assert.Equal(t, msg.Id, receipt.MessageId)

	// A repeat receipt changes nothing and is not re-broadcast; the
	// deletion that follows is the next thing alice sees.
	writeEvent(t, bob, &event.ReadReceiptAck{MessageId: msg.Id})
	writeEvent(t, alice, &event.DeleteMessageEvent{MessageId: msg.Id})

	deleted := expectEvent(t, bob, func(ev event.Event) bool {
		_, isReceipt := ev.(*event.ReadReceiptEvent)
		require.False(t, isReceipt, "unchanged receipts must not be re-broadcast")
		_, ok := ev.(*event.MessageDeletedEvent)
		return ok
	}).(*event.MessageDeletedEvent)
	assert.Equal(t, msg.Id, deleted.MessageId)
}

func TestServer_PresenceFollowsConnections(t *testing.T) {
	room := testRoom(t)
	url := startServer(t, room)

	alice := dialAs(t, url, "alice")

	bob := dialAs(t, url, "bob")
	online := expectEvent(t, alice, func(ev event.Event) bool {
		p, ok := ev.(*event.PresenceEvent)
		return ok && p.UserId == "bob"
	}).(*event.PresenceEvent)
	assert.True(t, online.Online)

	bob.Close()
	offline := expectEvent(t, alice, func(ev event.Event) bool {
		p, ok := ev.(*event.PresenceEvent)
		return ok && p.UserId == "bob" && !p.Online
	}).(*event.PresenceEvent)
	assert.False(t, offline.Online)
}

func TestServer_ConnectionCapRefusesExcess(t *testing.T) {
	cfg := testConfig()
	cfg.WebSocket.MaxConnNum = 1
	url := startServerWithConfig(t, cfg, testRoom(t))

	// dialAs waits for the presence broadcast, so the hub has counted
	// the first connection before the second dial arrives.
	dialAs(t, url, "alice")

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err, "a connection past the cap is refused before the upgrade")
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
