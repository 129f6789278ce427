// Package transport owns the persistent websocket connection to one
// conversation room: connect, authenticate, send, receive and
// reconnect-with-backoff.
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbeoliero/convo/event"
	"github.com/mbeoliero/convo/pkg/errcode"
	"github.com/mbeoliero/kit/log"
)

// Defaults for Options zero values.
const (
	DefaultDialTimeout          = 10 * time.Second
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultWriteWait            = 10 * time.Second
	DefaultPongWait             = 30 * time.Second
	DefaultMaxMessageSize       = 51200
	DefaultWriteChannelSize     = 256
)

// Options configures a Channel.
type Options struct {
	// URL is the websocket endpoint of the conversation room.
	URL string
	// Token, when non-empty, is sent in an auth event before any
	// application traffic on every (re)connect.
	Token string

	DialTimeout       time.Duration
	ReconnectInterval time.Duration
	// MaxReconnectAttempts bounds automatic reconnects after a
	// non-intentional closure. Once exceeded, the channel stays
	// disconnected until a fresh Open call.
	MaxReconnectAttempts int

	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxMessageSize   int64
	WriteChannelSize int
}

func (o Options) withDefaults() Options {
	if o.DialTimeout == 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.ReconnectInterval == 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.WriteWait == 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.PongWait == 0 {
		o.PongWait = DefaultPongWait
	}
	if o.PingPeriod == 0 {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.WriteChannelSize == 0 {
		o.WriteChannelSize = DefaultWriteChannelSize
	}
	return o
}

// session is the state of one live websocket connection. A reconnect
// replaces the whole session.
type session struct {
	connId  string
	conn    *websocket.Conn
	writeCh chan []byte
	done    chan struct{}
}

// Channel is a persistent bidirectional connection to one conversation
// room. Frames read from the connection are handed to the frame sink in
// receipt order from a single reader goroutine; writes go through a
// buffered single-writer loop.
type Channel struct {
	opts    Options
	onFrame func([]byte)
	onState func(State)

	state atomic.Int32

	mu   sync.Mutex
	sess *session
	// closeCh signals intentional shutdown to the loops. Close nils it
	// and Open makes a fresh one, so a closed handle can be reopened.
	closeCh chan struct{}

	// intentional distinguishes "user left" from "link dropped", so an
	// explicit Close never triggers reconnects.
	intentional  atomic.Bool
	reconnecting atomic.Bool
}

// NewChannel creates a channel. onFrame receives every inbound frame;
// onState, when non-nil, is notified of connection state transitions.
func NewChannel(opts Options, onFrame func([]byte), onState func(State)) *Channel {
	return &Channel{
		opts:    opts.withDefaults(),
		onFrame: onFrame,
		onState: onState,
		closeCh: make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

func (c *Channel) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s && c.onState != nil {
		c.onState(s)
	}
}

// Open establishes the connection and authenticates. A failed Open
// leaves the channel disconnected; it does not start automatic retries.
func (c *Channel) Open(ctx context.Context) error {
	if c.State() != StateDisconnected {
		return errcode.ErrConnClosed.Wrap(nil)
	}
	c.intentional.Store(false)
	c.mu.Lock()
	if c.closeCh == nil {
		c.closeCh = make(chan struct{})
	}
	c.mu.Unlock()

	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

// dial runs the full open sequence: connect, authenticate, start the
// read and write loops. It is re-run on every reconnect attempt.
func (c *Channel) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return errcode.ErrNotConnected.Wrap(err)
	}

	if c.opts.Token != "" {
		data, err := event.Encode(&event.AuthEvent{Token: c.opts.Token})
		if err != nil {
			conn.Close()
			return err
		}
		conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			return errcode.ErrNotConnected.Wrap(err)
		}
	}

	sess := &session{
		connId:  uuid.New().String(),
		conn:    conn,
		writeCh: make(chan []byte, c.opts.WriteChannelSize),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	conn.SetReadLimit(c.opts.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	go c.writeLoop(sess)
	go c.readLoop(sess)

	c.setState(StateConnected)
	log.Debug("channel connected: conn_id=%s, url=%s", sess.connId, c.opts.URL)
	return nil
}

// readLoop reads frames until the connection drops and hands each one to
// the frame sink in receipt order.
func (c *Channel) readLoop(sess *session) {
	defer close(sess.done)

	for {
		sess.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			log.Debug("channel read closed: conn_id=%s, error=%v", sess.connId, err)
			c.sessionEnded(sess)
			return
		}
		c.onFrame(data)
	}
}

// writeLoop is the single writer for one connection; pings go through
// it too.
func (c *Channel) writeLoop(sess *session) {
	closeCh := c.closeSignal()
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case data := <-sess.writeCh:
			sess.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("channel write error: conn_id=%s, error=%v", sess.connId, err)
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sess.done:
			return
		case <-closeCh:
			sess.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			sess.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"))
			return
		}
	}
}

// sessionEnded handles a read-loop exit: intentional closes settle at
// disconnected, anything else schedules reconnects.
func (c *Channel) sessionEnded(sess *session) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	c.mu.Unlock()
	sess.conn.Close()

	if c.intentional.Load() {
		c.setState(StateDisconnected)
		return
	}
	go c.reconnectLoop()
}

// reconnectLoop retries the full open sequence, including
// re-authentication, at a fixed interval up to the configured bound.
// A successful reconnect resets the attempt budget: the next drop
// starts a fresh loop.
func (c *Channel) reconnectLoop() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	closeCh := c.closeSignal()
	c.setState(StateConnecting)
	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		select {
		case <-time.After(c.opts.ReconnectInterval):
		case <-closeCh:
			c.setState(StateDisconnected)
			return
		}
		if c.intentional.Load() {
			c.setState(StateDisconnected)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			log.Debug("channel reconnected after %d attempt(s)", attempt)
			return
		}
		log.Warn("reconnect attempt %d/%d failed: %v", attempt, c.opts.MaxReconnectAttempts, err)
	}

	// Bound exceeded: no further automatic retries, a fresh Open call
	// is required.
	log.Warn("reconnect attempts exhausted, channel stays disconnected")
	c.setState(StateDisconnected)
}

// Send encodes and queues an outbound event. It returns false when the
// channel is not connected or the write queue is full; callers treat
// false as "use the fallback path", not as a user-facing error.
func (c *Channel) Send(ev event.Outbound) bool {
	if c.State() != StateConnected {
		return false
	}

	data, err := event.Encode(ev)
	if err != nil {
		log.Warn("encode outbound event failed: %v", err)
		return false
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return false
	}

	select {
	case sess.writeCh <- data:
		return true
	default:
		log.Warn("channel write queue full, event dropped: type=%s", ev.OutboundType())
		return false
	}
}

// Close shuts the channel down intentionally; no reconnect is scheduled.
// A closed channel can be opened again with a fresh Open call.
func (c *Channel) Close() error {
	c.intentional.Store(true)
	if c.State() == StateConnected || c.State() == StateConnecting {
		c.setState(StateClosing)
	}

	c.mu.Lock()
	if c.closeCh != nil {
		close(c.closeCh)
		c.closeCh = nil
	}
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess != nil {
		sess.conn.Close()
	}

	c.setState(StateDisconnected)
	return nil
}

// closeSignal snapshots the current close channel; nil after a Close and
// before the next Open, which a select treats as never ready.
func (c *Channel) closeSignal() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCh
}
