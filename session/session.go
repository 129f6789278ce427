// Package session is the reconciliation engine: it merges REST-fetched
// history, optimistic local writes and realtime events into the
// conversation state store without duplication or order inversion, and
// routes actions through the realtime channel or the request/response
// fallback depending on connection state.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbeoliero/convo/entity"
	"github.com/mbeoliero/convo/event"
	"github.com/mbeoliero/convo/pkg/errcode"
	"github.com/mbeoliero/convo/state"
	"github.com/mbeoliero/convo/transport"
	"github.com/mbeoliero/kit/log"
	"golang.org/x/time/rate"
)

// Defaults for Options zero values.
const (
	DefaultConfirmTimeout = 10 * time.Second
	DefaultReplayBuffer   = 256
	DefaultTypingTTL      = 5 * time.Second
	DefaultTypingInterval = 2 * time.Second
)

// Options configures a session.
type Options struct {
	ConversationId string
	UserId         string

	// API is the collaborator REST surface; required.
	API Collaborator
	// NewChannel builds the realtime channel. Nil means no realtime at
	// all: the session runs purely degraded.
	NewChannel ChannelFactory

	// ConfirmTimeout bounds how long an optimistic send may wait for
	// its server echo before it is rolled back as failed.
	ConfirmTimeout time.Duration
	// ReplayBuffer bounds the queue of realtime events received before
	// history seeding completes; beyond it the oldest event is dropped.
	ReplayBuffer int
	// TypingTTL is how long a typing indicator lives without renewal,
	// both for remote entries and for the local auto-stop broadcast.
	TypingTTL time.Duration
	// TypingInterval throttles outbound typing broadcasts.
	TypingInterval time.Duration

	// OnUpdate, when non-nil, is invoked after every store change so
	// the UI can re-render.
	OnUpdate func()
	// OnStateChange, when non-nil, observes connection state changes.
	OnStateChange func(transport.State)
}

func (o Options) withDefaults() Options {
	if o.ConfirmTimeout == 0 {
		o.ConfirmTimeout = DefaultConfirmTimeout
	}
	if o.ReplayBuffer == 0 {
		o.ReplayBuffer = DefaultReplayBuffer
	}
	if o.TypingTTL == 0 {
		o.TypingTTL = DefaultTypingTTL
	}
	if o.TypingInterval == 0 {
		o.TypingInterval = DefaultTypingInterval
	}
	return o
}

// Session owns the state store of one open conversation. All store
// mutations are funneled through it: realtime events arrive on the
// transport's single reader goroutine, UI-initiated actions serialize on
// the session mutex.
type Session struct {
	opts  Options
	api   Collaborator
	ch    Channel
	disp  *event.Dispatcher
	store *state.Store

	typingLimiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	seeded     bool
	replay     []event.Event
	dropped    int
	confirm    map[string]*time.Timer
	typingStop *time.Timer
	closed     bool
	unsubs     []func()
}

// Open opens a conversation: it subscribes the event handlers, opens the
// realtime channel, fetches history, seeds the store and replays any
// events that arrived during the fetch, preserving arrival order.
//
// A channel that fails to open is not fatal: the session starts in
// degraded mode and the channel keeps reconnecting on its own. A failed
// history fetch is fatal.
func Open(ctx context.Context, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	if opts.API == nil {
		return nil, errcode.ErrInvalidParam.Wrap(nil)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		opts:          opts,
		api:           opts.API,
		disp:          event.NewDispatcher(),
		store:         state.NewStore(opts.ConversationId, opts.UserId),
		typingLimiter: rate.NewLimiter(rate.Every(opts.TypingInterval), 1),
		ctx:           sctx,
		cancel:        cancel,
		confirm:       make(map[string]*time.Timer),
	}

	s.subscribe()

	if opts.NewChannel != nil {
		s.ch = opts.NewChannel(s.disp.Dispatch, s.handleState)
		if err := s.ch.Open(sctx); err != nil {
			log.CtxWarn(sctx, "realtime channel unavailable, starting degraded: conversation_id=%s, error=%v",
				opts.ConversationId, err)
		}
	}

	conv, err := s.api.FetchHistory(sctx, opts.ConversationId)
	if err != nil {
		s.teardown()
		return nil, err
	}
	s.store.Seed(conv)
	replayed := s.drainReplay(sctx)

	go s.typingSweepLoop()

	log.CtxInfo(sctx, "conversation opened: conversation_id=%s, messages=%d, replayed=%d",
		opts.ConversationId, len(conv.Messages), replayed)
	return s, nil
}

// drainReplay applies the events queued during the history fetch in
// arrival order and flips the session live. Events arriving on the
// transport goroutine while a batch applies keep queueing instead of
// applying directly; seeding completes only once the queue is observed
// empty under the lock, so no event overtakes an earlier frame.
func (s *Session) drainReplay(ctx context.Context) int {
	replayed := 0
	for {
		s.mu.Lock()
		if len(s.replay) == 0 {
			s.seeded = true
			if s.dropped > 0 {
				log.CtxWarn(ctx, "replay queue overflowed, %d event(s) dropped before seeding", s.dropped)
			}
			s.mu.Unlock()
			return replayed
		}
		batch := s.replay
		s.replay = nil
		s.mu.Unlock()

		for _, ev := range batch {
			s.apply(ev)
		}
		replayed += len(batch)
	}
}

// subscribe registers one funneling handler per inbound event type.
func (s *Session) subscribe() {
	for _, t := range []event.Type{
		event.TypeMessage,
		event.TypeTyping,
		event.TypeReadReceipt,
		event.TypeMessageDeleted,
		event.TypeModerationUpdate,
		event.TypePresence,
	} {
		s.unsubs = append(s.unsubs, s.disp.Subscribe(t, s.onEvent))
	}
}

// onEvent is the single entry point for realtime events. Before seeding
// completes events are queued for replay; afterwards they apply
// directly.
func (s *Session) onEvent(ev event.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.seeded {
		if len(s.replay) >= s.opts.ReplayBuffer {
			s.replay = s.replay[1:]
			s.dropped++
		}
		s.replay = append(s.replay, ev)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.apply(ev)
}

// apply commits one event to the store.
func (s *Session) apply(ev event.Event) {
	switch e := ev.(type) {
	case *event.MessageEvent:
		s.applyMessage(e.Message)
	case *event.TypingEvent:
		s.store.SetTyping(e.UserId, e.IsTyping, entity.NowUnixMilli()+s.opts.TypingTTL.Milliseconds())
	case *event.ReadReceiptEvent:
		s.store.MarkRead(e.UserId, e.MessageId)
	case *event.MessageDeletedEvent:
		s.store.ApplyDeletion(e.MessageId)
	case *event.ModerationUpdateEvent:
		s.applyModeration(e)
	case *event.PresenceEvent:
		s.store.SetPresence(e.UserId, e.Online)
	}
	s.notify()
}

func (s *Session) applyMessage(msg *entity.Message) {
	s.store.ApplyIncomingMessage(msg)
	// The echo of our own optimistic send settles its confirmation.
	if msg.ClientMsgId != "" {
		s.stopConfirm(msg.ClientMsgId)
	}
}

func (s *Session) applyModeration(e *event.ModerationUpdateEvent) {
	var err error
	switch e.Field {
	case event.FieldContent:
		var content string
		if content, err = e.StringValue(); err == nil {
			editedAt := e.EditedAt
			if editedAt == 0 {
				editedAt = entity.NowUnixMilli()
			}
			err = s.store.ApplyEdit(e.MessageId, content, editedAt)
		}
	case event.FieldPinned:
		var pinned bool
		if pinned, err = e.BoolValue(); err == nil {
			err = s.store.ApplyPin(e.MessageId, pinned)
		}
	case event.FieldAnnouncement:
		var announced bool
		if announced, err = e.BoolValue(); err == nil {
			err = s.store.ApplyAnnouncement(e.MessageId, announced)
		}
	case event.FieldRole:
		var role entity.Role
		if role, err = e.RoleValue(); err == nil {
			err = s.store.ApplyRoleChange(e.UserId, role)
		}
	case event.FieldRemoved:
		s.store.RemoveParticipant(e.UserId)
	case event.FieldReaction:
		var rv *event.ReactionValue
		if rv, err = e.ReactionValue(); err == nil {
			err = s.store.ApplyReaction(e.MessageId, rv.Emoji, rv.UserId, rv.Added)
		}
	default:
		log.Debug("unknown moderation field %q ignored", e.Field)
	}
	if err != nil {
		log.Warn("moderation update not applied: field=%s, message_id=%s, user_id=%s, error=%v",
			e.Field, e.MessageId, e.UserId, err)
	}
}

// handleState observes channel state. Leaving connected fails nothing by
// itself: in-flight confirmations still run out their timeout, since the
// echo may arrive after a reconnect.
func (s *Session) handleState(st transport.State) {
	log.Debug("connection state: %s", st)
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(st)
	}
	s.notify()
}

// Connected reports whether the realtime path is usable.
func (s *Session) Connected() bool {
	return s.ch != nil && s.ch.State() == transport.StateConnected
}

// ConnectionState returns the transport state, disconnected when the
// session runs without a channel.
func (s *Session) ConnectionState() transport.State {
	if s.ch == nil {
		return transport.StateDisconnected
	}
	return s.ch.State()
}

// Conversation returns a snapshot of the open conversation.
func (s *Session) Conversation() *entity.Conversation {
	return s.store.Conversation()
}

// Messages returns the ordered message list snapshot.
func (s *Session) Messages() []*entity.Message {
	return s.store.Messages()
}

// TypingUsers returns the users currently typing.
func (s *Session) TypingUsers() []string {
	return s.store.TypingUsers(entity.NowUnixMilli())
}

// Store exposes the state store for read-side consumers.
func (s *Session) Store() *state.Store {
	return s.store
}

func (s *Session) notify() {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate()
	}
}

// armConfirm schedules the rollback of an optimistic send that receives
// no confirmation within the bound.
func (s *Session) armConfirm(localId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.confirm[localId] = time.AfterFunc(s.opts.ConfirmTimeout, func() {
		s.mu.Lock()
		delete(s.confirm, localId)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		if err := s.store.RollbackSend(localId); err == nil {
			log.Warn("send not confirmed in time, rolled back: local_id=%s", localId)
			s.notify()
		}
	})
}

func (s *Session) stopConfirm(localId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.confirm[localId]; ok {
		t.Stop()
		delete(s.confirm, localId)
	}
}

// typingSweepLoop expires remote typing indicators.
func (s *Session) typingSweepLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if expired := s.store.SweepTyping(entity.NowUnixMilli()); len(expired) > 0 {
				s.notify()
			}
		}
	}
}

// Close closes the conversation: the pending history fetch and fallback
// calls are cancelled, all event subscriptions detached, the channel
// closed intentionally, and in-flight optimistic sends left failed so
// the UI can surface them if the user returns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, t := range s.confirm {
		t.Stop()
		delete(s.confirm, id)
	}
	if s.typingStop != nil {
		s.typingStop.Stop()
	}
	s.mu.Unlock()

	s.teardown()
	s.store.FailPending()
	log.Info("conversation closed: conversation_id=%s", s.opts.ConversationId)
	return nil
}

func (s *Session) teardown() {
	s.cancel()
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.disp.Reset()
	if s.ch != nil {
		s.ch.Close()
	}
}

func newLocalId() string {
	return uuid.New().String()
}
