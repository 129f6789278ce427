package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_FanOutInOrder(t *testing.T) {
	d := NewDispatcher()
	var got []string

	d.Subscribe(TypeTyping, func(ev Event) {
		got = append(got, "first:"+ev.(*TypingEvent).UserId)
	})
	d.Subscribe(TypeTyping, func(ev Event) {
		got = append(got, "second:"+ev.(*TypingEvent).UserId)
	})

	d.DispatchEvent(&TypingEvent{UserId: "alice", IsTyping: true})
	d.DispatchEvent(&TypingEvent{UserId: "bob", IsTyping: true})

	assert.Equal(t, []string{"first:alice", "second:alice", "first:bob", "second:bob"}, got)
}

func TestDispatcher_OnlyMatchingTypeDelivered(t *testing.T) {
	d := NewDispatcher()
	var typing, receipts int

	d.Subscribe(TypeTyping, func(Event) { typing++ })
	d.Subscribe(TypeReadReceipt, func(Event) { receipts++ })

	d.DispatchEvent(&TypingEvent{UserId: "alice", IsTyping: true})

	assert.Equal(t, 1, typing)
	assert.Equal(t, 0, receipts)
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	d := NewDispatcher()
	var calls int

	unsub := d.Subscribe(TypePresence, func(Event) { calls++ })

	d.DispatchEvent(&PresenceEvent{UserId: "alice", Online: true})
	unsub()
	unsub() // second call is a no-op
	d.DispatchEvent(&PresenceEvent{UserId: "alice", Online: false})

	assert.Equal(t, 1, calls)
}

func TestDispatcher_PanicIsolation(t *testing.T) {
	d := NewDispatcher()
	var delivered bool

	d.Subscribe(TypeMessage, func(Event) { panic("boom") })
	d.Subscribe(TypeMessage, func(Event) { delivered = true })

	d.DispatchEvent(&MessageEvent{Message: nil})

	assert.True(t, delivered, "a panicking handler must not block the rest")
}

func TestDispatcher_MalformedFramesDropped(t *testing.T) {
	d := NewDispatcher()
	var calls int
	d.Subscribe(TypeMessage, func(Event) { calls++ })

	d.Dispatch([]byte(`not json`))
	d.Dispatch([]byte(`{"type":"message"}`))                 // missing payload
	d.Dispatch([]byte(`{"type":"call_started","x":1}`))      // unknown type
	d.Dispatch([]byte(`{"type":"typing","user_id":"alice"}`)) // missing is_typing

	assert.Equal(t, 0, calls)
}

func TestDispatcher_UnknownTypeDoesNotStopLater(t *testing.T) {
	d := NewDispatcher()
	var users []string
	d.Subscribe(TypeTyping, func(ev Event) {
		users = append(users, ev.(*TypingEvent).UserId)
	})

	d.Dispatch([]byte(`{"type":"wiggle"}`))
	d.Dispatch([]byte(`{"type":"typing","user_id":"alice","is_typing":true}`))

	require.Equal(t, []string{"alice"}, users)
}

func TestDispatcher_SubscribeDuringDelivery(t *testing.T) {
	d := NewDispatcher()
	var lateCalls int

	d.Subscribe(TypeTyping, func(Event) {
		d.Subscribe(TypeTyping, func(Event) { lateCalls++ })
	})

	d.DispatchEvent(&TypingEvent{UserId: "alice", IsTyping: true})
	assert.Equal(t, 0, lateCalls, "a handler added mid-delivery sees only later events")

	d.DispatchEvent(&TypingEvent{UserId: "alice", IsTyping: false})
	assert.Equal(t, 1, lateCalls)
}

func TestDispatcher_Reset(t *testing.T) {
	d := NewDispatcher()
	var calls int
	d.Subscribe(TypeTyping, func(Event) { calls++ })

	d.Reset()
	d.DispatchEvent(&TypingEvent{UserId: "alice", IsTyping: true})

	assert.Equal(t, 0, calls)
}
